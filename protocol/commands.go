package protocol

// Command is the first byte of a client command packet sent during the
// SERVING state (spec.md §4.5).
type Command byte

const (
	ComQuit             Command = 0x01
	ComInitDB           Command = 0x02
	ComQuery            Command = 0x03
	ComFieldList        Command = 0x04
	ComCreateDB         Command = 0x05
	ComDropDB           Command = 0x06
	ComRefresh          Command = 0x07
	ComShutdown         Command = 0x08
	ComStatistics       Command = 0x09
	ComProcessInfo      Command = 0x0A
	ComConnect          Command = 0x0B
	ComKill             Command = 0x0C
	ComDebug            Command = 0x0D
	ComPing             Command = 0x0E
	ComTime             Command = 0x0F
	ComDelayedInsert    Command = 0x10
	ComChangeUser       Command = 0x11
	ComStmtPrepare      Command = 0x16
	ComStmtExecute      Command = 0x17
	ComStmtSendLongData Command = 0x18
	ComStmtClose        Command = 0x19
	ComDaemon           Command = 0x1D
	ComResetConnection  Command = 0x1F
)

// unsupportedCommands lists command codes spec.md §4.5 names explicitly
// as "known-unsupported": the proxy recognizes them but always replies
// ERR(9990). Any command byte not in this set and not one of the
// actively-handled codes above gets ERR(9997) instead.
var unsupportedCommands = map[Command]string{
	ComCreateDB:         "create_db",
	ComDropDB:           "drop_db",
	ComRefresh:          "refresh",
	ComShutdown:         "shutdown",
	ComStatistics:       "statistics",
	ComProcessInfo:      "process_info",
	ComConnect:          "connect",
	ComKill:             "kill",
	ComDebug:            "debug",
	ComTime:             "time",
	ComDelayedInsert:    "delayed_insert",
	ComChangeUser:       "change_user",
	ComStmtPrepare:      "stmt_prepare",
	ComStmtExecute:      "stmt_execute",
	ComStmtSendLongData: "stmt_send_long_data",
	ComStmtClose:        "stmt_close",
	ComResetConnection:  "reset_connection",
	ComDaemon:           "daemon",
}

// UnsupportedName reports the human-readable name of a known-but-
// unsupported command, and whether cmd is in fact one of them.
func UnsupportedName(cmd Command) (string, bool) {
	name, ok := unsupportedCommands[cmd]
	return name, ok
}

// ErrorCode is an error code carried by the ERR packets this proxy sends:
// the MySQL server codes it reuses (1045, 1049, 1062) and the
// proxy-internal 999x codes that have no MySQL server equivalent
// (spec.md §7).
type ErrorCode uint16

const (
	ErrAccessDenied       ErrorCode = 1045
	ErrBadDB              ErrorCode = 1049
	ErrNotSupported41     ErrorCode = 1062
	ErrUnsupportedCommand ErrorCode = 9990
	ErrUpstreamFailure    ErrorCode = 9999
	ErrUnknownCommand     ErrorCode = 9997
)
