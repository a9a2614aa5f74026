// Package protoerr defines the error kinds the proxy's wire, session and
// result-set layers classify failures into, so the command loop knows
// whether to terminate the connection or reply with an ERR packet and keep
// serving.
package protoerr

import "fmt"

// Kind is the classification of a protocol-level failure.
type Kind int

const (
	// MalformedPacket is a truncated read, bad sentinel, or over-long
	// field. The connection is terminated.
	MalformedPacket Kind = iota
	// ProtocolViolation is insufficient client capabilities or a
	// handshake sequence error. An ERR is sent, then the connection
	// closes.
	ProtocolViolation
	// AccessDenied is an authentication failure.
	AccessDenied
	// UpstreamOperational is a connect/IO error talking to the upstream
	// during a command. The session stays open.
	UpstreamOperational
	// UpstreamLogical is a query-level upstream error (e.g. a SQL
	// error). The session stays open.
	UpstreamLogical
	// UnsupportedCommand is a known but unimplemented command code.
	UnsupportedCommand
	// UnknownCommand is a command byte absent from the dispatch table.
	UnknownCommand
	// PluginFault is an error raised by a plugin handler. It is logged
	// and isolated; it never propagates past the registry.
	PluginFault
)

func (k Kind) String() string {
	switch k {
	case MalformedPacket:
		return "MalformedPacket"
	case ProtocolViolation:
		return "ProtocolViolation"
	case AccessDenied:
		return "AccessDenied"
	case UpstreamOperational:
		return "UpstreamOperational"
	case UpstreamLogical:
		return "UpstreamLogical"
	case UnsupportedCommand:
		return "UnsupportedCommand"
	case UnknownCommand:
		return "UnknownCommand"
	case PluginFault:
		return "PluginFault"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a protocol failure tagged with a Kind, so callers can classify
// it with errors.As instead of string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged Error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a Kind-tagged Error around an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Fatal reports whether errors of this kind must terminate the connection
// rather than merely produce an ERR packet and continue serving.
func (k Kind) Fatal() bool {
	switch k {
	case MalformedPacket, ProtocolViolation, AccessDenied:
		return true
	default:
		return false
	}
}
