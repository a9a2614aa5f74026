// Package upstream defines the thin contract the proxy expects from an
// upstream MySQL driver, per spec.md §6.2. Two implementations exist:
// sqladapter (driven through database/sql + go-sql-driver/mysql) and
// forwardauth (a raw-conn client that relays the connecting user's own
// credentials instead of terminating auth locally).
package upstream

import "context"

// Column describes one result column as reported by the upstream, in the
// shape spec.md §6.2 names: (name, type_code, max_len, field_len, _, _, _).
// TypeCode is a protocol.ColumnType value; kept as a plain byte here so
// this package has no dependency on protocol beyond what callers need.
type Column struct {
	Name     string
	TypeCode byte
	MaxLen   uint32
	FieldLen uint32
}

// Row is one row of result data, column-aligned with the Columns slice
// returned alongside it. A nil entry denotes SQL NULL.
type Row []any

// Result is the outcome of Execute: either a row-producing cursor
// (Columns non-empty) or a plain affected-rows/last-insert-id outcome.
type Result struct {
	RowCount     int64
	LastInsertID int64
	Columns      []Column
	Rows         []Row
}

// Adapter is the proxy's view of an upstream MySQL connection.
type Adapter interface {
	// Connect establishes a session against host:port over TCP as
	// user/passwd; neither implementation connects over a Unix socket
	// path. In forward-auth
	// implementations, Connect returns once the server's handshake
	// greeting has been read but before any client handshake is sent;
	// Salt and ServerCapabilities reflect that greeting.
	Connect(ctx context.Context, host string, port int, user, passwd string) error

	// ForwardAuthentication completes authentication on a connection
	// opened by Connect in forward-auth mode, emitting a client
	// handshake response carrying authResponse as the auth bytes for
	// the user configured at Connect. It is a no-op error for adapters
	// that authenticate entirely within Connect.
	ForwardAuthentication(ctx context.Context, authResponse []byte) error

	// Salt returns the 20-byte nonce from the upstream's handshake
	// greeting (forward-auth mode only).
	Salt() [20]byte

	// ServerCapabilities returns the upstream's advertised capability
	// flags (forward-auth mode only).
	ServerCapabilities() uint32

	// SelectSchema is the USE-equivalent.
	SelectSchema(ctx context.Context, name string) error

	// Execute runs sql and returns its outcome.
	Execute(ctx context.Context, sql string) (Result, error)

	// FieldList returns column metadata for table, optionally filtered
	// by a LIKE-style wildcard.
	FieldList(ctx context.Context, table, wildcard string) ([]Column, error)

	// SetCharset sets the connection's character set.
	SetCharset(ctx context.Context, name string) error

	// CharacterSetName reports the connection's current character set.
	CharacterSetName() string

	// Close releases the adapter's resources.
	Close() error
}
