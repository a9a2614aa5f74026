// Package sqladapter implements upstream.Adapter over database/sql with
// the go-sql-driver/mysql driver: the ordinary path, used whenever the
// proxy owns authentication itself rather than forwarding the
// connecting client's own credentials (see upstream/forwardauth for
// that variant).
package sqladapter

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/efreet/mysqlproxy/protocol"
	"github.com/efreet/mysqlproxy/upstream"
)

// selectLike matches the statement forms that return a result set rather
// than an affected-rows count. database/sql's Query/Exec split requires
// this classification up front since neither method alone reports both
// row data and OK-packet metadata; it is a shape check on the leading
// keyword, not a SQL parser, so it never needs to understand the rest of
// the statement.
var selectLike = regexp.MustCompile(`(?i)^\s*(SELECT|SHOW|DESCRIBE|DESC|EXPLAIN|WITH)\b`)

func isSelectLike(sql string) bool {
	return selectLike.MatchString(sql)
}

// identifierRE bounds the characters accepted for a schema or table name
// interpolated into a statement string (SelectSchema's USE and
// FieldList's SHOW COLUMNS, neither of which database/sql lets you
// parameterize as a bind argument), closing off SQL injection through
// those two call sites without a general statement parser.
var identifierRE = regexp.MustCompile(`^[A-Za-z0-9_$]+$`)

// Adapter drives an upstream MySQL server via database/sql.
type Adapter struct {
	db      *sql.DB
	charset string
}

// New opens a connection pool against host:port as user/passwd and pings
// it once, so an unreachable upstream or rejected credentials surface as
// an error from New itself.
func New(ctx context.Context, host string, port int, user, passwd string) (*Adapter, error) {
	cfg := fmt.Sprintf("%s:%s@tcp(%s:%d)/", user, passwd, host, port)
	db, err := sql.Open("mysql", cfg)
	if err != nil {
		return nil, fmt.Errorf("open upstream: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping upstream: %w", err)
	}
	return &Adapter{db: db, charset: "utf8"}, nil
}

var _ upstream.Adapter = (*Adapter)(nil)

// Connect is a no-op for sqladapter: the pool is already live by the
// time New returns. It exists to satisfy upstream.Adapter for callers
// that hold the interface type, not a concrete *Adapter.
func (a *Adapter) Connect(ctx context.Context, host string, port int, user, passwd string) error {
	return nil
}

// ForwardAuthentication is unsupported: sqladapter always terminates
// authentication itself via New's connection string.
func (a *Adapter) ForwardAuthentication(ctx context.Context, authResponse []byte) error {
	return fmt.Errorf("sqladapter: forward authentication not supported, use upstream/forwardauth")
}

// Salt is always the zero value: sqladapter never exposes a raw
// handshake nonce to relay.
func (a *Adapter) Salt() [20]byte { return [20]byte{} }

// ServerCapabilities is always zero for sqladapter.
func (a *Adapter) ServerCapabilities() uint32 { return 0 }

// SelectSchema issues USE <name>.
func (a *Adapter) SelectSchema(ctx context.Context, name string) error {
	if !identifierRE.MatchString(name) {
		return fmt.Errorf("sqladapter: invalid schema name %q", name)
	}
	_, err := a.db.ExecContext(ctx, "USE "+name)
	return err
}

// Execute runs sql, classifying it as row-producing or not per
// isSelectLike and returning the corresponding upstream.Result.
func (a *Adapter) Execute(ctx context.Context, query string) (upstream.Result, error) {
	if isSelectLike(query) {
		return a.executeQuery(ctx, query)
	}
	res, err := a.db.ExecContext(ctx, query)
	if err != nil {
		return upstream.Result{}, err
	}
	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return upstream.Result{RowCount: affected, LastInsertID: lastID}, nil
}

func (a *Adapter) executeQuery(ctx context.Context, query string) (upstream.Result, error) {
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return upstream.Result{}, err
	}
	defer rows.Close()

	cts, err := rows.ColumnTypes()
	if err != nil {
		return upstream.Result{}, err
	}
	cols := make([]upstream.Column, len(cts))
	for i, ct := range cts {
		length, ok := ct.Length()
		if !ok {
			length = 0
		}
		cols[i] = upstream.Column{
			Name:     ct.Name(),
			TypeCode: byte(protocol.ColumnTypeFromName(ct.DatabaseTypeName())),
			MaxLen:   uint32(length),
			FieldLen: uint32(length),
		}
	}

	scan := make([]any, len(cols))
	holders := make([]sql.RawBytes, len(cols))
	for i := range holders {
		scan[i] = &holders[i]
	}

	var result []upstream.Row
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return upstream.Result{}, err
		}
		row := make(upstream.Row, len(cols))
		for i, h := range holders {
			if h == nil {
				row[i] = nil
			} else {
				row[i] = string(append([]byte(nil), h...))
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return upstream.Result{}, err
	}

	return upstream.Result{Columns: cols, Rows: result, RowCount: int64(len(result))}, nil
}

// FieldList reports column metadata for table, optionally narrowed by a
// LIKE-style wildcard, via SHOW COLUMNS — database/sql has no way to
// issue a raw COM_FIELD_LIST, so this is the closest equivalent query.
func (a *Adapter) FieldList(ctx context.Context, table, wildcard string) ([]upstream.Column, error) {
	if !identifierRE.MatchString(table) {
		return nil, fmt.Errorf("sqladapter: invalid table name %q", table)
	}
	stmt := "SHOW COLUMNS FROM " + table
	var args []any
	if wildcard != "" {
		stmt += " LIKE ?"
		args = append(args, wildcard)
	}
	rows, err := a.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []upstream.Column
	for rows.Next() {
		var field, ctype, null, key, extra string
		var defaultVal sql.NullString
		if err := rows.Scan(&field, &ctype, &null, &key, &defaultVal, &extra); err != nil {
			return nil, err
		}
		cols = append(cols, upstream.Column{
			Name:     field,
			TypeCode: byte(protocol.ColumnTypeFromName(baseTypeName(ctype))),
		})
	}
	return cols, rows.Err()
}

// baseTypeName strips SHOW COLUMNS's "varchar(255)"-style length
// suffix down to the bare type keyword ColumnTypeFromName expects.
func baseTypeName(ctype string) string {
	if i := strings.IndexByte(ctype, '('); i >= 0 {
		ctype = ctype[:i]
	}
	return strings.ToUpper(strings.TrimSpace(ctype))
}

// SetCharset issues SET NAMES.
func (a *Adapter) SetCharset(ctx context.Context, name string) error {
	if !identifierRE.MatchString(name) {
		return fmt.Errorf("sqladapter: invalid charset name %q", name)
	}
	if _, err := a.db.ExecContext(ctx, "SET NAMES "+name); err != nil {
		return err
	}
	a.charset = name
	return nil
}

// CharacterSetName reports the last charset successfully set.
func (a *Adapter) CharacterSetName() string { return a.charset }

// Close releases the underlying connection pool.
func (a *Adapter) Close() error { return a.db.Close() }
