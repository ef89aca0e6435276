// Package sqlstore implements store.Connection on SQL databases through
// gocraft/dbr. The sqlite3, mysql and postgres drivers are registered.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/gocraft/dbr/v2"
	"github.com/gocraft/dbr/v2/dialect"

	// Drivers selectable by name in Open.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jacentio/leanmap/store"
)

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger receiving statement events. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Conn is a store.Connection backed by a SQL database.
type Conn struct {
	conn   *dbr.Connection
	sess   *dbr.Session
	logger *slog.Logger
}

var _ store.Connection = (*Conn)(nil)

// Open opens a database with one of the drivers "sqlite3", "mysql" or
// "postgres". SQLite databases are limited to a single open connection so
// ":memory:" databases are shared by every statement.
func Open(driver, dsn string, opts ...Option) (*Conn, error) {
	c := newConn(opts)
	conn, err := dbr.Open(driver, dsn, &eventLogger{logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		conn.SetMaxOpenConns(1)
	}
	c.bind(conn)
	return c, nil
}

// New wraps an open dbr connection.
func New(conn *dbr.Connection, opts ...Option) *Conn {
	c := newConn(opts)
	c.bind(conn)
	return c
}

func newConn(opts []Option) *Conn {
	c := &Conn{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conn) bind(conn *dbr.Connection) {
	c.conn = conn
	c.sess = conn.NewSession(&eventLogger{logger: c.logger})
}

// DB returns the underlying database handle.
func (c *Conn) DB() *sql.DB { return c.conn.DB }

// Close closes the database.
func (c *Conn) Close() error { return c.conn.Close() }

// Exec runs statements in order, stopping at the first error. It is meant for
// schema setup.
func (c *Conn) Exec(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := c.sess.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Fetch implements store.Connection.
func (c *Conn) Fetch(ctx context.Context, q *store.Query) ([]store.Record, error) {
	stmt, err := c.selectStmt(q)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.RowsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Table, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Render implements store.Connection. It returns the statement with its
// arguments interpolated for the connection dialect.
func (c *Conn) Render(q *store.Query) (string, error) {
	stmt, err := c.selectStmt(q)
	if err != nil {
		return "", err
	}
	buf := dbr.NewBuffer()
	if err := stmt.Build(c.conn.Dialect, buf); err != nil {
		return "", fmt.Errorf("build %s query: %w", q.Table, err)
	}
	return dbr.InterpolateForDialect(buf.String(), buf.Value(), c.conn.Dialect)
}

func (c *Conn) selectStmt(q *store.Query) (*dbr.SelectStmt, error) {
	stmt := c.sess.Select("*").From(q.Table)
	for _, cond := range q.Conditions() {
		b, err := condition(cond)
		if err != nil {
			return nil, err
		}
		stmt.Where(b)
	}
	for _, o := range q.Orders() {
		if o.Desc {
			stmt.OrderDesc(o.Column)
		} else {
			stmt.OrderAsc(o.Column)
		}
	}
	switch {
	case q.LimitValue() > 0:
		stmt.Limit(q.LimitValue())
	case q.OffsetValue() > 0:
		// OFFSET is only valid after LIMIT.
		stmt.Limit(math.MaxInt64)
	}
	if q.OffsetValue() > 0 {
		stmt.Offset(q.OffsetValue())
	}
	return stmt, nil
}

// never is a condition that matches no row, used where SQL would compare with NULL.
var never = dbr.Expr("1 = 0")

func condition(c store.Condition) (dbr.Builder, error) {
	switch c.Op {
	case store.OpIsNull:
		return dbr.Eq(c.Column, nil), nil
	case store.OpNotNull:
		return dbr.Neq(c.Column, nil), nil
	case store.OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: IN on %q needs []any, got %T", store.ErrInvalidArgument, c.Column, c.Value)
		}
		if len(values) == 0 {
			return never, nil
		}
		return dbr.Eq(c.Column, values), nil
	}
	if c.Value == nil {
		return never, nil
	}
	switch c.Op {
	case store.OpEq:
		return dbr.Eq(c.Column, c.Value), nil
	case store.OpNeq:
		return dbr.Neq(c.Column, c.Value), nil
	case store.OpLt:
		return dbr.Lt(c.Column, c.Value), nil
	case store.OpLte:
		return dbr.Lte(c.Column, c.Value), nil
	case store.OpGt:
		return dbr.Gt(c.Column, c.Value), nil
	case store.OpGte:
		return dbr.Gte(c.Column, c.Value), nil
	}
	return nil, fmt.Errorf("%w: unsupported operator %q", store.ErrInvalidArgument, c.Op)
}

// Insert implements store.Connection. The id is the provided one or the one
// assigned by the database.
func (c *Conn) Insert(ctx context.Context, table string, values store.Record) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: nothing to insert into %s", store.ErrInvalidArgument, table)
	}
	columns := sortedColumns(values)
	row := make([]any, len(columns))
	for i, col := range columns {
		row[i] = values[col]
	}
	stmt := c.sess.InsertInto(table).Columns(columns...).Values(row...)

	if c.conn.Dialect == dialect.PostgreSQL {
		var id int64
		if err := stmt.Returning(store.IDColumn).LoadContext(ctx, &id); err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		return id, nil
	}

	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	if id, ok := store.ToID(values[store.IDColumn]); ok {
		return id, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert into %s: last insert id: %w", table, err)
	}
	return id, nil
}

// Update implements store.Connection.
func (c *Conn) Update(ctx context.Context, table string, id int64, values store.Record) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	stmt := c.sess.Update(table)
	for _, col := range sortedColumns(values) {
		stmt.Set(col, values[col])
	}
	res, err := stmt.Where(dbr.Eq(store.IDColumn, id)).ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("update %s %d: %w", table, id, err)
	}
	return res.RowsAffected()
}

// Delete implements store.Connection.
func (c *Conn) Delete(ctx context.Context, table string, id int64) error {
	if _, err := c.sess.DeleteFrom(table).Where(dbr.Eq(store.IDColumn, id)).ExecContext(ctx); err != nil {
		return fmt.Errorf("delete %s %d: %w", table, id, err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var records []store.Record
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec := make(store.Record, len(columns))
		for i, col := range columns {
			rec[col] = normalize(values[i])
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// normalize turns driver byte slices into strings so values compare and hash
// the same across drivers.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func sortedColumns(values store.Record) []string {
	columns := make([]string, 0, len(values))
	for col := range values {
		columns = append(columns, col)
	}
	slices.Sort(columns)
	return columns
}
