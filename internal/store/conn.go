package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ctxKey int

const (
	connKey ctxKey = iota
	txKey
)

// WithConn binds a request-scoped connection. Store calls made with the
// returned context run on conn and see its session role and variables.
func WithConn(ctx context.Context, conn *sql.Conn) context.Context {
	return context.WithValue(ctx, connKey, conn)
}

func ConnFrom(ctx context.Context) (*sql.Conn, bool) {
	conn, ok := ctx.Value(connKey).(*sql.Conn)
	return conn, ok && conn != nil
}

// Privileged detaches ctx from any bound connection so store calls use the
// pool under the owning role. Reserved for flows the restricted role cannot
// express: invite acceptance, owner bootstrap, background jobs.
func Privileged(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, connKey, (*sql.Conn)(nil))
	return context.WithValue(ctx, txKey, (*sql.Tx)(nil))
}

func (s *PostgresStore) q(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok && tx != nil {
		return tx
	}
	if conn, ok := ConnFrom(ctx); ok {
		return conn
	}
	return s.db
}

// InTx runs fn in a transaction on the bound connection, or on the pool when
// none is bound. Nested calls join the outer transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok && tx != nil {
		return fn(ctx)
	}

	var (
		tx  *sql.Tx
		err error
	)
	if conn, ok := ConnFrom(ctx); ok {
		tx, err = conn.BeginTx(ctx, nil)
	} else {
		tx, err = s.db.BeginTx(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
