// Package pgxutil reaches the native pgx connection underneath a database/sql
// pool so job queries can use pgx row scanning and transactions.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// ErrNotPgx is returned when the pool was not opened with the pgx stdlib driver.
var ErrNotPgx = errors.New("database/sql connection is not backed by pgx")

// TxConfig describes a transaction run by WithPgxTx.
type TxConfig struct {
	// Options defaults to the server isolation level in read-write mode.
	Options pgx.TxOptions
	Fn      func(pgx.Tx) error
}

// WithPgxConn pins one pooled connection for the duration of fn.
func WithPgxConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) (err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
			err = errors.Join(err, fmt.Errorf("release connection: %w", cerr))
		}
	}()

	return conn.Raw(func(driverConn any) error {
		std, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("%w: got %T", ErrNotPgx, driverConn)
		}
		return fn(std.Conn())
	})
}

// WithPgxTx runs cfg.Fn inside a transaction and commits when it returns nil.
// Any error from Fn rolls the transaction back and is returned unchanged.
func WithPgxTx(ctx context.Context, db *sql.DB, cfg TxConfig) error {
	if cfg.Fn == nil {
		return errors.New("pgxutil: transaction func is required")
	}
	return WithPgxConn(ctx, db, func(conn *pgx.Conn) error {
		return pgx.BeginTxFunc(ctx, conn, cfg.Options, cfg.Fn)
	})
}
