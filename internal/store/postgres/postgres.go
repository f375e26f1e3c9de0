// Package postgres implements the store contracts on PostgreSQL with sqlx and squirrel.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/track-dl/config"
	"github.com/gcottom/track-dl/internal/store"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

var _ store.Store = (*DB)(nil)

type DB struct {
	conn *sqlx.DB
	qb   squirrel.StatementBuilderType
}

type txKey struct{}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	zaplog.InfoC(ctx, "connecting to postgres")
	conn, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to open database connection", zap.Error(err))
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = conn.PingContext(pingCtx); err != nil {
		zaplog.ErrorC(ctx, "failed to ping database", zap.Error(err))
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	zaplog.InfoC(ctx, "connected to postgres")
	return New(conn), nil
}

func New(conn *sqlx.DB) *DB {
	return &DB{
		conn: conn,
		qb:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Migrate creates the schema if it does not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.conn.ExecContext(ctx, schema); err != nil {
		zaplog.ErrorC(ctx, "failed to apply schema", zap.Error(err))
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// InNewTx always begins a new transaction on the pool, even when ctx already carries one.
func (d *DB) InNewTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := d.conn.BeginTxx(ctx, nil)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			zaplog.ErrorC(ctx, "failed to rollback", zap.Error(rbErr))
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		zaplog.ErrorC(ctx, "failed to commit", zap.Error(err))
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// ext returns the transaction carried by ctx, or the pool.
func (d *DB) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return d.conn
}

func (d *DB) exec(ctx context.Context, b squirrel.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := d.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to execute query", zap.String("query", query), zap.Error(err))
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) get(ctx context.Context, dest any, b squirrel.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.GetContext(ctx, d.ext(ctx), dest, query, args...)
}

func (d *DB) selectAll(ctx context.Context, dest any, b squirrel.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err = sqlx.SelectContext(ctx, d.ext(ctx), dest, query, args...); err != nil {
		zaplog.ErrorC(ctx, "failed to select rows", zap.String("query", query), zap.Error(err))
		return err
	}
	return nil
}
