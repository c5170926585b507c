package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Client wraps a pgx pool with transaction helpers.
type Client struct {
	DB *pgxpool.Pool
}

func NewClient(db *pgxpool.Pool) *Client {
	return &Client{DB: db}
}

// WithAdvisoryLock runs fn in a transaction holding the transaction-scoped
// advisory lock lockID. Other holders of the same lock, in this process or
// another, wait until the transaction ends. fn's error rolls back.
func (c *Client) WithAdvisoryLock(ctx context.Context, lockID int64, fn func(tx pgx.Tx) error) (err error) {
	tx, err := c.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
