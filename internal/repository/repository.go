// Package repository provides Postgres persistence for entitlement state.
//
// The store exposes coarse operations rather than raw row access: entitlement
// mutations always run inside a transaction holding a row lock on the user's
// record, so two concurrent debits can never read the same pre-debit balance.
// Webhook application couples the ledger mutation and the processed-event
// record in one transaction.
package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Store is the Postgres-backed implementation of the engine's storage needs.
// It satisfies service.Store.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on top of an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// inTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
