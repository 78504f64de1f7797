package service

import (
	"context"
	"database/sql"
)

// beginTx starts a transaction when a database is present. Memory-backed
// repositories ignore the tx argument, so services run with a nil *sql.DB
// in tests and dev mode and every helper below degrades to a no-op.
func beginTx(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	if db == nil {
		return nil, nil
	}
	return db.BeginTx(ctx, nil)
}

func commitTx(tx *sql.Tx) error {
	if tx == nil {
		return nil
	}
	return tx.Commit()
}

func rollbackTx(tx *sql.Tx) {
	if tx != nil {
		tx.Rollback()
	}
}
