package model

import (
	"errors"
	"fmt"
)

// ExecuteTransaction executes multiple queries in a single atomic transaction.
// If any query fails, all changes are rolled back.
func ExecuteTransaction(db DBInterface, queries []func(tx TxInterface) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txInterface := NewTx(tx)

	for i, query := range queries {
		if err := query(txInterface); err != nil {
			if rollbackErr := txInterface.Rollback(); rollbackErr != nil {
				return errors.Join(
					fmt.Errorf("query %d failed: %w", i, err),
					fmt.Errorf("rollback failed: %w", rollbackErr),
				)
			}
			return fmt.Errorf("query %d failed: %w", i, err)
		}
	}

	if err := txInterface.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
