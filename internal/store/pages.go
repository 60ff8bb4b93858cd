package store

import (
	"context"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

// EachTransaction pages through every transaction matching q and calls fn
// for each. Iteration stops at the first error fn returns.
func EachTransaction(ctx context.Context, s TransactionQuerier, workspaceID string, q TransactionQuery, fn func(domain.Transaction) error) error {
	for {
		page, err := s.QueryTransactions(ctx, workspaceID, q)
		if err != nil {
			return err
		}
		for _, tx := range page.Transactions {
			if err := fn(tx); err != nil {
				return err
			}
		}
		if page.NextCursor == nil {
			return nil
		}
		q.Cursor = page.NextCursor
	}
}

// CollectTransactions returns every transaction matching q.
func CollectTransactions(ctx context.Context, s TransactionQuerier, workspaceID string, q TransactionQuery) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := EachTransaction(ctx, s, workspaceID, q, func(tx domain.Transaction) error {
		out = append(out, tx)
		return nil
	})
	return out, err
}
