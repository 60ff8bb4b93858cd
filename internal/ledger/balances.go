package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// lockAccounts reads the given accounts in sorted order so that concurrent
// operations always acquire row locks in the same sequence. Missing
// accounts are reported through the returned set, not as errors.
func lockAccounts(ctx context.Context, s store.LedgerStore, workspaceID string, ids ...string) (map[string]*domain.Account, error) {
	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			unique[id] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(unique))
	for id := range unique {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	found := make(map[string]*domain.Account, len(sorted))
	for _, id := range sorted {
		acc, err := s.GetAccount(ctx, workspaceID, id)
		if errors.Is(err, domain.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lockAccounts: %s: %w", id, err)
		}
		found[id] = acc
	}
	return found, nil
}

// applyDeltas folds deltas into the stored balances. Each account is read
// again right before its write so a previous step in the same operation is
// never overwritten with a stale value. Deltas on missing accounts are
// skipped and logged.
func (l *Ledger) applyDeltas(ctx context.Context, s store.LedgerStore, workspaceID string, deltas []domain.BalanceDelta) (map[string]money.Amount, error) {
	merged := make(map[string]money.Amount, len(deltas))
	var ids []string
	for _, d := range deltas {
		if _, seen := merged[d.AccountID]; !seen {
			ids = append(ids, d.AccountID)
		}
		merged[d.AccountID] = merged[d.AccountID].Add(d.Amount)
	}
	sort.Strings(ids)

	balances := make(map[string]money.Amount, len(ids))
	for _, id := range ids {
		acc, err := s.GetAccount(ctx, workspaceID, id)
		if errors.Is(err, domain.ErrAccountNotFound) {
			log := l.loggerFor(ctx)
			log.Warn().
				Str("workspace_id", workspaceID).
				Str("account_id", id).
				Str("delta", merged[id].String()).
				Msg("skipping balance change for missing account")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("applyDeltas: reading account %s: %w", id, err)
		}

		next := acc.CurrentBalance.Add(merged[id])
		patch := domain.AccountPatch{CurrentBalance: &next, ExpectedVersion: acc.Version}
		if err := s.UpdateAccount(ctx, workspaceID, id, patch); err != nil {
			return nil, fmt.Errorf("applyDeltas: writing account %s: %w", id, err)
		}
		balances[id] = next
	}
	return balances, nil
}

func mergeBalances(dst, src map[string]money.Amount) map[string]money.Amount {
	if dst == nil {
		dst = make(map[string]money.Amount, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
