package ledger

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/events"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// AccountDrift compares a stored balance with the balance replayed from
// the applied transactions.
type AccountDrift struct {
	AccountID string       `json:"account_id"`
	Name      string       `json:"name"`
	Stored    money.Amount `json:"stored"`
	Expected  money.Amount `json:"expected"`
	Drift     money.Amount `json:"drift"`
}

// ReconcileReport lists accounts whose stored balance has drifted.
type ReconcileReport struct {
	WorkspaceID string         `json:"workspace_id"`
	Checked     int            `json:"checked"`
	Drifted     []AccountDrift `json:"drifted"`
	Fixed       bool           `json:"fixed"`
}

// Reconcile recomputes InitialBalance plus the deltas of every applied
// transaction for each account and reports the accounts whose stored
// balance differs. With fix set, drifted balances are rewritten to the
// expected value in the same store transaction.
func (l *Ledger) Reconcile(ctx context.Context, workspaceID string, fix bool) (*ReconcileReport, error) {
	var report *ReconcileReport
	err := l.atomically(ctx, workspaceID, "Reconcile", func(ctx context.Context, s store.LedgerStore) error {
		report = &ReconcileReport{WorkspaceID: workspaceID}

		accounts, err := s.ListAccounts(ctx, workspaceID)
		if err != nil {
			return fmt.Errorf("Reconcile: listing accounts: %w", err)
		}
		ids := make([]string, len(accounts))
		for i, a := range accounts {
			ids[i] = a.ID
		}
		locked, err := lockAccounts(ctx, s, workspaceID, ids...)
		if err != nil {
			return err
		}

		expected := make(map[string]money.Amount, len(locked))
		for id, a := range locked {
			expected[id] = a.InitialBalance
		}
		q := store.TransactionQuery{State: domain.BalanceApplied, Limit: store.MaxPageSize}
		err = store.EachTransaction(ctx, s, workspaceID, q, func(tx domain.Transaction) error {
			for _, d := range tx.Effects() {
				if _, ok := expected[d.AccountID]; ok {
					expected[d.AccountID] = expected[d.AccountID].Add(d.Amount)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("Reconcile: replaying transactions: %w", err)
		}

		for _, id := range ids {
			a, ok := locked[id]
			if !ok {
				continue
			}
			report.Checked++
			want := expected[id]
			if a.CurrentBalance.Equal(want) {
				continue
			}
			report.Drifted = append(report.Drifted, AccountDrift{
				AccountID: id,
				Name:      a.Name,
				Stored:    a.CurrentBalance,
				Expected:  want,
				Drift:     a.CurrentBalance.Sub(want),
			})
			if fix {
				patch := domain.AccountPatch{CurrentBalance: &want, ExpectedVersion: a.Version}
				if err := s.UpdateAccount(ctx, workspaceID, id, patch); err != nil {
					return fmt.Errorf("Reconcile: fixing %s: %w", id, err)
				}
			}
		}
		report.Fixed = fix && len(report.Drifted) > 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, d := range report.Drifted {
		log := l.loggerFor(ctx)
		log.Warn().
			Str("workspace_id", workspaceID).
			Str("account_id", d.AccountID).
			Str("stored", d.Stored.String()).
			Str("expected", d.Expected.String()).
			Bool("fixed", report.Fixed).
			Msg("account balance drift")
	}
	if report.Fixed {
		balances := make(map[string]money.Amount, len(report.Drifted))
		for _, d := range report.Drifted {
			balances[d.AccountID] = d.Expected
		}
		l.publish(ctx, events.LedgerEvent{
			Type:        events.BalancesReconciled,
			WorkspaceID: workspaceID,
			Count:       len(report.Drifted),
			Balances:    balances,
		})
	}
	return report, nil
}
