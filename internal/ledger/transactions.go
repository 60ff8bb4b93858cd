package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/dates"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/events"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// TransactionInput carries the user-editable fields of a transaction.
type TransactionInput struct {
	Type                domain.TransactionType
	Amount              money.Amount
	AccountID           string
	TargetAccountID     string
	CategoryID          string
	CreditCardID        string
	Description         string
	Date                time.Time
	IsRecurring         bool
	RecurrenceFrequency domain.Frequency

	// SkipBalanceUpdate stores the record unapplied even when its date has
	// arrived, leaving the effect to the sweeper.
	SkipBalanceUpdate bool

	CreditCardPurchaseID string
	InstallmentNumber    int
	RecurrenceParentID   string
	RecurrenceIndex      int
}

// normalize validates in and returns the record it describes. Amount is
// stored as a positive magnitude and only transfers keep a target.
func normalize(in TransactionInput) (domain.Transaction, error) {
	if !in.Type.Valid() {
		return domain.Transaction{}, domain.Invalid("type", fmt.Sprintf("unknown transaction type %q", in.Type))
	}
	magnitude := in.Amount.Abs()
	if !magnitude.IsPositive() {
		return domain.Transaction{}, domain.Invalid("amount", "amount must be positive")
	}
	if strings.TrimSpace(in.AccountID) == "" {
		return domain.Transaction{}, domain.Invalid("account_id", "account is required")
	}
	if in.Date.IsZero() {
		return domain.Transaction{}, domain.Invalid("date", "date is required")
	}

	target := strings.TrimSpace(in.TargetAccountID)
	if in.Type == domain.TransactionTypeTransfer {
		if target == "" {
			return domain.Transaction{}, domain.Invalid("target_account_id", "transfer requires a target account")
		}
		if target == in.AccountID {
			return domain.Transaction{}, domain.Invalid("target_account_id", "transfer target must differ from the source account")
		}
	} else {
		target = ""
	}

	var freq domain.Frequency
	if in.IsRecurring {
		if !in.RecurrenceFrequency.Valid() {
			return domain.Transaction{}, domain.Invalid("recurrence_frequency", "recurring transactions need a weekly, monthly or yearly frequency")
		}
		freq = in.RecurrenceFrequency
	}

	return domain.Transaction{
		Type:                 in.Type,
		Amount:               magnitude,
		AccountID:            strings.TrimSpace(in.AccountID),
		TargetAccountID:      target,
		CategoryID:           strings.TrimSpace(in.CategoryID),
		CreditCardID:         strings.TrimSpace(in.CreditCardID),
		Description:          strings.TrimSpace(in.Description),
		Date:                 in.Date,
		IsRecurring:          in.IsRecurring,
		RecurrenceFrequency:  freq,
		CreditCardPurchaseID: in.CreditCardPurchaseID,
		InstallmentNumber:    in.InstallmentNumber,
		RecurrenceParentID:   in.RecurrenceParentID,
		RecurrenceIndex:      in.RecurrenceIndex,
	}, nil
}

// requireAccounts locks the accounts a record references and rejects the
// record when one of them does not exist.
func requireAccounts(ctx context.Context, s store.LedgerStore, workspaceID string, rec domain.Transaction, extra ...string) error {
	ids := append([]string{rec.AccountID, rec.TargetAccountID}, extra...)
	found, err := lockAccounts(ctx, s, workspaceID, ids...)
	if err != nil {
		return err
	}
	if _, ok := found[rec.AccountID]; !ok {
		return domain.Invalid("account_id", "account does not exist")
	}
	if rec.TargetAccountID != "" {
		if _, ok := found[rec.TargetAccountID]; !ok {
			return domain.Invalid("target_account_id", "target account does not exist")
		}
	}
	return nil
}

// isFuture reports whether date is strictly after now.
func (l *Ledger) isFuture(date time.Time) bool {
	return date.After(l.now())
}

// isDue reports whether date's calendar day has started.
func (l *Ledger) isDue(date time.Time) bool {
	return dates.SameOrBeforeDay(date, l.now(), l.loc)
}

// CreateTransaction records a transaction and, unless it is future-dated or
// SkipBalanceUpdate is set, folds its delta into the account balances in
// the same store transaction. It returns the new id.
func (l *Ledger) CreateTransaction(ctx context.Context, workspaceID, userID string, in TransactionInput) (string, error) {
	rec, err := normalize(in)
	if err != nil {
		return "", err
	}
	rec.CreatedBy = userID
	apply := !in.SkipBalanceUpdate && !l.isFuture(rec.Date)

	var (
		id       string
		balances map[string]money.Amount
	)
	err = l.atomically(ctx, workspaceID, "CreateTransaction", func(ctx context.Context, s store.LedgerStore) error {
		if err := requireAccounts(ctx, s, workspaceID, rec); err != nil {
			return err
		}
		r := rec
		r.BalanceState = domain.BalanceUnapplied
		if apply {
			r.BalanceState = domain.BalanceApplied
		}
		newID, err := s.CreateTransaction(ctx, workspaceID, &r)
		if err != nil {
			return fmt.Errorf("CreateTransaction: storing record: %w", err)
		}
		id = newID
		balances = nil
		if apply {
			if balances, err = l.applyDeltas(ctx, s, workspaceID, r.Effects()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	log := l.loggerFor(ctx)
	log.Info().
		Str("workspace_id", workspaceID).
		Str("transaction_id", id).
		Str("type", string(rec.Type)).
		Str("amount", rec.Amount.String()).
		Bool("applied", apply).
		Msg("transaction created")

	rec.ID = id
	rec.WorkspaceID = workspaceID
	if apply {
		rec.BalanceState = domain.BalanceApplied
	} else {
		rec.BalanceState = domain.BalanceUnapplied
	}
	l.publish(ctx, events.LedgerEvent{
		Type:          events.TransactionCreated,
		WorkspaceID:   workspaceID,
		TransactionID: id,
		Transaction:   &rec,
		Balances:      balances,
		ActorID:       userID,
	})
	return id, nil
}

// GetTransaction returns one record.
func (l *Ledger) GetTransaction(ctx context.Context, workspaceID, transactionID string) (*domain.Transaction, error) {
	return l.store.GetTransaction(ctx, workspaceID, transactionID)
}

// ListTransactions returns one page of records, newest first unless the
// query says otherwise.
func (l *Ledger) ListTransactions(ctx context.Context, workspaceID string, q store.TransactionQuery) (*store.TransactionPage, error) {
	return l.store.QueryTransactions(ctx, workspaceID, q)
}

// UpdateTransaction replaces the editable fields of a record. The old
// effect is reverted, the record rewritten and the new effect applied
// against freshly read balances, all in one store transaction.
func (l *Ledger) UpdateTransaction(ctx context.Context, workspaceID, userID, transactionID string, in TransactionInput) (*domain.Transaction, error) {
	rec, err := normalize(in)
	if err != nil {
		return nil, err
	}

	var (
		updated  *domain.Transaction
		balances map[string]money.Amount
	)
	err = l.atomically(ctx, workspaceID, "UpdateTransaction", func(ctx context.Context, s store.LedgerStore) error {
		old, err := s.GetTransaction(ctx, workspaceID, transactionID)
		if err != nil {
			return err
		}
		updated, balances, err = l.rewrite(ctx, s, workspaceID, old, rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	log := l.loggerFor(ctx)
	log.Info().
		Str("workspace_id", workspaceID).
		Str("transaction_id", transactionID).
		Str("amount", updated.Amount.String()).
		Str("balance_state", string(updated.BalanceState)).
		Msg("transaction updated")

	l.publish(ctx, events.LedgerEvent{
		Type:          events.TransactionUpdated,
		WorkspaceID:   workspaceID,
		TransactionID: transactionID,
		Transaction:   updated,
		Balances:      balances,
		ActorID:       userID,
	})
	return updated, nil
}

// rewrite moves old to the fields of rec inside an open store transaction,
// reverting and reapplying balance effects according to the policy.
func (l *Ledger) rewrite(ctx context.Context, s store.LedgerStore, workspaceID string, old *domain.Transaction, rec domain.Transaction) (*domain.Transaction, map[string]money.Amount, error) {
	if err := requireAccounts(ctx, s, workspaceID, rec, old.AccountIDs()...); err != nil {
		return nil, nil, err
	}

	revert := old.Applied()
	state := domain.BalanceUnapplied
	if !l.isFuture(rec.Date) {
		state = domain.BalanceApplied
	}
	reapply := state == domain.BalanceApplied
	if l.policy == RevertAlways {
		revert, reapply, state = true, true, old.BalanceState
	}

	var balances map[string]money.Amount
	if revert {
		reverted, err := l.applyDeltas(ctx, s, workspaceID, old.RevertEffects())
		if err != nil {
			return nil, nil, err
		}
		balances = mergeBalances(balances, reverted)
	}

	patch := domain.TransactionPatch{
		Type:            &rec.Type,
		Amount:          &rec.Amount,
		AccountID:       &rec.AccountID,
		TargetAccountID: &rec.TargetAccountID,
		CategoryID:      &rec.CategoryID,
		CreditCardID:    &rec.CreditCardID,
		Description:     &rec.Description,
		Date:            &rec.Date,
		BalanceState:    &state,
	}
	if err := s.UpdateTransaction(ctx, workspaceID, old.ID, patch); err != nil {
		return nil, nil, fmt.Errorf("rewrite: storing record: %w", err)
	}

	updated := *old
	patch.Apply(&updated)
	if reapply {
		applied, err := l.applyDeltas(ctx, s, workspaceID, updated.Effects())
		if err != nil {
			return nil, nil, err
		}
		balances = mergeBalances(balances, applied)
	}
	return &updated, balances, nil
}

// DeleteTransaction reverts a record's effect and removes it.
func (l *Ledger) DeleteTransaction(ctx context.Context, workspaceID, transactionID string) error {
	var (
		deleted  *domain.Transaction
		balances map[string]money.Amount
	)
	err := l.atomically(ctx, workspaceID, "DeleteTransaction", func(ctx context.Context, s store.LedgerStore) error {
		old, err := s.GetTransaction(ctx, workspaceID, transactionID)
		if err != nil {
			return err
		}
		deleted = old
		balances, err = l.remove(ctx, s, workspaceID, old)
		return err
	})
	if err != nil {
		return err
	}

	log := l.loggerFor(ctx)
	log.Info().
		Str("workspace_id", workspaceID).
		Str("transaction_id", transactionID).
		Bool("was_applied", deleted.Applied()).
		Msg("transaction deleted")

	l.publish(ctx, events.LedgerEvent{
		Type:          events.TransactionDeleted,
		WorkspaceID:   workspaceID,
		TransactionID: transactionID,
		Transaction:   deleted,
		Balances:      balances,
	})
	return nil
}

func (l *Ledger) remove(ctx context.Context, s store.LedgerStore, workspaceID string, old *domain.Transaction) (map[string]money.Amount, error) {
	if _, err := lockAccounts(ctx, s, workspaceID, old.AccountIDs()...); err != nil {
		return nil, err
	}
	var balances map[string]money.Amount
	if old.Applied() || l.policy == RevertAlways {
		var err error
		if balances, err = l.applyDeltas(ctx, s, workspaceID, old.RevertEffects()); err != nil {
			return nil, err
		}
	}
	if err := s.DeleteTransaction(ctx, workspaceID, old.ID); err != nil {
		return nil, fmt.Errorf("remove: deleting record: %w", err)
	}
	return balances, nil
}

// ApplyDeferred applies the effect of one unapplied record whose calendar
// day has arrived and marks it applied. It reports whether anything
// changed; applied or not-yet-due records are left alone.
func (l *Ledger) ApplyDeferred(ctx context.Context, workspaceID, transactionID string) (bool, error) {
	var (
		applied  bool
		rec      *domain.Transaction
		balances map[string]money.Amount
	)
	err := l.atomically(ctx, workspaceID, "ApplyDeferred", func(ctx context.Context, s store.LedgerStore) error {
		applied = false
		tx, err := s.GetTransaction(ctx, workspaceID, transactionID)
		if err != nil {
			return err
		}
		if tx.Applied() || !l.isDue(tx.Date) {
			return nil
		}
		if _, err := lockAccounts(ctx, s, workspaceID, tx.AccountIDs()...); err != nil {
			return err
		}
		if balances, err = l.applyDeltas(ctx, s, workspaceID, tx.Effects()); err != nil {
			return err
		}
		state := domain.BalanceApplied
		if err := s.UpdateTransaction(ctx, workspaceID, tx.ID, domain.TransactionPatch{BalanceState: &state}); err != nil {
			return fmt.Errorf("ApplyDeferred: marking applied: %w", err)
		}
		tx.BalanceState = state
		rec, applied = tx, true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			// deleted between the scan and this call
			return false, nil
		}
		return false, err
	}
	if applied {
		l.publish(ctx, events.LedgerEvent{
			Type:          events.TransactionApplied,
			WorkspaceID:   workspaceID,
			TransactionID: transactionID,
			Transaction:   rec,
			Balances:      balances,
		})
	}
	return applied, nil
}
