package ledger

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/events"
	"github.com/dvloznov/finance-ledger/internal/installments"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// DefaultInstallmentDescription labels purchases entered without one.
const DefaultInstallmentDescription = "Installment purchase"

// InstallmentPurchase describes a card purchase split into monthly parcels.
// Zero ClosingDay or DueDay fall back to the card defaults.
type InstallmentPurchase struct {
	TotalAmount  money.Amount
	Count        int
	PurchaseDate time.Time
	CreditCardID string
	AccountID    string
	CategoryID   string
	Description  string
	ClosingDay   int
	DueDay       int
}

// InstallmentResult reports what CreateInstallmentTransactions stored.
type InstallmentResult struct {
	PurchaseID     string                     `json:"purchase_id"`
	Count          int                        `json:"count"`
	TransactionIDs []string                   `json:"transaction_ids"`
	Schedule       []installments.Installment `json:"schedule"`
}

func (p *InstallmentPurchase) validate() error {
	if p.Count < 1 {
		return domain.Invalid("count", "installment count must be at least 1")
	}
	if !p.TotalAmount.IsPositive() {
		return domain.Invalid("amount", "amount must be positive")
	}
	if p.TotalAmount.Cents() < int64(p.Count) {
		return domain.Invalid("amount", "amount is too small to split into that many installments")
	}
	if strings.TrimSpace(p.AccountID) == "" {
		return domain.Invalid("account_id", "account is required")
	}
	if p.PurchaseDate.IsZero() {
		return domain.Invalid("purchase_date", "purchase date is required")
	}
	if p.ClosingDay == 0 {
		p.ClosingDay = domain.DefaultClosingDay
	}
	if p.DueDay == 0 {
		p.DueDay = domain.DefaultDueDay
	}
	if p.ClosingDay < 1 || p.ClosingDay > 31 {
		return domain.Invalid("closing_day", "closing day must be between 1 and 31")
	}
	if p.DueDay < 1 || p.DueDay > 31 {
		return domain.Invalid("due_day", "due day must be between 1 and 31")
	}
	return nil
}

func installmentDescription(base string, number, count int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultInstallmentDescription
	}
	return fmt.Sprintf("%s (%d/%d)", base, number, count)
}

var installmentSuffix = regexp.MustCompile(`\s*\(\d+/\d+\)\s*$`)

// BaseDescription strips the "(i/N)" suffix from an installment description.
func BaseDescription(description string) string {
	base := strings.TrimSpace(installmentSuffix.ReplaceAllString(description, ""))
	if base == "" {
		return DefaultInstallmentDescription
	}
	return base
}

// PreviewInstallments validates p and returns its schedule without storing
// anything.
func (l *Ledger) PreviewInstallments(p InstallmentPurchase) ([]installments.Installment, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return installments.Generate(p.TotalAmount, p.Count, p.PurchaseDate, p.ClosingDay, p.DueDay), nil
}

// CreateInstallmentTransactions stores one expense per parcel in ascending
// order. Parcels already due are applied at once, the rest wait for the
// sweeper. The first parcel's id becomes the purchase id of the whole
// group, and the group commits atomically.
func (l *Ledger) CreateInstallmentTransactions(ctx context.Context, workspaceID, userID string, p InstallmentPurchase) (*InstallmentResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	schedule := installments.Generate(p.TotalAmount, p.Count, p.PurchaseDate, p.ClosingDay, p.DueDay)

	var (
		result   *InstallmentResult
		balances map[string]money.Amount
	)
	err := l.atomically(ctx, workspaceID, "CreateInstallmentTransactions", func(ctx context.Context, s store.LedgerStore) error {
		result = &InstallmentResult{Count: len(schedule), Schedule: schedule}
		found, err := lockAccounts(ctx, s, workspaceID, p.AccountID)
		if err != nil {
			return err
		}
		if _, ok := found[p.AccountID]; !ok {
			return domain.Invalid("account_id", "account does not exist")
		}

		var deltas []domain.BalanceDelta
		for _, inst := range schedule {
			state := domain.BalanceApplied
			if l.isFuture(inst.DueDate) {
				state = domain.BalanceUnapplied
			}
			rec := domain.Transaction{
				Type:                 domain.TransactionTypeExpense,
				Amount:               inst.Amount,
				AccountID:            p.AccountID,
				CategoryID:           p.CategoryID,
				CreditCardID:         p.CreditCardID,
				Description:          installmentDescription(p.Description, inst.Number, len(schedule)),
				Date:                 inst.DueDate,
				BalanceState:         state,
				CreditCardPurchaseID: result.PurchaseID,
				InstallmentNumber:    inst.Number,
				CreatedBy:            userID,
			}
			id, err := s.CreateTransaction(ctx, workspaceID, &rec)
			if err != nil {
				return fmt.Errorf("CreateInstallmentTransactions: storing parcel %d: %w", inst.Number, err)
			}
			if inst.Number == 1 {
				result.PurchaseID = id
			}
			result.TransactionIDs = append(result.TransactionIDs, id)
			if state == domain.BalanceApplied {
				rec.ID = id
				deltas = append(deltas, rec.Effects()...)
			}
		}

		// The first parcel only learns its group id after it is stored.
		first := 1
		patch := domain.TransactionPatch{CreditCardPurchaseID: &result.PurchaseID, InstallmentNumber: &first}
		if err := s.UpdateTransaction(ctx, workspaceID, result.PurchaseID, patch); err != nil {
			return fmt.Errorf("CreateInstallmentTransactions: back-filling purchase id: %w", err)
		}

		balances, err = l.applyDeltas(ctx, s, workspaceID, deltas)
		return err
	})
	if err != nil {
		return nil, err
	}

	log := l.loggerFor(ctx)
	log.Info().
		Str("workspace_id", workspaceID).
		Str("purchase_id", result.PurchaseID).
		Int("count", result.Count).
		Str("total", p.TotalAmount.String()).
		Msg("installment purchase created")

	l.publish(ctx, events.LedgerEvent{
		Type:        events.InstallmentsCreated,
		WorkspaceID: workspaceID,
		PurchaseID:  result.PurchaseID,
		Count:       result.Count,
		Balances:    balances,
		ActorID:     userID,
	})
	return result, nil
}

// InstallmentGroup is every parcel of one purchase.
type InstallmentGroup struct {
	PurchaseID      string               `json:"purchase_id"`
	BaseDescription string               `json:"base_description"`
	TotalAmount     money.Amount         `json:"total_amount"`
	Transactions    []domain.Transaction `json:"transactions"`
}

func loadGroup(ctx context.Context, s store.LedgerStore, workspaceID, purchaseID string) ([]domain.Transaction, error) {
	txs, err := store.CollectTransactions(ctx, s, workspaceID, store.TransactionQuery{CreditCardPurchaseID: purchaseID, Limit: store.MaxPageSize})
	if err != nil {
		return nil, fmt.Errorf("loadGroup: %w", err)
	}
	if len(txs) == 0 {
		return nil, domain.ErrTransactionNotFound
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].InstallmentNumber < txs[j].InstallmentNumber })
	return txs, nil
}

// InstallmentGroup returns the parcels of a purchase in installment order.
func (l *Ledger) InstallmentGroup(ctx context.Context, workspaceID, purchaseID string) (*InstallmentGroup, error) {
	txs, err := loadGroup(ctx, l.store, workspaceID, purchaseID)
	if err != nil {
		return nil, err
	}
	group := &InstallmentGroup{
		PurchaseID:      purchaseID,
		BaseDescription: BaseDescription(txs[0].Description),
		Transactions:    txs,
	}
	for _, tx := range txs {
		group.TotalAmount = group.TotalAmount.Add(tx.Amount)
	}
	return group, nil
}

// GroupUpdate holds the fields shared by every parcel of a purchase.
// Amounts and due dates stay per parcel.
type GroupUpdate struct {
	Type            domain.TransactionType
	AccountID       string
	TargetAccountID string
	CategoryID      string
	CreditCardID    string
	Description     string
}

// UpdateInstallmentGroup rewrites the shared fields of every parcel,
// reverting and reapplying each parcel's effect, in one store transaction.
func (l *Ledger) UpdateInstallmentGroup(ctx context.Context, workspaceID, userID, purchaseID string, u GroupUpdate) (*InstallmentGroup, error) {
	if u.Type == "" {
		u.Type = domain.TransactionTypeExpense
	}
	var balances map[string]money.Amount
	err := l.atomically(ctx, workspaceID, "UpdateInstallmentGroup", func(ctx context.Context, s store.LedgerStore) error {
		balances = nil
		txs, err := loadGroup(ctx, s, workspaceID, purchaseID)
		if err != nil {
			return err
		}
		base := u.Description
		if strings.TrimSpace(base) == "" {
			base = BaseDescription(txs[0].Description)
		}
		for i := range txs {
			old := txs[i]
			rec, err := normalize(TransactionInput{
				Type:            u.Type,
				Amount:          old.Amount,
				AccountID:       u.AccountID,
				TargetAccountID: u.TargetAccountID,
				CategoryID:      u.CategoryID,
				CreditCardID:    u.CreditCardID,
				Description:     installmentDescription(base, old.InstallmentNumber, len(txs)),
				Date:            old.Date,
			})
			if err != nil {
				return err
			}
			_, changed, err := l.rewrite(ctx, s, workspaceID, &old, rec)
			if err != nil {
				return err
			}
			balances = mergeBalances(balances, changed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, events.LedgerEvent{
		Type:        events.TransactionUpdated,
		WorkspaceID: workspaceID,
		PurchaseID:  purchaseID,
		Balances:    balances,
		ActorID:     userID,
	})
	return l.InstallmentGroup(ctx, workspaceID, purchaseID)
}

// DeleteInstallmentGroup removes every parcel of a purchase, reverting the
// applied ones, in one store transaction. It returns how many were removed.
func (l *Ledger) DeleteInstallmentGroup(ctx context.Context, workspaceID, purchaseID string) (int, error) {
	var (
		count    int
		balances map[string]money.Amount
	)
	err := l.atomically(ctx, workspaceID, "DeleteInstallmentGroup", func(ctx context.Context, s store.LedgerStore) error {
		balances = nil
		txs, err := loadGroup(ctx, s, workspaceID, purchaseID)
		if err != nil {
			return err
		}
		for i := range txs {
			changed, err := l.remove(ctx, s, workspaceID, &txs[i])
			if err != nil {
				return err
			}
			balances = mergeBalances(balances, changed)
		}
		count = len(txs)
		return nil
	})
	if err != nil {
		return 0, err
	}

	log := l.loggerFor(ctx)
	log.Info().
		Str("workspace_id", workspaceID).
		Str("purchase_id", purchaseID).
		Int("count", count).
		Msg("installment purchase deleted")

	l.publish(ctx, events.LedgerEvent{
		Type:        events.TransactionDeleted,
		WorkspaceID: workspaceID,
		PurchaseID:  purchaseID,
		Count:       count,
		Balances:    balances,
	})
	return count, nil
}
