package domain

import (
	"time"

	"github.com/dvloznov/finance-ledger/internal/money"
)

// TransactionType determines the direction of a transaction's balance effect.
type TransactionType string

const (
	TransactionTypeIncome     TransactionType = "income"
	TransactionTypeExpense    TransactionType = "expense"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeInvestment TransactionType = "investment"
	TransactionTypeYield      TransactionType = "yield"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeIncome, TransactionTypeExpense, TransactionTypeTransfer,
		TransactionTypeInvestment, TransactionTypeYield:
		return true
	}
	return false
}

// BalanceState records whether a transaction's delta is folded into the
// balances of its accounts.
type BalanceState string

const (
	// BalanceUnapplied is the state of future-dated or deferred records.
	BalanceUnapplied BalanceState = "unapplied"
	// BalanceApplied means the delta is part of CurrentBalance.
	BalanceApplied BalanceState = "applied"
)

// Frequency is the period of a recurring template.
type Frequency string

const (
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// Transaction is one ledger record. Amount is always a positive magnitude;
// the direction comes from Type.
type Transaction struct {
	ID              string          `json:"id"`
	WorkspaceID     string          `json:"workspace_id"`
	Type            TransactionType `json:"type"`
	Amount          money.Amount    `json:"amount"`
	AccountID       string          `json:"account_id"`
	TargetAccountID string          `json:"target_account_id,omitempty"`
	CategoryID      string          `json:"category_id,omitempty"`
	CreditCardID    string          `json:"credit_card_id,omitempty"`
	Description     string          `json:"description,omitempty"`
	Date            time.Time       `json:"date"`
	BalanceState    BalanceState    `json:"balance_state"`

	// CreditCardPurchaseID groups the installments of one purchase. It is the
	// id of the first installment.
	CreditCardPurchaseID string `json:"credit_card_purchase_id,omitempty"`
	InstallmentNumber    int    `json:"installment_number,omitempty"`

	IsRecurring         bool      `json:"is_recurring"`
	RecurrenceFrequency Frequency `json:"recurrence_frequency,omitempty"`
	// RecurrenceParentID and RecurrenceIndex link a materialized occurrence to
	// its template. Index k is the k-th period after the template date.
	RecurrenceParentID string `json:"recurrence_parent_id,omitempty"`
	RecurrenceIndex    int    `json:"recurrence_index,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Applied reports whether the transaction's delta is part of the balances.
func (t *Transaction) Applied() bool {
	return t.BalanceState == BalanceApplied
}

// IsTemplate reports whether t is a recurring template.
func (t *Transaction) IsTemplate() bool {
	return t.IsRecurring && t.RecurrenceFrequency != ""
}

// TransactionPatch is a partial update of a transaction record.
type TransactionPatch struct {
	Type                 *TransactionType
	Amount               *money.Amount
	AccountID            *string
	TargetAccountID      *string
	CategoryID           *string
	CreditCardID         *string
	Description          *string
	Date                 *time.Time
	BalanceState         *BalanceState
	CreditCardPurchaseID *string
	InstallmentNumber    *int
}

// Apply copies the set fields of p onto t.
func (p TransactionPatch) Apply(t *Transaction) {
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.AccountID != nil {
		t.AccountID = *p.AccountID
	}
	if p.TargetAccountID != nil {
		t.TargetAccountID = *p.TargetAccountID
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.CreditCardID != nil {
		t.CreditCardID = *p.CreditCardID
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.BalanceState != nil {
		t.BalanceState = *p.BalanceState
	}
	if p.CreditCardPurchaseID != nil {
		t.CreditCardPurchaseID = *p.CreditCardPurchaseID
	}
	if p.InstallmentNumber != nil {
		t.InstallmentNumber = *p.InstallmentNumber
	}
}
