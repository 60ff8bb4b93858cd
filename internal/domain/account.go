package domain

import (
	"time"

	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/shopspring/decimal"
)

// AccountType classifies where money is held.
type AccountType string

const (
	AccountTypeBank          AccountType = "bank"
	AccountTypeDigitalWallet AccountType = "digital_wallet"
	AccountTypeCash          AccountType = "cash"
	AccountTypeInvestment    AccountType = "investment"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeBank, AccountTypeDigitalWallet, AccountTypeCash, AccountTypeInvestment:
		return true
	}
	return false
}

// Account holds a running balance inside a workspace.
//
// CurrentBalance always equals InitialBalance plus the signed deltas of every
// applied transaction touching the account. Only the ledger writes it, and
// every write increments Version.
type Account struct {
	ID             string           `json:"id"`
	WorkspaceID    string           `json:"workspace_id"`
	Name           string           `json:"name"`
	Type           AccountType      `json:"type"`
	InitialBalance money.Amount     `json:"initial_balance"`
	CurrentBalance money.Amount     `json:"current_balance"`
	YieldRate      *decimal.Decimal `json:"yield_rate,omitempty"`
	YieldReference string           `json:"yield_reference,omitempty"`
	Color          string           `json:"color,omitempty"`
	IsActive       bool             `json:"is_active"`
	Version        int64            `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// AccountPatch is a partial update of an account. Nil fields are left as is.
// A non-zero ExpectedVersion makes the write conditional on the stored
// version, and a successful conditional write bumps it.
type AccountPatch struct {
	Name            *string
	IsActive        *bool
	Color           *string
	YieldRate       *decimal.Decimal
	YieldReference  *string
	CurrentBalance  *money.Amount
	ExpectedVersion int64
}
