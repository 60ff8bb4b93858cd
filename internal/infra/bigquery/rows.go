package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/money"
)

const (
	transactionsExportTable = "transactions_export"
	accountSnapshotsTable   = "account_snapshots"
)

// TransactionExportRow maps to the analytics.transactions_export table.
type TransactionExportRow struct {
	WorkspaceID          string              `bigquery:"workspace_id"`
	TransactionID        string              `bigquery:"transaction_id"`
	Type                 string              `bigquery:"type"`
	Amount               *big.Rat            `bigquery:"amount"`
	SignedAmount         *big.Rat            `bigquery:"signed_amount"`
	AccountID            string              `bigquery:"account_id"`
	TargetAccountID      bigquery.NullString `bigquery:"target_account_id"`
	CategoryID           bigquery.NullString `bigquery:"category_id"`
	CreditCardID         bigquery.NullString `bigquery:"credit_card_id"`
	Description          bigquery.NullString `bigquery:"description"`
	Date                 civil.Date          `bigquery:"date"`
	BalanceState         string              `bigquery:"balance_state"`
	CreditCardPurchaseID bigquery.NullString `bigquery:"credit_card_purchase_id"`
	InstallmentNumber    bigquery.NullInt64  `bigquery:"installment_number"`
	RecurrenceParentID   bigquery.NullString `bigquery:"recurrence_parent_id"`
	ExportedAt           time.Time           `bigquery:"exported_at"`
}

// AccountSnapshotRow maps to the analytics.account_snapshots table.
type AccountSnapshotRow struct {
	WorkspaceID    string     `bigquery:"workspace_id"`
	AccountID      string     `bigquery:"account_id"`
	Name           string     `bigquery:"name"`
	Type           string     `bigquery:"type"`
	InitialBalance *big.Rat   `bigquery:"initial_balance"`
	CurrentBalance *big.Rat   `bigquery:"current_balance"`
	IsActive       bool       `bigquery:"is_active"`
	SnapshotDate   civil.Date `bigquery:"snapshot_date"`
	ExportedAt     time.Time  `bigquery:"exported_at"`
}

// TransactionRow converts a ledger record into its export row. The date is
// taken in loc so that partitions follow the workspace calendar.
// SignedAmount is the change seen by AccountID.
func TransactionRow(tx domain.Transaction, loc *time.Location, exportedAt time.Time) *TransactionExportRow {
	row := &TransactionExportRow{
		WorkspaceID:          tx.WorkspaceID,
		TransactionID:        tx.ID,
		Type:                 string(tx.Type),
		Amount:               numeric(tx.Amount.Abs()),
		SignedAmount:         numeric(signedAmount(tx)),
		AccountID:            tx.AccountID,
		TargetAccountID:      nullString(tx.TargetAccountID),
		CategoryID:           nullString(tx.CategoryID),
		CreditCardID:         nullString(tx.CreditCardID),
		Description:          nullString(tx.Description),
		Date:                 civil.DateOf(tx.Date.In(loc)),
		BalanceState:         string(tx.BalanceState),
		CreditCardPurchaseID: nullString(tx.CreditCardPurchaseID),
		RecurrenceParentID:   nullString(tx.RecurrenceParentID),
		ExportedAt:           exportedAt.UTC(),
	}
	if tx.InstallmentNumber > 0 {
		row.InstallmentNumber = bigquery.NullInt64{Int64: int64(tx.InstallmentNumber), Valid: true}
	}
	return row
}

// SnapshotRow converts an account into its snapshot row.
func SnapshotRow(a domain.Account, snapshotDate civil.Date, exportedAt time.Time) *AccountSnapshotRow {
	return &AccountSnapshotRow{
		WorkspaceID:    a.WorkspaceID,
		AccountID:      a.ID,
		Name:           a.Name,
		Type:           string(a.Type),
		InitialBalance: numeric(a.InitialBalance),
		CurrentBalance: numeric(a.CurrentBalance),
		IsActive:       a.IsActive,
		SnapshotDate:   snapshotDate,
		ExportedAt:     exportedAt.UTC(),
	}
}

func signedAmount(tx domain.Transaction) money.Amount {
	for _, d := range tx.Effects() {
		if d.AccountID == tx.AccountID {
			return d.Amount
		}
	}
	// A transfer without a target still leaves its source.
	return tx.Amount.Abs().Neg()
}

func numeric(a money.Amount) *big.Rat {
	return a.Decimal().Rat()
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
