// Package store defines the Document Store contract the ledger depends on.
// Implementations live in the memory and postgres subpackages.
package store

import (
	"context"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

// LedgerStore is the set of primitives the ledger needs from persistence.
// Every method is scoped to one workspace.
type LedgerStore interface {
	// ListAccounts returns every account of the workspace ordered by id.
	ListAccounts(ctx context.Context, workspaceID string) ([]domain.Account, error)

	// GetAccount returns one account. Inside RunInTx the row stays locked
	// until the transaction ends.
	GetAccount(ctx context.Context, workspaceID, accountID string) (*domain.Account, error)

	// UpdateAccount merges patch into the account and stamps UpdatedAt.
	// When patch.ExpectedVersion is set and does not match the stored
	// version, it returns domain.ErrVersionConflict.
	UpdateAccount(ctx context.Context, workspaceID, accountID string, patch domain.AccountPatch) error

	// CreateTransaction stores tx, assigns its id and timestamps and returns the id.
	CreateTransaction(ctx context.Context, workspaceID string, tx *domain.Transaction) (string, error)

	// GetTransaction returns domain.ErrTransactionNotFound for unknown ids.
	GetTransaction(ctx context.Context, workspaceID, transactionID string) (*domain.Transaction, error)

	// UpdateTransaction merges patch into the record and stamps UpdatedAt.
	UpdateTransaction(ctx context.Context, workspaceID, transactionID string, patch domain.TransactionPatch) error

	// DeleteTransaction removes the record.
	DeleteTransaction(ctx context.Context, workspaceID, transactionID string) error

	TransactionQuerier
}

// TransactionQuerier is the read side of the transaction log.
type TransactionQuerier interface {
	// QueryTransactions returns one page ordered by (date, id).
	QueryTransactions(ctx context.Context, workspaceID string, q TransactionQuery) (*TransactionPage, error)
}

// TxRunner runs fn atomically against a workspace. If fn returns an error
// nothing it wrote is kept. fn must only use the LedgerStore it is given.
type TxRunner interface {
	RunInTx(ctx context.Context, workspaceID string, fn func(ctx context.Context, s LedgerStore) error) error
}

// CatalogStore persists workspaces and the reference entities around the
// ledger.
type CatalogStore interface {
	CreateWorkspace(ctx context.Context, ws *domain.Workspace, owner domain.Member) (string, error)
	GetWorkspace(ctx context.Context, workspaceID string) (*domain.Workspace, error)
	ListWorkspacesByUser(ctx context.Context, userID string) ([]domain.Workspace, error)
	ListWorkspaceIDs(ctx context.Context) ([]string, error)
	GetMember(ctx context.Context, workspaceID, userID string) (*domain.Member, error)

	CreateAccount(ctx context.Context, workspaceID string, account *domain.Account) (string, error)

	ListCategories(ctx context.Context, workspaceID string) ([]domain.Category, error)
	CreateCategory(ctx context.Context, workspaceID string, category *domain.Category) (string, error)

	ListCreditCards(ctx context.Context, workspaceID string) ([]domain.CreditCard, error)
	GetCreditCard(ctx context.Context, workspaceID, cardID string) (*domain.CreditCard, error)
	CreateCreditCard(ctx context.Context, workspaceID string, card *domain.CreditCard) (string, error)
}

// Store is a complete Document Store backend.
type Store interface {
	LedgerStore
	TxRunner
	CatalogStore
	Close() error
}

// TransactionQuery filters and pages transactions. Zero fields do not filter.
type TransactionQuery struct {
	// Descending orders newest first.
	Descending bool
	// Limit caps the page size; 0 means DefaultPageSize.
	Limit int
	// Cursor resumes strictly after the given position in the ordering.
	Cursor *Cursor

	// DateFrom is inclusive.
	DateFrom *time.Time
	// DateTo is inclusive.
	DateTo *time.Time
	// DateBefore is exclusive.
	DateBefore *time.Time

	State                domain.BalanceState
	TemplatesOnly        bool
	RecurrenceParentID   string
	CreditCardPurchaseID string
	// AccountID matches either side of a transfer.
	AccountID  string
	CategoryID string
}

// DefaultPageSize is used when a query sets no limit.
const DefaultPageSize = 100

// MaxPageSize bounds a single read.
const MaxPageSize = 5000

// PageSize returns the effective page size of q.
func (q TransactionQuery) PageSize() int {
	switch {
	case q.Limit <= 0:
		return DefaultPageSize
	case q.Limit > MaxPageSize:
		return MaxPageSize
	}
	return q.Limit
}

// TransactionPage is one page of a query. NextCursor is nil on the last page.
type TransactionPage struct {
	Transactions []domain.Transaction
	NextCursor   *Cursor
}
