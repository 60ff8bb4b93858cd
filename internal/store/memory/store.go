// Package memory is an in-process Document Store. Each workspace is guarded
// by its own mutex, and RunInTx works on a copy of the workspace that
// replaces the original only when the callback succeeds.
//
// Data is lost on restart. Use the postgres store for persistence.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
)

// Store is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	shards     map[string]*shard
	workspaces map[string]domain.Workspace
	userIndex  map[string]map[string]struct{}

	now   func() time.Time
	newID func() string
}

type shard struct {
	mu   sync.Mutex
	data *data
}

type data struct {
	members      map[string]domain.Member
	accounts     map[string]domain.Account
	transactions map[string]domain.Transaction
	categories   map[string]domain.Category
	cards        map[string]domain.CreditCard
}

func newData() *data {
	return &data{
		members:      make(map[string]domain.Member),
		accounts:     make(map[string]domain.Account),
		transactions: make(map[string]domain.Transaction),
		categories:   make(map[string]domain.Category),
		cards:        make(map[string]domain.CreditCard),
	}
}

func (d *data) clone() *data {
	c := &data{
		members:      make(map[string]domain.Member, len(d.members)),
		accounts:     make(map[string]domain.Account, len(d.accounts)),
		transactions: make(map[string]domain.Transaction, len(d.transactions)),
		categories:   make(map[string]domain.Category, len(d.categories)),
		cards:        make(map[string]domain.CreditCard, len(d.cards)),
	}
	for k, v := range d.members {
		c.members[k] = v
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	for k, v := range d.categories {
		c.categories[k] = v
	}
	for k, v := range d.cards {
		c.cards[k] = v
	}
	return c
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the source of server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces uuid ids, mostly for deterministic tests.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		shards:     make(map[string]*shard),
		workspaces: make(map[string]domain.Workspace),
		userIndex:  make(map[string]map[string]struct{}),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) shard(workspaceID string) *shard {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shards[workspaceID]
	if !ok {
		sh = &shard{data: newData()}
		s.shards[workspaceID] = sh
	}
	return sh
}

// withData runs fn on the live data of a workspace under its lock.
func (s *Store) withData(workspaceID string, fn func(v *view) error) error {
	sh := s.shard(workspaceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return fn(&view{store: s, data: sh.data})
}

// RunInTx implements store.TxRunner. The workspace stays locked while fn
// runs, so fn must not call back into s directly.
func (s *Store) RunInTx(ctx context.Context, workspaceID string, fn func(ctx context.Context, tx store.LedgerStore) error) error {
	sh := s.shard(workspaceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := sh.data.clone()
	if err := fn(ctx, &txStore{view: &view{store: s, data: working}}); err != nil {
		return err
	}
	sh.data = working
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

func (s *Store) ListAccounts(ctx context.Context, workspaceID string) ([]domain.Account, error) {
	var out []domain.Account
	err := s.withData(workspaceID, func(v *view) error {
		out = v.listAccounts()
		return nil
	})
	return out, err
}

func (s *Store) GetAccount(ctx context.Context, workspaceID, accountID string) (*domain.Account, error) {
	var out *domain.Account
	err := s.withData(workspaceID, func(v *view) (err error) {
		out, err = v.getAccount(accountID)
		return err
	})
	return out, err
}

func (s *Store) UpdateAccount(ctx context.Context, workspaceID, accountID string, patch domain.AccountPatch) error {
	return s.withData(workspaceID, func(v *view) error {
		return v.updateAccount(accountID, patch)
	})
}

func (s *Store) CreateTransaction(ctx context.Context, workspaceID string, tx *domain.Transaction) (string, error) {
	var id string
	err := s.withData(workspaceID, func(v *view) (err error) {
		id, err = v.createTransaction(workspaceID, tx)
		return err
	})
	return id, err
}

func (s *Store) GetTransaction(ctx context.Context, workspaceID, transactionID string) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := s.withData(workspaceID, func(v *view) (err error) {
		out, err = v.getTransaction(transactionID)
		return err
	})
	return out, err
}

func (s *Store) UpdateTransaction(ctx context.Context, workspaceID, transactionID string, patch domain.TransactionPatch) error {
	return s.withData(workspaceID, func(v *view) error {
		return v.updateTransaction(transactionID, patch)
	})
}

func (s *Store) DeleteTransaction(ctx context.Context, workspaceID, transactionID string) error {
	return s.withData(workspaceID, func(v *view) error {
		return v.deleteTransaction(transactionID)
	})
}

func (s *Store) QueryTransactions(ctx context.Context, workspaceID string, q store.TransactionQuery) (*store.TransactionPage, error) {
	var out *store.TransactionPage
	err := s.withData(workspaceID, func(v *view) error {
		out = v.queryTransactions(q)
		return nil
	})
	return out, err
}

// txStore exposes a working copy through store.LedgerStore.
type txStore struct {
	view *view
}

func (t *txStore) ListAccounts(ctx context.Context, workspaceID string) ([]domain.Account, error) {
	return t.view.listAccounts(), nil
}

func (t *txStore) GetAccount(ctx context.Context, workspaceID, accountID string) (*domain.Account, error) {
	return t.view.getAccount(accountID)
}

func (t *txStore) UpdateAccount(ctx context.Context, workspaceID, accountID string, patch domain.AccountPatch) error {
	return t.view.updateAccount(accountID, patch)
}

func (t *txStore) CreateTransaction(ctx context.Context, workspaceID string, tx *domain.Transaction) (string, error) {
	return t.view.createTransaction(workspaceID, tx)
}

func (t *txStore) GetTransaction(ctx context.Context, workspaceID, transactionID string) (*domain.Transaction, error) {
	return t.view.getTransaction(transactionID)
}

func (t *txStore) UpdateTransaction(ctx context.Context, workspaceID, transactionID string, patch domain.TransactionPatch) error {
	return t.view.updateTransaction(transactionID, patch)
}

func (t *txStore) DeleteTransaction(ctx context.Context, workspaceID, transactionID string) error {
	return t.view.deleteTransaction(transactionID)
}

func (t *txStore) QueryTransactions(ctx context.Context, workspaceID string, q store.TransactionQuery) (*store.TransactionPage, error) {
	return t.view.queryTransactions(q), nil
}

// view implements the operations over one workspace's data. Callers hold
// the shard lock or own the data exclusively.
type view struct {
	store *Store
	data  *data
}

func (v *view) listAccounts() []domain.Account {
	out := make([]domain.Account, 0, len(v.data.accounts))
	for _, a := range v.data.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *view) getAccount(id string) (*domain.Account, error) {
	a, ok := v.data.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &a, nil
}

func (v *view) updateAccount(id string, patch domain.AccountPatch) error {
	a, ok := v.data.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if patch.ExpectedVersion != 0 && patch.ExpectedVersion != a.Version {
		return domain.ErrVersionConflict
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.IsActive != nil {
		a.IsActive = *patch.IsActive
	}
	if patch.Color != nil {
		a.Color = *patch.Color
	}
	if patch.YieldRate != nil {
		rate := *patch.YieldRate
		a.YieldRate = &rate
	}
	if patch.YieldReference != nil {
		a.YieldReference = *patch.YieldReference
	}
	if patch.CurrentBalance != nil {
		a.CurrentBalance = *patch.CurrentBalance
	}
	a.Version++
	a.UpdatedAt = v.store.now()
	v.data.accounts[id] = a
	return nil
}

func (v *view) createTransaction(workspaceID string, tx *domain.Transaction) (string, error) {
	if tx.RecurrenceParentID != "" {
		for _, existing := range v.data.transactions {
			if existing.RecurrenceParentID == tx.RecurrenceParentID && existing.RecurrenceIndex == tx.RecurrenceIndex {
				return "", domain.ErrDuplicate
			}
		}
	}

	rec := *tx
	if rec.ID == "" {
		rec.ID = v.store.newID()
	}
	if _, exists := v.data.transactions[rec.ID]; exists {
		return "", domain.ErrDuplicate
	}
	now := v.store.now()
	rec.WorkspaceID = workspaceID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.BalanceState == "" {
		rec.BalanceState = domain.BalanceUnapplied
	}
	v.data.transactions[rec.ID] = rec
	return rec.ID, nil
}

func (v *view) getTransaction(id string) (*domain.Transaction, error) {
	tx, ok := v.data.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &tx, nil
}

func (v *view) updateTransaction(id string, patch domain.TransactionPatch) error {
	tx, ok := v.data.transactions[id]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	patch.Apply(&tx)
	tx.UpdatedAt = v.store.now()
	v.data.transactions[id] = tx
	return nil
}

func (v *view) deleteTransaction(id string) error {
	if _, ok := v.data.transactions[id]; !ok {
		return domain.ErrTransactionNotFound
	}
	delete(v.data.transactions, id)
	return nil
}

func (v *view) queryTransactions(q store.TransactionQuery) *store.TransactionPage {
	var matched []domain.Transaction
	for _, tx := range v.data.transactions {
		if q.Matches(tx) && q.Remaining(tx) {
			matched = append(matched, tx)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		less := a.Date.Before(b.Date) || (a.Date.Equal(b.Date) && a.ID < b.ID)
		if q.Descending {
			return !less
		}
		return less
	})

	page := &store.TransactionPage{Transactions: matched}
	if size := q.PageSize(); len(matched) > size {
		page.Transactions = matched[:size]
		page.NextCursor = store.CursorAfter(page.Transactions[size-1])
	}
	return page
}

var (
	_ store.Store       = (*Store)(nil)
	_ store.LedgerStore = (*txStore)(nil)
)
