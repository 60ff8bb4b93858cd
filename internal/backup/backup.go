// Package backup writes point-in-time JSON snapshots of a workspace to
// Cloud Storage and reads them back for inspection.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// FormatVersion is written into every snapshot.
const FormatVersion = 1

const timestampLayout = "20060102T150405Z"

// Source is what a snapshot is read from.
type Source interface {
	store.LedgerStore
	ListCategories(ctx context.Context, workspaceID string) ([]domain.Category, error)
	ListCreditCards(ctx context.Context, workspaceID string) ([]domain.CreditCard, error)
}

// Snapshot is the JSON document stored for one backup.
type Snapshot struct {
	FormatVersion int                  `json:"format_version"`
	WorkspaceID   string               `json:"workspace_id"`
	CreatedAt     time.Time            `json:"created_at"`
	Accounts      []domain.Account     `json:"accounts"`
	Transactions  []domain.Transaction `json:"transactions"`
	Categories    []domain.Category    `json:"categories"`
	CreditCards   []domain.CreditCard  `json:"credit_cards"`
}

// Drift returns, per account, how far CurrentBalance is from the initial
// balance plus the applied transactions in the snapshot. Accounts that
// agree are omitted.
func (s *Snapshot) Drift() map[string]money.Amount {
	expected := make(map[string]money.Amount, len(s.Accounts))
	for _, a := range s.Accounts {
		expected[a.ID] = a.InitialBalance
	}
	for i := range s.Transactions {
		tx := &s.Transactions[i]
		if !tx.Applied() {
			continue
		}
		for _, d := range tx.Effects() {
			if bal, ok := expected[d.AccountID]; ok {
				expected[d.AccountID] = bal.Add(d.Amount)
			}
		}
	}
	drift := make(map[string]money.Amount)
	for _, a := range s.Accounts {
		if diff := a.CurrentBalance.Sub(expected[a.ID]); !diff.IsZero() {
			drift[a.ID] = diff
		}
	}
	return drift
}

// Result describes a written backup.
type Result struct {
	URI          string `json:"uri"`
	Accounts     int    `json:"accounts"`
	Transactions int    `json:"transactions"`
	Bytes        int    `json:"bytes"`
}

// Service takes and loads backups.
type Service struct {
	source  Source
	storage ObjectStorage
	bucket  string
	now     func() time.Time
	log     zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the fallback logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New creates a Service writing into bucket.
func New(source Source, storage ObjectStorage, bucket string, opts ...Option) *Service {
	s := &Service{
		source:  source,
		storage: storage,
		bucket:  bucket,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ObjectName is where a backup taken at t is stored.
func ObjectName(workspaceID string, t time.Time) string {
	return fmt.Sprintf("backups/%s/%s.json", workspaceID, t.UTC().Format(timestampLayout))
}

// Snapshot reads the workspace into memory. The accounts are read after
// the transactions so a concurrent write shows up as drift rather than
// going unnoticed.
func (s *Service) Snapshot(ctx context.Context, workspaceID string) (*Snapshot, error) {
	snap := &Snapshot{
		FormatVersion: FormatVersion,
		WorkspaceID:   workspaceID,
		CreatedAt:     s.now().UTC(),
	}

	txs, err := store.CollectTransactions(ctx, s.source, workspaceID, store.TransactionQuery{Limit: store.MaxPageSize})
	if err != nil {
		return nil, fmt.Errorf("Snapshot: transactions: %w", err)
	}
	snap.Transactions = txs

	if snap.Accounts, err = s.source.ListAccounts(ctx, workspaceID); err != nil {
		return nil, fmt.Errorf("Snapshot: accounts: %w", err)
	}
	if snap.Categories, err = s.source.ListCategories(ctx, workspaceID); err != nil {
		return nil, fmt.Errorf("Snapshot: categories: %w", err)
	}
	if snap.CreditCards, err = s.source.ListCreditCards(ctx, workspaceID); err != nil {
		return nil, fmt.Errorf("Snapshot: credit cards: %w", err)
	}
	return snap, nil
}

// Backup snapshots the workspace and uploads it as
// gs://<bucket>/backups/<workspace>/<timestamp>.json.
func (s *Service) Backup(ctx context.Context, workspaceID string) (Result, error) {
	log := logger.FromContextOr(ctx, s.log).With().Str("workspace_id", workspaceID).Logger()
	if s.bucket == "" {
		return Result{}, fmt.Errorf("Backup: no bucket configured")
	}

	snap, err := s.Snapshot(ctx, workspaceID)
	if err != nil {
		return Result{}, err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("Backup: encoding snapshot: %w", err)
	}

	object := ObjectName(workspaceID, snap.CreatedAt)
	if err := s.storage.Upload(ctx, s.bucket, object, "application/json", data); err != nil {
		return Result{}, fmt.Errorf("Backup: %w", err)
	}

	res := Result{
		URI:          URI(s.bucket, object),
		Accounts:     len(snap.Accounts),
		Transactions: len(snap.Transactions),
		Bytes:        len(data),
	}
	if drift := snap.Drift(); len(drift) > 0 {
		log.Warn().Int("accounts", len(drift)).Msg("backup contains balance drift")
	}
	log.Info().Str("uri", res.URI).Int("transactions", res.Transactions).Msg("backup written")
	return res, nil
}

// Load downloads and decodes a backup.
func (s *Service) Load(ctx context.Context, uri string) (*Snapshot, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	data, err := s.storage.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("Load: decoding %s: %w", Filename(uri), err)
	}
	if snap.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("Load: unsupported format version %d", snap.FormatVersion)
	}
	return &snap, nil
}

// HandleJob runs a backup job.
func (s *Service) HandleJob(ctx context.Context, job *jobs.WorkspaceJob) (any, error) {
	return s.Backup(ctx, job.WorkspaceID)
}
