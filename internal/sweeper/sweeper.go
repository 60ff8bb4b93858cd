// Package sweeper applies the balance effect of deferred transactions once
// their calendar day arrives.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/dates"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/rs/zerolog"
)

// Ledger is the part of the balance ledger the sweeper drives.
type Ledger interface {
	ListTransactions(ctx context.Context, workspaceID string, q store.TransactionQuery) (*store.TransactionPage, error)
	ApplyDeferred(ctx context.Context, workspaceID, transactionID string) (bool, error)
	Now() time.Time
	Location() *time.Location
}

// Result summarizes one sweep.
type Result struct {
	Scanned  int `json:"scanned"`
	Eligible int `json:"eligible"`
	Applied  int `json:"applied"`
	Failed   int `json:"failed"`
}

// Sweeper scans a workspace for unapplied transactions that are due.
type Sweeper struct {
	ledger   Ledger
	pageSize int
	log      zerolog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithPageSize sets how many records are read per query page.
func WithPageSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Sweeper) { s.log = log }
}

// New creates a Sweeper.
func New(l Ledger, opts ...Option) *Sweeper {
	s := &Sweeper{ledger: l, pageSize: store.DefaultPageSize, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyPendingTransactions applies every unapplied transaction whose
// calendar day is today or earlier. Each record commits on its own, so a
// failure leaves the others applied; the failures are joined into the
// returned error. Calling it again is a no-op until new records fall due.
func (s *Sweeper) ApplyPendingTransactions(ctx context.Context, workspaceID string) (Result, error) {
	var res Result
	log := logger.FromContextOr(ctx, s.log).With().Str("workspace_id", workspaceID).Logger()

	now := s.ledger.Now()
	loc := s.ledger.Location()
	horizon := dates.StartOfNextDay(now, loc)
	q := store.TransactionQuery{
		Descending: true,
		Limit:      s.pageSize,
		State:      domain.BalanceUnapplied,
		DateBefore: &horizon,
	}

	var due []string
	for {
		page, err := s.ledger.ListTransactions(ctx, workspaceID, q)
		if err != nil {
			return res, fmt.Errorf("ApplyPendingTransactions: scanning: %w", err)
		}
		for _, tx := range page.Transactions {
			res.Scanned++
			if tx.Applied() || !dates.SameOrBeforeDay(tx.Date, now, loc) {
				continue
			}
			due = append(due, tx.ID)
		}
		if page.NextCursor == nil {
			break
		}
		q.Cursor = page.NextCursor
	}
	res.Eligible = len(due)

	var errs []error
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		applied, err := s.ledger.ApplyDeferred(ctx, workspaceID, id)
		if err != nil {
			res.Failed++
			log.Error().Err(err).Str("transaction_id", id).Msg("failed to apply pending transaction")
			errs = append(errs, fmt.Errorf("transaction %s: %w", id, err))
			continue
		}
		if applied {
			res.Applied++
		}
	}

	if res.Eligible > 0 {
		log.Info().
			Int("scanned", res.Scanned).
			Int("applied", res.Applied).
			Int("failed", res.Failed).
			Msg("pending transactions swept")
	}
	if len(errs) > 0 {
		return res, fmt.Errorf("ApplyPendingTransactions: %w", errors.Join(errs...))
	}
	return res, nil
}
