// Package recurrence materializes the concrete occurrences of recurring
// transaction templates.
package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/dates"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/rs/zerolog"
)

// DefaultMaxCatchUp bounds how many occurrences one template may produce
// in a single call.
const DefaultMaxCatchUp = 24

// Occurrence returns the date of the k-th period after anchor. Month and
// year steps keep the anchor's day, clamped to shorter months, and never
// drift: the 3rd occurrence of Jan 31 is Apr 30, not Apr 28.
func Occurrence(anchor time.Time, freq domain.Frequency, k int) time.Time {
	switch freq {
	case domain.FrequencyWeekly:
		return anchor.AddDate(0, 0, 7*k)
	case domain.FrequencyMonthly:
		return dates.AddMonthsAnchored(anchor, k)
	case domain.FrequencyYearly:
		return dates.AddMonthsAnchored(anchor, 12*k)
	}
	return anchor
}

// Ledger is the part of the balance ledger the expander needs.
type Ledger interface {
	ListTransactions(ctx context.Context, workspaceID string, q store.TransactionQuery) (*store.TransactionPage, error)
	CreateTransaction(ctx context.Context, workspaceID, userID string, in ledger.TransactionInput) (string, error)
	Now() time.Time
	Location() *time.Location
}

// Result summarizes one expansion.
type Result struct {
	Templates int `json:"templates"`
	Created   int `json:"created"`
	Existing  int `json:"existing"`
	Failed    int `json:"failed"`
}

// Expander creates the occurrences of recurring templates that have come
// due. Each occurrence is created at most once per (template, index).
type Expander struct {
	ledger     Ledger
	maxCatchUp int
	pageSize   int
	log        zerolog.Logger
}

// Option configures an Expander.
type Option func(*Expander)

// WithMaxCatchUp caps the occurrences created per template per call.
func WithMaxCatchUp(n int) Option {
	return func(e *Expander) {
		if n > 0 {
			e.maxCatchUp = n
		}
	}
}

// WithPageSize sets the query page size.
func WithPageSize(n int) Option {
	return func(e *Expander) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Expander) { e.log = log }
}

// NewExpander creates an Expander.
func NewExpander(l Ledger, opts ...Option) *Expander {
	e := &Expander{ledger: l, maxCatchUp: DefaultMaxCatchUp, pageSize: store.DefaultPageSize, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Expander) collect(ctx context.Context, workspaceID string, q store.TransactionQuery) ([]domain.Transaction, error) {
	q.Limit = e.pageSize
	var out []domain.Transaction
	for {
		page, err := e.ledger.ListTransactions(ctx, workspaceID, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Transactions...)
		if page.NextCursor == nil {
			return out, nil
		}
		q.Cursor = page.NextCursor
	}
}

// EnsureRecurringInstances creates every elapsed occurrence of every
// template in the workspace that is not yet materialized. userID is
// recorded as the creator; when empty the template's creator is used.
// A template whose occurrence cannot be created is logged and skipped.
func (e *Expander) EnsureRecurringInstances(ctx context.Context, workspaceID, userID string) (Result, error) {
	var res Result
	log := logger.FromContextOr(ctx, e.log).With().Str("workspace_id", workspaceID).Logger()

	templates, err := e.collect(ctx, workspaceID, store.TransactionQuery{TemplatesOnly: true})
	if err != nil {
		return res, fmt.Errorf("EnsureRecurringInstances: listing templates: %w", err)
	}

	now := e.ledger.Now()
	loc := e.ledger.Location()
	for _, tpl := range templates {
		if !tpl.IsTemplate() || !tpl.RecurrenceFrequency.Valid() {
			continue
		}
		res.Templates++

		// Cheap exit before reading the materialized occurrences.
		if !dates.SameOrBeforeDay(Occurrence(tpl.Date, tpl.RecurrenceFrequency, 1), now, loc) {
			continue
		}

		existing, err := e.collect(ctx, workspaceID, store.TransactionQuery{RecurrenceParentID: tpl.ID})
		if err != nil {
			return res, fmt.Errorf("EnsureRecurringInstances: listing occurrences of %s: %w", tpl.ID, err)
		}
		have := make(map[int]bool, len(existing))
		for _, tx := range existing {
			have[tx.RecurrenceIndex] = true
		}

		creator := userID
		if creator == "" {
			creator = tpl.CreatedBy
		}

		created := 0
		for k := 1; created < e.maxCatchUp; k++ {
			date := Occurrence(tpl.Date, tpl.RecurrenceFrequency, k)
			if !dates.SameOrBeforeDay(date, now, loc) {
				break
			}
			if have[k] {
				continue
			}
			_, err := e.ledger.CreateTransaction(ctx, workspaceID, creator, ledger.TransactionInput{
				Type:               tpl.Type,
				Amount:             tpl.Amount,
				AccountID:          tpl.AccountID,
				TargetAccountID:    tpl.TargetAccountID,
				CategoryID:         tpl.CategoryID,
				CreditCardID:       tpl.CreditCardID,
				Description:        tpl.Description,
				Date:               date,
				RecurrenceParentID: tpl.ID,
				RecurrenceIndex:    k,
			})
			if errors.Is(err, domain.ErrDuplicate) {
				// a concurrent expansion got there first
				res.Existing++
				continue
			}
			if err != nil {
				res.Failed++
				log.Warn().Err(err).
					Str("template_id", tpl.ID).
					Int("recurrence_index", k).
					Msg("skipping recurring template")
				break
			}
			created++
		}
		res.Existing += len(have)
		res.Created += created
	}

	if res.Created > 0 {
		log.Info().
			Int("templates", res.Templates).
			Int("created", res.Created).
			Msg("recurring transactions materialized")
	}
	return res, nil
}
