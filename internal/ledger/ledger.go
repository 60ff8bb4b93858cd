// Package ledger keeps account balances consistent with the transactions
// that touch them. Every operation that moves money runs as one store
// transaction: the accounts it touches are locked in id order, balance
// writes are conditional on the account version, and the whole operation is
// retried when a concurrent writer wins the race.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/events"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/rs/zerolog"
)

// Backend is the persistence the ledger needs.
type Backend interface {
	store.LedgerStore
	store.TxRunner
}

// RevertPolicy decides when update and delete reverse a transaction's
// balance effect.
type RevertPolicy string

const (
	// RevertWhenApplied reverses only effects that were applied, and reapplies
	// an updated record only when its new date has arrived.
	RevertWhenApplied RevertPolicy = "when_applied"
	// RevertAlways reverses on every update and delete and always reapplies on
	// update, whatever the balance state. Deleting a deferred record under
	// this policy changes balances that never included it.
	RevertAlways RevertPolicy = "always"
)

// ParseRevertPolicy maps a configuration value to a policy.
func ParseRevertPolicy(s string) (RevertPolicy, error) {
	switch RevertPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RevertWhenApplied:
		return RevertWhenApplied, nil
	case RevertAlways:
		return RevertAlways, nil
	}
	return "", fmt.Errorf("unknown revert policy %q", s)
}

// DefaultMaxAttempts bounds retries after a version conflict.
const DefaultMaxAttempts = 3

// Ledger applies, reverts and defers transaction balance effects.
type Ledger struct {
	store       Backend
	events      events.Publisher
	now         func() time.Time
	loc         *time.Location
	policy      RevertPolicy
	maxAttempts int
	log         zerolog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the source of "now" used to decide whether a date is in
// the future.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the time zone of calendar-day comparisons.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// WithRevertPolicy overrides RevertWhenApplied.
func WithRevertPolicy(p RevertPolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

// WithEvents sets the publisher notified after each committed change.
func WithEvents(p events.Publisher) Option {
	return func(l *Ledger) { l.events = p }
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithMaxAttempts bounds attempts per operation under version conflicts.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// New creates a Ledger over s.
func New(s Backend, opts ...Option) *Ledger {
	l := &Ledger{
		store:       s,
		events:      events.Noop{},
		now:         time.Now,
		loc:         time.Local,
		policy:      RevertWhenApplied,
		maxAttempts: DefaultMaxAttempts,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the configured revert policy.
func (l *Ledger) Policy() RevertPolicy { return l.policy }

// Location returns the time zone used for calendar-day comparisons.
func (l *Ledger) Location() *time.Location { return l.loc }

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time { return l.now() }

func (l *Ledger) loggerFor(ctx context.Context) zerolog.Logger {
	return logger.FromContextOr(ctx, l.log)
}

// atomically runs fn in a store transaction and retries the whole
// operation when a balance write loses a version race. fn must not carry
// state between attempts.
func (l *Ledger) atomically(ctx context.Context, workspaceID, op string, fn func(ctx context.Context, s store.LedgerStore) error) error {
	for attempt := 1; ; attempt++ {
		err := l.store.RunInTx(ctx, workspaceID, fn)
		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		log := l.loggerFor(ctx)
		log.Warn().
			Str("workspace_id", workspaceID).
			Str("operation", op).
			Int("attempt", attempt).
			Msg("balance write lost a concurrent update; operation rolled back")
		if attempt >= l.maxAttempts {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// publish delivers an event after commit. Failures never fail the
// operation that produced the event.
func (l *Ledger) publish(ctx context.Context, event events.LedgerEvent) {
	event.OccurredAt = l.now()
	if err := l.events.Publish(ctx, event); err != nil {
		log := l.loggerFor(ctx)
		log.Error().Err(err).
			Str("event", event.Type).
			Str("workspace_id", event.WorkspaceID).
			Msg("failed to publish ledger event")
	}
}
