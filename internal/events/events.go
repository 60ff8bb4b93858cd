// Package events describes the notifications the ledger emits after a
// committed change.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/money"
)

// Routing keys.
const (
	TransactionCreated  = "transaction.created"
	TransactionUpdated  = "transaction.updated"
	TransactionDeleted  = "transaction.deleted"
	TransactionApplied  = "transaction.applied"
	InstallmentsCreated = "installments.created"
	BalancesReconciled  = "balances.reconciled"
)

// LedgerEvent is the payload published for every routing key.
type LedgerEvent struct {
	Type          string                  `json:"type"`
	WorkspaceID   string                  `json:"workspace_id"`
	TransactionID string                  `json:"transaction_id,omitempty"`
	PurchaseID    string                  `json:"purchase_id,omitempty"`
	Count         int                     `json:"count,omitempty"`
	Transaction   *domain.Transaction     `json:"transaction,omitempty"`
	Balances      map[string]money.Amount `json:"balances,omitempty"`
	ActorID       string                  `json:"actor_id,omitempty"`
	OccurredAt    time.Time               `json:"occurred_at"`
}

// Publisher delivers ledger events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event LedgerEvent) error
	Close() error
}

// Noop drops every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(ctx context.Context, event LedgerEvent) error { return nil }
func (Noop) Close() error                                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []LedgerEvent
}

func (r *Recorder) Publish(ctx context.Context, event LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []LedgerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LedgerEvent(nil), r.events...)
}

// Types returns the routing keys published so far, in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
