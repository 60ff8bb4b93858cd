package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/events"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
)

const ws = "ws-1"

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fixture struct {
	store  *memory.Store
	ledger *Ledger
	clock  *fakeClock
	events *events.Recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, time.February, 20, 12, 0, 0, 0, time.UTC)}
	s := memory.New(memory.WithClock(clock.Now))
	rec := &events.Recorder{}
	base := []Option{WithClock(clock.Now), WithLocation(time.UTC), WithEvents(rec)}
	return &fixture{
		store:  s,
		ledger: New(s, append(base, opts...)...),
		clock:  clock,
		events: rec,
	}
}

func (f *fixture) account(t *testing.T, name, initial string) string {
	t.Helper()
	amount := money.MustParse(initial)
	id, err := f.store.CreateAccount(context.Background(), ws, &domain.Account{
		Name:           name,
		Type:           domain.AccountTypeBank,
		InitialBalance: amount,
		CurrentBalance: amount,
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	return id
}

func (f *fixture) balance(t *testing.T, accountID string) string {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), ws, accountID)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	return acc.CurrentBalance.String()
}

func (f *fixture) today() time.Time { return f.clock.now.Add(-time.Hour) }

func TestExpenseLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.account(t, "A", "1000.00")

	id, err := f.ledger.CreateTransaction(ctx, ws, "user-1", TransactionInput{
		Type: domain.TransactionTypeExpense, Amount: money.MustParse("150.00"), AccountID: a, Date: f.today(),
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}
	if got := f.balance(t, a); got != "850.00" {
		t.Errorf("after create balance = %s, want 850.00", got)
	}

	updated, err := f.ledger.UpdateTransaction(ctx, ws, "user-1", id, TransactionInput{
		Type: domain.TransactionTypeExpense, Amount: money.MustParse("200.00"), AccountID: a, Date: f.today(),
	})
	if err != nil {
		t.Fatalf("UpdateTransaction() error = %v", err)
	}
	if !updated.Applied() || updated.Amount.String() != "200.00" {
		t.Errorf("updated record = %+v", updated)
	}
	if got := f.balance(t, a); got != "800.00" {
		t.Errorf("after update balance = %s, want 800.00", got)
	}

	if err := f.ledger.DeleteTransaction(ctx, ws, id); err != nil {
		t.Fatalf("DeleteTransaction() error = %v", err)
	}
	if got := f.balance(t, a); got != "1000.00" {
		t.Errorf("after delete balance = %s, want 1000.00", got)
	}

	want := []string{events.TransactionCreated, events.TransactionUpdated, events.TransactionDeleted}
	got := f.events.Types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCreateTransaction_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.account(t, "A", "100")
	b := f.account(t, "B", "100")

	tests := []struct {
		name  string
		in    TransactionInput
		field string
	}{
		{"zero amount", TransactionInput{Type: domain.TransactionTypeExpense, Amount: money.Zero, AccountID: a, Date: f.today()}, "amount"},
		{"unknown type", TransactionInput{Type: "gift", Amount: money.MustParse("1"), AccountID: a, Date: f.today()}, "type"},
		{"missing account", TransactionInput{Type: domain.TransactionTypeIncome, Amount: money.MustParse("1"), Date: f.today()}, "account_id"},
		{"unknown account", TransactionInput{Type: domain.TransactionTypeIncome, Amount: money.MustParse("1"), AccountID: "nope", Date: f.today()}, "account_id"},
		{"transfer without target", TransactionInput{Type: domain.TransactionTypeTransfer, Amount: money.MustParse("1"), AccountID: a, Date: f.today()}, "target_account_id"},
		{"transfer to itself", TransactionInput{Type: domain.TransactionTypeTransfer, Amount: money.MustParse("1"), AccountID: a, TargetAccountID: a, Date: f.today()}, "target_account_id"},
		{"transfer to unknown", TransactionInput{Type: domain.TransactionTypeTransfer, Amount: money.MustParse("1"), AccountID: a, TargetAccountID: "nope", Date: f.today()}, "target_account_id"},
		{"recurring without frequency", TransactionInput{Type: domain.TransactionTypeExpense, Amount: money.MustParse("1"), AccountID: b, Date: f.today(), IsRecurring: true}, "recurrence_frequency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.CreateTransaction(ctx, ws, "u", tt.in)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("CreateTransaction() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}

	page, _ := f.store.QueryTransactions(ctx, ws, store.TransactionQuery{})
	if len(page.Transactions) != 0 {
		t.Errorf("rejected commands stored %d records", len(page.Transactions))
	}
	if f.balance(t, a) != "100.00" || f.balance(t, b) != "100.00" {
		t.Error("rejected commands changed balances")
	}
}

func TestTransferSymmetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.account(t, "A", "500")
	b := f.account(t, "B", "20")

	id, err := f.ledger.CreateTransaction(ctx, ws, "u", TransactionInput{
		Type: domain.TransactionTypeTransfer, Amount: money.MustParse("120.55"), AccountID: a, TargetAccountID: b, Date: f.today(),
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}
	if f.balance(t, a) != "379.45" || f.balance(t, b) != "140.55" {
		t.Errorf("after transfer a=%s b=%s", f.balance(t, a), f.balance(t, b))
	}

	if err := f.ledger.DeleteTransaction(ctx, ws, id); err != nil {
		t.Fatalf("DeleteTransaction() error = %v", err)
	}
	if f.balance(t, a) != "500.00" || f.balance(t, b) != "20.00" {
		t.Errorf("after delete a=%s b=%s", f.balance(t, a), f.balance(t, b))
	}
}

func TestUpdateTransaction_MovesEffectBetweenAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.account(t, "A", "100")
	b := f.account(t, "B", "100")
	c := f.account(t, "C", "100")

	id, _ := f.ledger.CreateTransaction(ctx, ws, "u", TransactionInput{
		Type: domain.TransactionTypeTransfer, Amount: money.MustParse("30"), AccountID: a, TargetAccountID: b, Date: f.today(),
	})
	_, err := f.ledger.UpdateTransaction(ctx, ws, "u", id, TransactionInput{
		Type: domain.TransactionTypeIncome, Amount: money.MustParse("10"), AccountID: c, TargetAccountID: b, Date: f.today(),
	})
	if err != nil {
		t.Fatalf("UpdateTransaction() error = %v", err)
	}
	if f.balance(t, a) != "100.00" || f.balance(t, b) != "100.00" || f.balance(t, c) != "110.00" {
		t.Errorf("balances a=%s b=%s c=%s", f.balance(t, a), f.balance(t, b), f.balance(t, c))
	}
	tx, _ := f.ledger.GetTransaction(ctx, ws, id)
	if tx.TargetAccountID != "" {
		t.Errorf("non-transfer kept target %q", tx.TargetAccountID)
	}
}

func TestUpdateAndDelete_NotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.account(t, "A", "100")

	_, err := f.ledger.UpdateTransaction(ctx, ws, "u", "missing", TransactionInput{
		Type: domain.TransactionTypeExpense, Amount: money.MustParse("1"), AccountID: a, Date: f.today(),
	})
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Errorf("UpdateTransaction() error = %v, want ErrTransactionNotFound", err)
	}
	if err := f.ledger.DeleteTransaction(ctx, ws, "missing"); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Errorf("DeleteTransaction() error = %v, want ErrTransactionNotFound", err)
	}
	if f.balance(t, a) != "100.00" {
		t.Errorf("balance changed to %s", f.balance(t, a))
	}
}

func TestFutureTransaction_DeferredThenApplied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	deferred := f.account(t, "deferred", "1000")
	direct := f.account(t, "direct", "1000")

	due := f.clock.now.AddDate(0, 0, 3)
	id, err := f.ledger.CreateTransaction(ctx, ws, "u", TransactionInput{
		Type: domain.TransactionTypeExpense, Amount: money.MustParse("99.90"), AccountID: deferred, Date: due,
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}
	tx, _ := f.ledger.GetTransaction(ctx, ws, id)
	if tx.Applied() {
		t.Fatal("future transaction applied at creation")
	}
	if f.balance(t, deferred) != "1000.00" {
		t.Errorf("future transaction changed balance to %s", f.balance(t, deferred))
	}

	applied, err := f.ledger.ApplyDeferred(ctx, ws, id)
	if err != nil || applied {
		t.Fatalf("ApplyDeferred() before due = %v, %v", applied, err)
	}

	f.clock.now = due.Add(time.Hour)
	if _, err := f.ledger.CreateTransaction(ctx, ws, "u", TransactionInput{
		Type: domain.TransactionTypeExpense, Amount: money.MustParse("99.90"), AccountID: direct, Date: due,
	}); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	applied, err = f.ledger.ApplyDeferred(ctx, ws, id)
	if err != nil || !applied {
		t.Fatalf("ApplyDeferred() when due = %v, %v", applied, err)
	}
	if f.balance(t, deferred) != f.balance(t, direct) {
		t.Errorf("deferred=%s direct=%s, want equal", f.balance(t, deferred), f.balance(t, direct))
	}

	applied, err = f.ledger.ApplyDeferred(ctx, ws, id)
	if err != nil || applied {
		t.Errorf("second ApplyDeferred() = %v, %v; want no-op", applied, err)
	}
	if f.balance(t, deferred) != "900.10" {
		t.Errorf("balance = %s, want 900.10", f.balance(t, deferred))
	}
}

func TestApplyDeferred_DueLaterToday(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.account(t, "A", "50")

	later := f.clock.now.Add(6 * time.Hour)
	id, _ := f.ledger.CreateTransaction(ctx, ws, "u", TransactionInput{
		Type: domain.TransactionTypeIncome, Amount: money.MustParse("5"), AccountID: a, Date: later,
	})
	applied, err := f.ledger.ApplyDeferred(ctx, ws, id)
	if err != nil || !applied {
		t.Fatalf("ApplyDeferred() = %v, %v; same calendar day should be due", applied, err)
	}
	if f.balance(t, a) != "55.00" {
		t.Errorf("balance = %s, want 55.00", f.balance(t, a))
	}
}

func TestDeleteUnapplied_RevertPolicy(t *testing.T) {
	tests := []struct {
		policy RevertPolicy
		want   string
	}{
		{RevertWhenApplied, "1000.00"},
		// Reverses an effect that was never applied.
		{RevertAlways, "1200.00"},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, WithRevertPolicy(tt.policy))
			a := f.account(t, "A", "1000")
			id, _ := f.ledger.CreateTransaction(ctx, ws, "u", TransactionInput{
				Type: domain.TransactionTypeExpense, Amount: money.MustParse("200"), AccountID: a, Date: f.clock.now.AddDate(0, 1, 0),
			})
			if err := f.ledger.DeleteTransaction(ctx, ws, id); err != nil {
				t.Fatalf("DeleteTransaction() error = %v", err)
			}
			if got := f.balance(t, a); got != tt.want {
				t.Errorf("balance = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUpdate_MovesDateAcrossNow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.account(t, "A", "1000")

	id, _ := f.ledger.CreateTransaction(ctx, ws, "u", TransactionInput{
		Type: domain.TransactionTypeExpense, Amount: money.MustParse("100"), AccountID: a, Date: f.today(),
	})
	tx, err := f.ledger.UpdateTransaction(ctx, ws, "u", id, TransactionInput{
		Type: domain.TransactionTypeExpense, Amount: money.MustParse("100"), AccountID: a, Date: f.clock.now.AddDate(0, 0, 10),
	})
	if err != nil {
		t.Fatalf("UpdateTransaction() error = %v", err)
	}
	if tx.Applied() || f.balance(t, a) != "1000.00" {
		t.Errorf("moved to future: state=%s balance=%s", tx.BalanceState, f.balance(t, a))
	}

	tx, err = f.ledger.UpdateTransaction(ctx, ws, "u", id, TransactionInput{
		Type: domain.TransactionTypeExpense, Amount: money.MustParse("40"), AccountID: a, Date: f.today(),
	})
	if err != nil {
		t.Fatalf("UpdateTransaction() error = %v", err)
	}
	if !tx.Applied() || f.balance(t, a) != "960.00" {
		t.Errorf("moved back: state=%s balance=%s", tx.BalanceState, f.balance(t, a))
	}
}

func TestRecurringTemplateRequiresValidFrequency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.account(t, "A", "0")

	id, err := f.ledger.CreateTransaction(ctx, ws, "u", TransactionInput{
		Type: domain.TransactionTypeIncome, Amount: money.MustParse("10"), AccountID: a, Date: f.today(),
		IsRecurring: true, RecurrenceFrequency: domain.FrequencyMonthly,
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}
	tx, _ := f.ledger.GetTransaction(ctx, ws, id)
	if !tx.IsTemplate() || tx.CreatedBy != "u" {
		t.Errorf("template = %+v", tx)
	}
}

func TestParseRevertPolicy(t *testing.T) {
	for in, want := range map[string]RevertPolicy{"": RevertWhenApplied, "ALWAYS": RevertAlways, " when_applied ": RevertWhenApplied} {
		got, err := ParseRevertPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseRevertPolicy(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseRevertPolicy("sometimes"); err == nil {
		t.Error("ParseRevertPolicy(sometimes) error = nil")
	}
}
