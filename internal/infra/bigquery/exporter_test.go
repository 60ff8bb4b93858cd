package bigquery

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
)

const ws = "ws-1"

type recordingPut struct {
	calls map[string][][]*bigquery.StructSaver
	err   error
}

func (p *recordingPut) put(ctx context.Context, table string, rows []*bigquery.StructSaver) error {
	if p.err != nil {
		return p.err
	}
	if p.calls == nil {
		p.calls = make(map[string][][]*bigquery.StructSaver)
	}
	p.calls[table] = append(p.calls[table], append([]*bigquery.StructSaver(nil), rows...))
	return nil
}

func (p *recordingPut) rows(table string) []*bigquery.StructSaver {
	var out []*bigquery.StructSaver
	for _, batch := range p.calls[table] {
		out = append(out, batch...)
	}
	return out
}

func rat(s string) *big.Rat {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		panic("bad rational " + s)
	}
	return r
}

func TestTransactionRow(t *testing.T) {
	exportedAt := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	sp, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name       string
		tx         domain.Transaction
		loc        *time.Location
		wantSigned string
		wantDate   civil.Date
	}{
		{
			name:       "income is positive",
			tx:         domain.Transaction{Type: domain.TransactionTypeIncome, Amount: money.MustParse("10.50"), AccountID: "a", Date: exportedAt},
			loc:        time.UTC,
			wantSigned: "21/2",
			wantDate:   civil.Date{Year: 2024, Month: time.March, Day: 1},
		},
		{
			name:       "expense is negative",
			tx:         domain.Transaction{Type: domain.TransactionTypeExpense, Amount: money.MustParse("3.25"), AccountID: "a", Date: exportedAt},
			loc:        time.UTC,
			wantSigned: "-13/4",
			wantDate:   civil.Date{Year: 2024, Month: time.March, Day: 1},
		},
		{
			name: "transfer leaves the source",
			tx: domain.Transaction{Type: domain.TransactionTypeTransfer, Amount: money.MustParse("5"), AccountID: "a",
				TargetAccountID: "b", Date: exportedAt},
			loc:        time.UTC,
			wantSigned: "-5",
			wantDate:   civil.Date{Year: 2024, Month: time.March, Day: 1},
		},
		{
			name:       "date follows the workspace calendar",
			tx:         domain.Transaction{Type: domain.TransactionTypeYield, Amount: money.MustParse("1"), AccountID: "a", Date: time.Date(2024, time.March, 1, 1, 0, 0, 0, time.UTC)},
			loc:        sp,
			wantSigned: "1",
			wantDate:   civil.Date{Year: 2024, Month: time.February, Day: 29},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := TransactionRow(tt.tx, tt.loc, exportedAt)
			if row.SignedAmount.Cmp(rat(tt.wantSigned)) != 0 {
				t.Errorf("SignedAmount = %s, want %s", row.SignedAmount.RatString(), tt.wantSigned)
			}
			if row.Amount.Sign() <= 0 {
				t.Errorf("Amount = %s, want positive", row.Amount.RatString())
			}
			if row.Date != tt.wantDate {
				t.Errorf("Date = %v, want %v", row.Date, tt.wantDate)
			}
		})
	}
}

func TestTransactionRow_NullableColumns(t *testing.T) {
	tx := domain.Transaction{
		ID: "t1", WorkspaceID: ws, Type: domain.TransactionTypeExpense, Amount: money.MustParse("33.33"),
		AccountID: "a", CreditCardID: "card", CreditCardPurchaseID: "t0", InstallmentNumber: 2,
		Date: time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC), BalanceState: domain.BalanceUnapplied,
	}
	row := TransactionRow(tx, time.UTC, time.Now())

	if row.TargetAccountID.Valid || row.CategoryID.Valid || row.Description.Valid || row.RecurrenceParentID.Valid {
		t.Errorf("empty columns must be NULL: %+v", row)
	}
	if !row.CreditCardID.Valid || row.CreditCardID.StringVal != "card" {
		t.Errorf("CreditCardID = %v", row.CreditCardID)
	}
	if !row.InstallmentNumber.Valid || row.InstallmentNumber.Int64 != 2 {
		t.Errorf("InstallmentNumber = %v", row.InstallmentNumber)
	}
	if row.BalanceState != "unapplied" {
		t.Errorf("BalanceState = %q", row.BalanceState)
	}

	tx.InstallmentNumber = 0
	if row := TransactionRow(tx, time.UTC, time.Now()); row.InstallmentNumber.Valid {
		t.Errorf("InstallmentNumber must be NULL outside installment groups")
	}
}

func seed(t *testing.T, s *memory.Store, n int) {
	t.Helper()
	ctx := context.Background()
	acc, err := s.CreateAccount(ctx, ws, &domain.Account{
		Name: "Checking", Type: domain.AccountTypeBank, InitialBalance: money.MustParse("100"),
		CurrentBalance: money.MustParse("100"), IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	for i := 0; i < n; i++ {
		_, err := s.CreateTransaction(ctx, ws, &domain.Transaction{
			Type: domain.TransactionTypeExpense, Amount: money.MustParse("1"), AccountID: acc,
			Date: time.Date(2024, time.January, 1+i, 0, 0, 0, 0, time.UTC), BalanceState: domain.BalanceApplied,
		})
		if err != nil {
			t.Fatalf("CreateTransaction() error = %v", err)
		}
	}
}

func TestExportWorkspace(t *testing.T) {
	now := time.Date(2024, time.February, 1, 8, 30, 0, 0, time.UTC)
	s := memory.New()
	seed(t, s, 7)

	p := &recordingPut{}
	e := newExporter(s, p.put, WithBatchSize(3), WithClock(func() time.Time { return now }))

	res, err := e.ExportWorkspace(context.Background(), ws)
	if err != nil {
		t.Fatalf("ExportWorkspace() error = %v", err)
	}
	if res.Transactions != 7 || res.Accounts != 1 {
		t.Errorf("result = %+v, want 7 transactions and 1 account", res)
	}
	if got := len(p.calls[transactionsExportTable]); got != 3 {
		t.Errorf("transaction batches = %d, want 3", got)
	}

	seen := make(map[string]bool)
	for _, saver := range p.rows(transactionsExportTable) {
		if seen[saver.InsertID] {
			t.Errorf("duplicate insert id %q", saver.InsertID)
		}
		seen[saver.InsertID] = true
		row := saver.Struct.(*TransactionExportRow)
		if !row.ExportedAt.Equal(now) {
			t.Errorf("ExportedAt = %v, want %v", row.ExportedAt, now)
		}
	}

	snaps := p.rows(accountSnapshotsTable)
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	snap := snaps[0].Struct.(*AccountSnapshotRow)
	if snap.SnapshotDate != (civil.Date{Year: 2024, Month: time.February, Day: 1}) {
		t.Errorf("SnapshotDate = %v", snap.SnapshotDate)
	}
	if snap.CurrentBalance.Cmp(rat("100")) != 0 {
		t.Errorf("CurrentBalance = %s, want 100", snap.CurrentBalance.RatString())
	}
}

func TestExportWorkspace_InsertError(t *testing.T) {
	s := memory.New()
	seed(t, s, 2)
	boom := errors.New("quota exceeded")
	e := newExporter(s, (&recordingPut{err: boom}).put)

	if _, err := e.ExportWorkspace(context.Background(), ws); !errors.Is(err, boom) {
		t.Fatalf("ExportWorkspace() error = %v, want %v", err, boom)
	}
}

func TestHandleJob(t *testing.T) {
	s := memory.New()
	seed(t, s, 1)
	p := &recordingPut{}
	e := newExporter(s, p.put)

	out, err := e.HandleJob(context.Background(), &jobs.WorkspaceJob{Type: jobs.JobTypeExportAnalytics, WorkspaceID: ws})
	if err != nil {
		t.Fatalf("HandleJob() error = %v", err)
	}
	if res, ok := out.(ExportResult); !ok || res.Transactions != 1 {
		t.Errorf("HandleJob() = %#v", out)
	}
}

func TestRatToAmount(t *testing.T) {
	if got := ratToAmount(rat("1234567/100")).String(); got != "12345.67" {
		t.Errorf("ratToAmount = %s", got)
	}
	if got := ratToAmount(nil); !got.IsZero() {
		t.Errorf("ratToAmount(nil) = %s", got)
	}
}

func TestMonthlyTotals_RequiresClient(t *testing.T) {
	e := newExporter(memory.New(), nil)
	if _, err := e.MonthlyTotals(context.Background(), ws, time.Now(), time.Now()); err == nil {
		t.Fatal("MonthlyTotals() without a client should fail")
	}
}
