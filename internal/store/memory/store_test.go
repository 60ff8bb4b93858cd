package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New(WithIDGenerator(seqIDs()))
	accID, err := s.CreateAccount(ctx, "ws", &domain.Account{Name: "Main", InitialBalance: money.MustParse("100"), CurrentBalance: money.MustParse("100")})
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	boom := errors.New("boom")
	err = s.RunInTx(ctx, "ws", func(ctx context.Context, tx store.LedgerStore) error {
		balance := money.MustParse("50")
		if err := tx.UpdateAccount(ctx, "ws", accID, domain.AccountPatch{CurrentBalance: &balance}); err != nil {
			return err
		}
		if _, err := tx.CreateTransaction(ctx, "ws", &domain.Transaction{Type: domain.TransactionTypeExpense, Amount: balance}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx() error = %v, want boom", err)
	}

	acc, _ := s.GetAccount(ctx, "ws", accID)
	if acc.CurrentBalance.String() != "100.00" {
		t.Errorf("balance after rollback = %s, want 100.00", acc.CurrentBalance)
	}
	page, _ := s.QueryTransactions(ctx, "ws", store.TransactionQuery{})
	if len(page.Transactions) != 0 {
		t.Errorf("transactions after rollback = %d, want 0", len(page.Transactions))
	}
}

func TestRunInTx_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := New()
	accID, _ := s.CreateAccount(ctx, "ws", &domain.Account{Name: "Main"})

	err := s.RunInTx(ctx, "ws", func(ctx context.Context, tx store.LedgerStore) error {
		balance := money.MustParse("75")
		return tx.UpdateAccount(ctx, "ws", accID, domain.AccountPatch{CurrentBalance: &balance, ExpectedVersion: 1})
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
	acc, _ := s.GetAccount(ctx, "ws", accID)
	if acc.CurrentBalance.String() != "75.00" || acc.Version != 2 {
		t.Errorf("account = %s v%d, want 75.00 v2", acc.CurrentBalance, acc.Version)
	}
}

func TestUpdateAccount_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	accID, _ := s.CreateAccount(ctx, "ws", &domain.Account{Name: "Main"})

	balance := money.MustParse("1")
	err := s.UpdateAccount(ctx, "ws", accID, domain.AccountPatch{CurrentBalance: &balance, ExpectedVersion: 7})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("UpdateAccount() error = %v, want ErrVersionConflict", err)
	}
}

func TestQueryTransactions_Pagination(t *testing.T) {
	ctx := context.Background()
	s := New(WithIDGenerator(seqIDs()))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		// two records per day to exercise the id tiebreak
		date := base.AddDate(0, 0, i/2)
		if _, err := s.CreateTransaction(ctx, "ws", &domain.Transaction{Type: domain.TransactionTypeIncome, Amount: money.FromCents(100), Date: date}); err != nil {
			t.Fatalf("CreateTransaction() error = %v", err)
		}
	}

	for _, desc := range []bool{false, true} {
		q := store.TransactionQuery{Descending: desc, Limit: 3}
		var seen []domain.Transaction
		pages := 0
		for {
			page, err := s.QueryTransactions(ctx, "ws", q)
			if err != nil {
				t.Fatalf("QueryTransactions() error = %v", err)
			}
			pages++
			seen = append(seen, page.Transactions...)
			if page.NextCursor == nil {
				break
			}
			q.Cursor = page.NextCursor
		}
		if len(seen) != 7 || pages != 3 {
			t.Fatalf("desc=%v: got %d records in %d pages", desc, len(seen), pages)
		}
		for i := 1; i < len(seen); i++ {
			prev, cur := seen[i-1], seen[i]
			ordered := prev.Date.Before(cur.Date) || (prev.Date.Equal(cur.Date) && prev.ID < cur.ID)
			if desc {
				ordered = prev.Date.After(cur.Date) || (prev.Date.Equal(cur.Date) && prev.ID > cur.ID)
			}
			if !ordered {
				t.Errorf("desc=%v: records %s and %s out of order", desc, prev.ID, cur.ID)
			}
		}
	}
}

func TestCreateTransaction_RejectsDuplicateOccurrence(t *testing.T) {
	ctx := context.Background()
	s := New()
	occ := &domain.Transaction{Type: domain.TransactionTypeExpense, Amount: money.FromCents(1), RecurrenceParentID: "tpl", RecurrenceIndex: 2}
	if _, err := s.CreateTransaction(ctx, "ws", occ); err != nil {
		t.Fatalf("first CreateTransaction() error = %v", err)
	}
	if _, err := s.CreateTransaction(ctx, "ws", occ); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("second CreateTransaction() error = %v, want ErrDuplicate", err)
	}
}

func TestWorkspaceMembership(t *testing.T) {
	ctx := context.Background()
	s := New()
	wsID, err := s.CreateWorkspace(ctx, &domain.Workspace{Name: "Home", CreatedBy: "u1"}, domain.Member{UserID: "u1", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	m, err := s.GetMember(ctx, wsID, "u1")
	if err != nil || m.Role != domain.RoleAdmin {
		t.Fatalf("GetMember() = %+v, %v", m, err)
	}
	if _, err := s.GetMember(ctx, wsID, "u2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetMember(u2) error = %v, want ErrNotFound", err)
	}
	list, _ := s.ListWorkspacesByUser(ctx, "u1")
	if len(list) != 1 || list[0].ID != wsID {
		t.Errorf("ListWorkspacesByUser() = %+v", list)
	}
	if _, err := s.GetWorkspace(ctx, "missing"); !errors.Is(err, domain.ErrWorkspaceNotFound) {
		t.Errorf("GetWorkspace(missing) error = %v", err)
	}
}
