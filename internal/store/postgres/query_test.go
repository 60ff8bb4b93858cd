package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
)

func TestBuildTransactionQuery(t *testing.T) {
	before := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		q        store.TransactionQuery
		contains []string
		args     int
	}{
		{
			name:     "defaults ascending",
			q:        store.TransactionQuery{},
			contains: []string{"WHERE workspace_id = $1", "ORDER BY date ASC, id ASC", "LIMIT $2"},
			args:     2,
		},
		{
			name: "sweep query",
			q: store.TransactionQuery{
				Descending: true,
				Limit:      50,
				DateBefore: &before,
				State:      domain.BalanceUnapplied,
				Cursor:     &store.Cursor{Date: before, ID: "x"},
			},
			contains: []string{"date < $2", "balance_state = $3", "(date, id) < ($4, $5)", "ORDER BY date DESC, id DESC", "LIMIT $6"},
			args:     6,
		},
		{
			name:     "account matches both sides",
			q:        store.TransactionQuery{AccountID: "acc"},
			contains: []string{"(account_id = $2 OR target_account_id = $3)"},
			args:     4,
		},
		{
			name:     "templates",
			q:        store.TransactionQuery{TemplatesOnly: true},
			contains: []string{"is_recurring AND recurrence_frequency IS NOT NULL"},
			args:     2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildTransactionQuery("ws", tt.q)
			for _, want := range tt.contains {
				if !strings.Contains(sql, want) {
					t.Errorf("SQL missing %q:\n%s", want, sql)
				}
			}
			if len(args) != tt.args {
				t.Errorf("len(args) = %d, want %d", len(args), tt.args)
			}
			if last := args[len(args)-1]; last != tt.q.PageSize()+1 {
				t.Errorf("limit arg = %v, want %d", last, tt.q.PageSize()+1)
			}
		})
	}
}
