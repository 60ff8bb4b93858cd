// Package reports computes dashboard summaries from the ledger's records.
package reports

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/dates"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// Period selects the date range of a summary.
type Period string

const (
	PeriodThisMonth   Period = "this_month"
	PeriodLastMonth   Period = "last_month"
	PeriodLast3Months Period = "last_3_months"
	PeriodThisYear    Period = "this_year"
	PeriodAll         Period = "all"
)

// ParsePeriod maps a query value to a Period. Empty means this month.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodThisMonth, nil
	case PeriodThisMonth, PeriodLastMonth, PeriodLast3Months, PeriodThisYear, PeriodAll:
		return p, nil
	}
	return "", domain.Invalid("period", fmt.Sprintf("unknown period %q", s))
}

// Range returns the inclusive bounds of p around now. ok is false for
// PeriodAll, which has no bounds.
func Range(p Period, now time.Time, loc *time.Location) (start, end time.Time, ok bool) {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	switch p {
	case PeriodLastMonth:
		last := dates.StartOfMonth(now).AddDate(0, -1, 0)
		return last, dates.EndOfMonth(last), true
	case PeriodLast3Months:
		return dates.StartOfMonth(now).AddDate(0, -2, 0), dates.EndOfMonth(now), true
	case PeriodThisYear:
		jan := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return jan, jan.AddDate(1, 0, 0).Add(-time.Nanosecond), true
	case PeriodAll:
		return time.Time{}, time.Time{}, false
	}
	return dates.StartOfMonth(now), dates.EndOfMonth(now), true
}

// Backend is the read-only persistence reports need.
type Backend interface {
	ListAccounts(ctx context.Context, workspaceID string) ([]domain.Account, error)
	QueryTransactions(ctx context.Context, workspaceID string, q store.TransactionQuery) (*store.TransactionPage, error)
	ListCategories(ctx context.Context, workspaceID string) ([]domain.Category, error)
	ListCreditCards(ctx context.Context, workspaceID string) ([]domain.CreditCard, error)
}

// Slice is one named share of a total.
type Slice struct {
	Name  string       `json:"name"`
	Value money.Amount `json:"value"`
}

// Summary is the dashboard of one workspace over one period.
type Summary struct {
	WorkspaceID string     `json:"workspace_id"`
	Period      Period     `json:"period"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`

	// TotalBalance is the sum of current balances for the current month and
	// for all time, and the replayed balance at End otherwise.
	TotalBalance money.Amount `json:"total_balance"`

	Income                money.Amount         `json:"income"`
	Expense               money.Amount         `json:"expense"`
	ExpenseByCategory     []Slice              `json:"expense_by_category"`
	CardExpense           money.Amount         `json:"card_expense"`
	CardExpenseByCategory []Slice              `json:"card_expense_by_category"`
	CardExpenseByCard     []Slice              `json:"card_expense_by_card"`
	Recent                []domain.Transaction `json:"recent"`
}

const (
	recentCount       = 5
	otherCategoryName = "Other"
	unknownCardName   = "Card"
)

// Service computes summaries.
type Service struct {
	store    Backend
	now      func() time.Time
	loc      *time.Location
	pageSize int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone periods are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithPageSize sets the query page size used when replaying history.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New creates a Service.
func New(b Backend, opts ...Option) *Service {
	s := &Service{store: b, now: time.Now, loc: time.Local, pageSize: store.MaxPageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BalanceAt replays every transaction dated on or before end on top of the
// initial balances and returns the per-account balances and their sum.
// Deferred records count once their date has passed, whether or not the
// sweeper has applied them yet.
func (s *Service) BalanceAt(ctx context.Context, workspaceID string, end time.Time) (map[string]money.Amount, money.Amount, error) {
	accounts, err := s.store.ListAccounts(ctx, workspaceID)
	if err != nil {
		return nil, money.Zero, fmt.Errorf("BalanceAt: listing accounts: %w", err)
	}
	balances := make(map[string]money.Amount, len(accounts))
	for _, a := range accounts {
		balances[a.ID] = a.InitialBalance
	}

	q := store.TransactionQuery{DateTo: &end, Limit: s.pageSize}
	err = store.EachTransaction(ctx, s.store, workspaceID, q, func(tx domain.Transaction) error {
		for _, d := range tx.Effects() {
			balances[d.AccountID] = balances[d.AccountID].Add(d.Amount)
		}
		return nil
	})
	if err != nil {
		return nil, money.Zero, fmt.Errorf("BalanceAt: replaying transactions: %w", err)
	}

	total := money.Zero
	for _, b := range balances {
		total = total.Add(b)
	}
	return balances, total, nil
}

// Summary computes the dashboard for period. A non-empty categoryID
// restricts the expense figures to that category; income is never
// filtered.
func (s *Service) Summary(ctx context.Context, workspaceID string, period Period, categoryID string) (*Summary, error) {
	start, end, bounded := Range(period, s.now(), s.loc)
	sum := &Summary{WorkspaceID: workspaceID, Period: period}
	if bounded {
		sum.Start, sum.End = &start, &end
	}

	if bounded && period != PeriodThisMonth {
		_, total, err := s.BalanceAt(ctx, workspaceID, end)
		if err != nil {
			return nil, fmt.Errorf("Summary: %w", err)
		}
		sum.TotalBalance = total
	} else {
		accounts, err := s.store.ListAccounts(ctx, workspaceID)
		if err != nil {
			return nil, fmt.Errorf("Summary: listing accounts: %w", err)
		}
		for _, a := range accounts {
			sum.TotalBalance = sum.TotalBalance.Add(a.CurrentBalance)
		}
	}

	categories, err := s.store.ListCategories(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("Summary: listing categories: %w", err)
	}
	categoryNames := make(map[string]string, len(categories))
	for _, c := range categories {
		categoryNames[c.ID] = c.Name
	}
	cards, err := s.store.ListCreditCards(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("Summary: listing cards: %w", err)
	}
	cardNames := make(map[string]string, len(cards))
	for _, c := range cards {
		cardNames[c.ID] = c.Name
	}

	byCategory := map[string]money.Amount{}
	cardByCategory := map[string]money.Amount{}
	cardByCard := map[string]money.Amount{}

	q := store.TransactionQuery{Limit: s.pageSize}
	if bounded {
		q.DateFrom, q.DateTo = &start, &end
	}
	err = store.EachTransaction(ctx, s.store, workspaceID, q, func(tx domain.Transaction) error {
		switch tx.Type {
		case domain.TransactionTypeIncome, domain.TransactionTypeYield:
			sum.Income = sum.Income.Add(tx.Amount)
		case domain.TransactionTypeExpense, domain.TransactionTypeInvestment:
			if categoryID != "" && tx.CategoryID != categoryID {
				return nil
			}
			sum.Expense = sum.Expense.Add(tx.Amount)
			name := otherCategoryName
			if n, ok := categoryNames[tx.CategoryID]; ok {
				name = n
			}
			byCategory[name] = byCategory[name].Add(tx.Amount)
			if tx.CreditCardID != "" {
				sum.CardExpense = sum.CardExpense.Add(tx.Amount)
				cardByCategory[name] = cardByCategory[name].Add(tx.Amount)
				card := unknownCardName
				if n, ok := cardNames[tx.CreditCardID]; ok {
					card = n
				}
				cardByCard[card] = cardByCard[card].Add(tx.Amount)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Summary: reading period: %w", err)
	}
	sum.ExpenseByCategory = slices(byCategory)
	sum.CardExpenseByCategory = slices(cardByCategory)
	sum.CardExpenseByCard = slices(cardByCard)

	recent, err := s.store.QueryTransactions(ctx, workspaceID, store.TransactionQuery{Descending: true, Limit: recentCount})
	if err != nil {
		return nil, fmt.Errorf("Summary: recent transactions: %w", err)
	}
	sum.Recent = recent.Transactions
	return sum, nil
}

// slices orders shares largest first, by name on ties.
func slices(m map[string]money.Amount) []Slice {
	out := make([]Slice, 0, len(m))
	for name, v := range m {
		out = append(out, Slice{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Value.Cmp(out[j].Value); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}
