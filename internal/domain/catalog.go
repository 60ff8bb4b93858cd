package domain

import (
	"time"

	"github.com/dvloznov/finance-ledger/internal/money"
)

// CategoryType is the kind of transaction a category labels.
type CategoryType string

const (
	CategoryTypeIncome  CategoryType = "income"
	CategoryTypeExpense CategoryType = "expense"
)

// Category labels transactions for reporting.
type Category struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspace_id"`
	Name        string       `json:"name"`
	Type        CategoryType `json:"type"`
	Color       string       `json:"color,omitempty"`
	Icon        string       `json:"icon,omitempty"`
	IsSystem    bool         `json:"is_system"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Key identifies a category by name and type, the pair used for
// deduplication.
func (c Category) Key() string {
	return c.Name + "|" + string(c.Type)
}

// DefaultCategories are seeded into every new workspace.
var DefaultCategories = []Category{
	{Name: "Food", Type: CategoryTypeExpense},
	{Name: "Transport", Type: CategoryTypeExpense},
	{Name: "Housing", Type: CategoryTypeExpense},
	{Name: "Health", Type: CategoryTypeExpense},
	{Name: "Education", Type: CategoryTypeExpense},
	{Name: "Leisure", Type: CategoryTypeExpense},
	{Name: "Subscriptions", Type: CategoryTypeExpense},
	{Name: "Shopping", Type: CategoryTypeExpense},
	{Name: "Other (expense)", Type: CategoryTypeExpense},
	{Name: "Salary", Type: CategoryTypeIncome},
	{Name: "Freelance", Type: CategoryTypeIncome},
	{Name: "Investments", Type: CategoryTypeIncome},
	{Name: "Other (income)", Type: CategoryTypeIncome},
}

// CreditCard carries the billing cycle used to schedule installments.
// Card charges land on the transaction's AccountID; the card has no
// balance of its own.
type CreditCard struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspace_id"`
	Name        string        `json:"name"`
	ClosingDay  int           `json:"closing_day"`
	DueDay      int           `json:"due_day"`
	Limit       *money.Amount `json:"limit,omitempty"`
	IsActive    bool          `json:"is_active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

const (
	DefaultClosingDay = 1
	DefaultDueDay     = 10
)

// MemberRole is a member's role inside a workspace.
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// Workspace is the tenancy boundary. Every other entity is partitioned by
// workspace id.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is a user's membership in a workspace.
type Member struct {
	WorkspaceID string     `json:"workspace_id"`
	UserID      string     `json:"user_id"`
	Email       string     `json:"email"`
	Role        MemberRole `json:"role"`
	JoinedAt    time.Time  `json:"joined_at"`
}
