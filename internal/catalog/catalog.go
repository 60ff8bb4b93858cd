// Package catalog manages workspaces and the reference entities around the
// ledger: accounts, categories and credit cards.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// Backend is the persistence the catalog needs.
type Backend interface {
	store.CatalogStore
	ListAccounts(ctx context.Context, workspaceID string) ([]domain.Account, error)
	GetAccount(ctx context.Context, workspaceID, accountID string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, workspaceID, accountID string, patch domain.AccountPatch) error
}

// Service implements the catalog operations.
type Service struct {
	store Backend
}

// New creates a Service.
func New(s Backend) *Service {
	return &Service{store: s}
}

// User identifies the caller.
type User struct {
	ID    string
	Email string
}

// CreateWorkspace creates a workspace with the caller as its admin and
// seeds the default categories.
func (s *Service) CreateWorkspace(ctx context.Context, name string, user User) (*domain.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalid("name", "workspace name is required")
	}
	if user.ID == "" {
		return nil, domain.Invalid("user_id", "user is required")
	}

	ws := &domain.Workspace{Name: name, CreatedBy: user.ID}
	id, err := s.store.CreateWorkspace(ctx, ws, domain.Member{UserID: user.ID, Email: user.Email, Role: domain.RoleAdmin})
	if err != nil {
		return nil, fmt.Errorf("CreateWorkspace: %w", err)
	}
	if _, err := s.SeedDefaultCategories(ctx, id); err != nil {
		return nil, fmt.Errorf("CreateWorkspace: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("workspace_id", id).Str("user_id", user.ID).Msg("workspace created")
	return s.store.GetWorkspace(ctx, id)
}

// ListWorkspaces returns the workspaces userID belongs to.
func (s *Service) ListWorkspaces(ctx context.Context, userID string) ([]domain.Workspace, error) {
	return s.store.ListWorkspacesByUser(ctx, userID)
}

// Member returns userID's membership, or domain.ErrForbidden when the user
// does not belong to the workspace.
func (s *Service) Member(ctx context.Context, workspaceID, userID string) (*domain.Member, error) {
	m, err := s.store.GetMember(ctx, workspaceID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrForbidden
	}
	return m, err
}

// IsMember reports whether userID belongs to the workspace.
func (s *Service) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	_, err := s.Member(ctx, workspaceID, userID)
	if errors.Is(err, domain.ErrForbidden) {
		return false, nil
	}
	return err == nil, err
}

// AccountInput holds the fields of a new account.
type AccountInput struct {
	Name           string             `json:"name"`
	Type           domain.AccountType `json:"type"`
	InitialBalance money.Amount       `json:"initial_balance"`
	Color          string             `json:"color,omitempty"`
	YieldRate      *decimal.Decimal   `json:"yield_rate,omitempty"`
	YieldReference string             `json:"yield_reference,omitempty"`
}

// CreateAccount opens an account whose current balance starts at the
// initial balance.
func (s *Service) CreateAccount(ctx context.Context, workspaceID string, in AccountInput) (*domain.Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Invalid("name", "account name is required")
	}
	if in.Type == "" {
		in.Type = domain.AccountTypeBank
	}
	if !in.Type.Valid() {
		return nil, domain.Invalid("type", fmt.Sprintf("unknown account type %q", in.Type))
	}

	id, err := s.store.CreateAccount(ctx, workspaceID, &domain.Account{
		Name:           name,
		Type:           in.Type,
		InitialBalance: in.InitialBalance,
		CurrentBalance: in.InitialBalance,
		Color:          in.Color,
		YieldRate:      in.YieldRate,
		YieldReference: in.YieldReference,
		IsActive:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("CreateAccount: %w", err)
	}
	return s.store.GetAccount(ctx, workspaceID, id)
}

// ListAccounts returns the workspace's accounts.
func (s *Service) ListAccounts(ctx context.Context, workspaceID string) ([]domain.Account, error) {
	return s.store.ListAccounts(ctx, workspaceID)
}

// AccountUpdate changes the descriptive fields of an account. Balances are
// owned by the ledger and cannot be set here.
type AccountUpdate struct {
	Name            *string          `json:"name,omitempty"`
	IsActive        *bool            `json:"is_active,omitempty"`
	Color           *string          `json:"color,omitempty"`
	YieldRate       *decimal.Decimal `json:"yield_rate,omitempty"`
	YieldReference  *string          `json:"yield_reference,omitempty"`
	ExpectedVersion int64            `json:"version,omitempty"`
}

// UpdateAccount applies u and returns the stored account.
func (s *Service) UpdateAccount(ctx context.Context, workspaceID, accountID string, u AccountUpdate) (*domain.Account, error) {
	if u.Name != nil {
		trimmed := strings.TrimSpace(*u.Name)
		if trimmed == "" {
			return nil, domain.Invalid("name", "account name cannot be empty")
		}
		u.Name = &trimmed
	}
	patch := domain.AccountPatch{
		Name:            u.Name,
		IsActive:        u.IsActive,
		Color:           u.Color,
		YieldRate:       u.YieldRate,
		YieldReference:  u.YieldReference,
		ExpectedVersion: u.ExpectedVersion,
	}
	if err := s.store.UpdateAccount(ctx, workspaceID, accountID, patch); err != nil {
		return nil, fmt.Errorf("UpdateAccount: %w", err)
	}
	return s.store.GetAccount(ctx, workspaceID, accountID)
}

// ListCategories returns the workspace's categories with duplicates of the
// same name and type collapsed to the oldest.
func (s *Service) ListCategories(ctx context.Context, workspaceID string) ([]domain.Category, error) {
	all, err := s.store.ListCategories(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}
	return dedupe(all), nil
}

func dedupe(categories []domain.Category) []domain.Category {
	seen := make(map[string]bool, len(categories))
	out := make([]domain.Category, 0, len(categories))
	for _, c := range categories {
		if seen[c.Key()] {
			continue
		}
		seen[c.Key()] = true
		out = append(out, c)
	}
	return out
}

// SeedDefaultCategories adds the default categories the workspace is
// missing and returns how many were added.
func (s *Service) SeedDefaultCategories(ctx context.Context, workspaceID string) (int, error) {
	existing, err := s.store.ListCategories(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("SeedDefaultCategories: listing: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.Key()] = true
	}

	added := 0
	for _, c := range domain.DefaultCategories {
		if have[c.Key()] {
			continue
		}
		c.IsSystem = true
		if _, err := s.store.CreateCategory(ctx, workspaceID, &c); err != nil {
			return added, fmt.Errorf("SeedDefaultCategories: creating %s: %w", c.Name, err)
		}
		added++
	}
	return added, nil
}

// CategoryInput holds the fields of a new category.
type CategoryInput struct {
	Name  string              `json:"name"`
	Type  domain.CategoryType `json:"type"`
	Color string              `json:"color,omitempty"`
	Icon  string              `json:"icon,omitempty"`
}

// CreateCategory adds a category. A category with the same name and type
// is rejected with domain.ErrDuplicate.
func (s *Service) CreateCategory(ctx context.Context, workspaceID string, in CategoryInput) (*domain.Category, error) {
	c := domain.Category{Name: strings.TrimSpace(in.Name), Type: in.Type, Color: in.Color, Icon: in.Icon}
	if c.Name == "" {
		return nil, domain.Invalid("name", "category name is required")
	}
	if c.Type != domain.CategoryTypeIncome && c.Type != domain.CategoryTypeExpense {
		return nil, domain.Invalid("type", "category type must be income or expense")
	}

	existing, err := s.store.ListCategories(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("CreateCategory: listing: %w", err)
	}
	for _, e := range existing {
		if strings.EqualFold(e.Name, c.Name) && e.Type == c.Type {
			return nil, fmt.Errorf("CreateCategory: %q: %w", c.Name, domain.ErrDuplicate)
		}
	}

	id, err := s.store.CreateCategory(ctx, workspaceID, &c)
	if err != nil {
		return nil, fmt.Errorf("CreateCategory: %w", err)
	}
	c.ID = id
	c.WorkspaceID = workspaceID
	return &c, nil
}

// CreditCardInput holds the fields of a new credit card. Zero days fall
// back to the defaults.
type CreditCardInput struct {
	Name       string        `json:"name"`
	ClosingDay int           `json:"closing_day"`
	DueDay     int           `json:"due_day"`
	Limit      *money.Amount `json:"limit,omitempty"`
}

// CreateCreditCard registers a card and its billing cycle.
func (s *Service) CreateCreditCard(ctx context.Context, workspaceID string, in CreditCardInput) (*domain.CreditCard, error) {
	card := domain.CreditCard{
		Name:       strings.TrimSpace(in.Name),
		ClosingDay: in.ClosingDay,
		DueDay:     in.DueDay,
		Limit:      in.Limit,
		IsActive:   true,
	}
	if card.Name == "" {
		return nil, domain.Invalid("name", "card name is required")
	}
	if card.ClosingDay == 0 {
		card.ClosingDay = domain.DefaultClosingDay
	}
	if card.DueDay == 0 {
		card.DueDay = domain.DefaultDueDay
	}
	if card.ClosingDay < 1 || card.ClosingDay > 31 {
		return nil, domain.Invalid("closing_day", "closing day must be between 1 and 31")
	}
	if card.DueDay < 1 || card.DueDay > 31 {
		return nil, domain.Invalid("due_day", "due day must be between 1 and 31")
	}
	if card.Limit != nil && card.Limit.IsNegative() {
		return nil, domain.Invalid("limit", "limit cannot be negative")
	}

	id, err := s.store.CreateCreditCard(ctx, workspaceID, &card)
	if err != nil {
		return nil, fmt.Errorf("CreateCreditCard: %w", err)
	}
	return s.store.GetCreditCard(ctx, workspaceID, id)
}

// ListCreditCards returns the workspace's cards.
func (s *Service) ListCreditCards(ctx context.Context, workspaceID string) ([]domain.CreditCard, error) {
	return s.store.ListCreditCards(ctx, workspaceID)
}

// GetCreditCard returns one card.
func (s *Service) GetCreditCard(ctx context.Context, workspaceID, cardID string) (*domain.CreditCard, error) {
	return s.store.GetCreditCard(ctx, workspaceID, cardID)
}

// BillingCycle returns the closing and due days for an installment
// purchase on cardID. An empty cardID yields the defaults.
func (s *Service) BillingCycle(ctx context.Context, workspaceID, cardID string) (closingDay, dueDay int, err error) {
	if cardID == "" {
		return domain.DefaultClosingDay, domain.DefaultDueDay, nil
	}
	card, err := s.store.GetCreditCard(ctx, workspaceID, cardID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, 0, domain.Invalid("credit_card_id", "credit card does not exist")
		}
		return 0, 0, err
	}
	return card.ClosingDay, card.DueDay, nil
}
