package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateWorkspace inserts the workspace and its owner in one transaction.
func (s *Store) CreateWorkspace(ctx context.Context, ws *domain.Workspace, owner domain.Member) (string, error) {
	id := ws.ID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("CreateWorkspace: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO workspaces (id, name, created_by) VALUES ($1, $2, $3)`, id, ws.Name, ws.CreatedBy); err != nil {
		if isUniqueViolation(err) {
			return "", domain.ErrDuplicate
		}
		return "", fmt.Errorf("CreateWorkspace: insert workspace: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO workspace_members (workspace_id, user_id, email, role) VALUES ($1, $2, $3, $4)`,
		id, owner.UserID, nullable(owner.Email), string(owner.Role)); err != nil {
		return "", fmt.Errorf("CreateWorkspace: insert member: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("CreateWorkspace: commit: %w", err)
	}
	return id, nil
}

func (s *Store) GetWorkspace(ctx context.Context, workspaceID string) (*domain.Workspace, error) {
	var ws domain.Workspace
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_by, created_at, updated_at FROM workspaces WHERE id = $1`, workspaceID).
		Scan(&ws.ID, &ws.Name, &ws.CreatedBy, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("GetWorkspace: %w", err)
	}
	return &ws, nil
}

func (s *Store) ListWorkspacesByUser(ctx context.Context, userID string) ([]domain.Workspace, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.id, w.name, w.created_by, w.created_at, w.updated_at
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListWorkspacesByUser: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Workspace
	for rows.Next() {
		var ws domain.Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.CreatedBy, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListWorkspacesByUser: scan: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *Store) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM workspaces ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListWorkspaceIDs: query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListWorkspaceIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetMember(ctx context.Context, workspaceID, userID string) (*domain.Member, error) {
	var m domain.Member
	err := s.pool.QueryRow(ctx, `
		SELECT workspace_id, user_id, COALESCE(email, ''), role, joined_at
		FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID).
		Scan(&m.WorkspaceID, &m.UserID, &m.Email, &m.Role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("GetMember: %w", err)
	}
	return &m, nil
}

func (s *Store) ListCategories(ctx context.Context, workspaceID string) ([]domain.Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, name, type, COALESCE(color, ''), COALESCE(icon, ''), is_system, created_at
		FROM categories WHERE workspace_id = $1 ORDER BY created_at, id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Type, &c.Color, &c.Icon, &c.IsSystem, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListCategories: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCategory(ctx context.Context, workspaceID string, c *domain.Category) (string, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO categories (id, workspace_id, name, type, color, icon, is_system)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, workspaceID, c.Name, string(c.Type), nullable(c.Color), nullable(c.Icon), c.IsSystem)
	if err != nil {
		return "", fmt.Errorf("CreateCategory: insert: %w", err)
	}
	return id, nil
}

const creditCardColumns = `id, workspace_id, name, closing_day, due_day, credit_limit::text, is_active, created_at, updated_at`

func scanCreditCard(row pgx.Row) (*domain.CreditCard, error) {
	var (
		c     domain.CreditCard
		limit *string
	)
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.ClosingDay, &c.DueDay, &limit, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if limit != nil {
		l := money.MustParse(*limit)
		c.Limit = &l
	}
	return &c, nil
}

func (s *Store) ListCreditCards(ctx context.Context, workspaceID string) ([]domain.CreditCard, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+creditCardColumns+` FROM credit_cards WHERE workspace_id = $1 ORDER BY lower(name)`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("ListCreditCards: query: %w", err)
	}
	defer rows.Close()

	var out []domain.CreditCard
	for rows.Next() {
		c, err := scanCreditCard(rows)
		if err != nil {
			return nil, fmt.Errorf("ListCreditCards: scan: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) GetCreditCard(ctx context.Context, workspaceID, cardID string) (*domain.CreditCard, error) {
	c, err := scanCreditCard(s.pool.QueryRow(ctx, `SELECT `+creditCardColumns+` FROM credit_cards WHERE workspace_id = $1 AND id = $2`, workspaceID, cardID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCreditCardNotFound
		}
		return nil, fmt.Errorf("GetCreditCard: %w", err)
	}
	return c, nil
}

func (s *Store) CreateCreditCard(ctx context.Context, workspaceID string, c *domain.CreditCard) (string, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	var limit any
	if c.Limit != nil {
		limit = c.Limit.String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credit_cards (id, workspace_id, name, closing_day, due_day, credit_limit, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, workspaceID, c.Name, c.ClosingDay, c.DueDay, limit, c.IsActive)
	if err != nil {
		return "", fmt.Errorf("CreateCreditCard: insert: %w", err)
	}
	return id, nil
}
