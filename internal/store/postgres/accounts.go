package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, workspace_id, name, type, initial_balance::text, current_balance::text,
	yield_rate::text, COALESCE(yield_reference, ''), COALESCE(color, ''), is_active, version, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a                domain.Account
		initial, current string
		yieldRate        *string
	)
	err := row.Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Type, &initial, &current,
		&yieldRate, &a.YieldReference, &a.Color, &a.IsActive, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.InitialBalance = money.MustParse(initial)
	a.CurrentBalance = money.MustParse(current)
	if yieldRate != nil {
		rate, err := decimal.NewFromString(*yieldRate)
		if err != nil {
			return nil, fmt.Errorf("scanAccount: yield rate: %w", err)
		}
		a.YieldRate = &rate
	}
	return &a, nil
}

func (r *repo) ListAccounts(ctx context.Context, workspaceID string) ([]domain.Account, error) {
	rows, err := r.q.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE workspace_id = $1 ORDER BY id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAccounts: scan: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *repo) GetAccount(ctx context.Context, workspaceID, accountID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE workspace_id = $1 AND id = $2`
	if r.forUpdate {
		// Lock the row, preventing lost balance updates.
		query += ` FOR UPDATE`
	}
	a, err := scanAccount(r.q.QueryRow(ctx, query, workspaceID, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return a, nil
}

func (r *repo) UpdateAccount(ctx context.Context, workspaceID, accountID string, patch domain.AccountPatch) error {
	sets := []string{"version = version + 1", "updated_at = NOW()"}
	args := []any{workspaceID, accountID}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.IsActive != nil {
		add("is_active", *patch.IsActive)
	}
	if patch.Color != nil {
		add("color", nullable(*patch.Color))
	}
	if patch.YieldRate != nil {
		add("yield_rate", patch.YieldRate.String())
	}
	if patch.YieldReference != nil {
		add("yield_reference", nullable(*patch.YieldReference))
	}
	if patch.CurrentBalance != nil {
		add("current_balance", patch.CurrentBalance.String())
	}

	query := `UPDATE accounts SET ` + strings.Join(sets, ", ") + ` WHERE workspace_id = $1 AND id = $2`
	if patch.ExpectedVersion != 0 {
		args = append(args, patch.ExpectedVersion)
		query += fmt.Sprintf(" AND version = $%d", len(args))
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("UpdateAccount: exec: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE workspace_id = $1 AND id = $2)`, workspaceID, accountID).Scan(&exists); err != nil {
		return fmt.Errorf("UpdateAccount: checking existence: %w", err)
	}
	if exists {
		return domain.ErrVersionConflict
	}
	return domain.ErrAccountNotFound
}

func (r *repo) CreateAccount(ctx context.Context, workspaceID string, a *domain.Account) (string, error) {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	var yieldRate any
	if a.YieldRate != nil {
		yieldRate = a.YieldRate.String()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO accounts (id, workspace_id, name, type, initial_balance, current_balance,
			yield_rate, yield_reference, color, is_active, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)`,
		id, workspaceID, a.Name, string(a.Type), a.InitialBalance.String(), a.CurrentBalance.String(),
		yieldRate, nullable(a.YieldReference), nullable(a.Color), a.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return "", domain.ErrDuplicate
		}
		return "", fmt.Errorf("CreateAccount: insert: %w", err)
	}
	return id, nil
}
