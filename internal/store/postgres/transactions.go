package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, workspace_id, type, amount::text, account_id, COALESCE(target_account_id, ''),
	COALESCE(category_id, ''), COALESCE(credit_card_id, ''), COALESCE(description, ''), date, balance_state,
	COALESCE(credit_card_purchase_id, ''), COALESCE(installment_number, 0), is_recurring,
	COALESCE(recurrence_frequency, ''), COALESCE(recurrence_parent_id, ''), COALESCE(recurrence_index, 0),
	created_by, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t      domain.Transaction
		amount string
	)
	err := row.Scan(&t.ID, &t.WorkspaceID, &t.Type, &amount, &t.AccountID, &t.TargetAccountID,
		&t.CategoryID, &t.CreditCardID, &t.Description, &t.Date, &t.BalanceState,
		&t.CreditCardPurchaseID, &t.InstallmentNumber, &t.IsRecurring,
		&t.RecurrenceFrequency, &t.RecurrenceParentID, &t.RecurrenceIndex,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Amount = money.MustParse(amount)
	return &t, nil
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func (r *repo) CreateTransaction(ctx context.Context, workspaceID string, t *domain.Transaction) (string, error) {
	id := t.ID
	if id == "" {
		id = uuid.NewString()
	}
	state := t.BalanceState
	if state == "" {
		state = domain.BalanceUnapplied
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO transactions (id, workspace_id, type, amount, account_id, target_account_id, category_id,
			credit_card_id, description, date, balance_state, credit_card_purchase_id, installment_number,
			is_recurring, recurrence_frequency, recurrence_parent_id, recurrence_index, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		id, workspaceID, string(t.Type), t.Amount.String(), t.AccountID, nullable(t.TargetAccountID),
		nullable(t.CategoryID), nullable(t.CreditCardID), nullable(t.Description), t.Date, string(state),
		nullable(t.CreditCardPurchaseID), nullableInt(t.InstallmentNumber), t.IsRecurring,
		nullable(string(t.RecurrenceFrequency)), nullable(t.RecurrenceParentID), nullableInt(t.RecurrenceIndex),
		t.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return "", domain.ErrDuplicate
		}
		return "", fmt.Errorf("CreateTransaction: insert: %w", err)
	}
	return id, nil
}

func (r *repo) GetTransaction(ctx context.Context, workspaceID, transactionID string) (*domain.Transaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE workspace_id = $1 AND id = $2`, workspaceID, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	return t, nil
}

func (r *repo) UpdateTransaction(ctx context.Context, workspaceID, transactionID string, p domain.TransactionPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{workspaceID, transactionID}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if p.Type != nil {
		add("type", string(*p.Type))
	}
	if p.Amount != nil {
		add("amount", p.Amount.String())
	}
	if p.AccountID != nil {
		add("account_id", *p.AccountID)
	}
	if p.TargetAccountID != nil {
		add("target_account_id", nullable(*p.TargetAccountID))
	}
	if p.CategoryID != nil {
		add("category_id", nullable(*p.CategoryID))
	}
	if p.CreditCardID != nil {
		add("credit_card_id", nullable(*p.CreditCardID))
	}
	if p.Description != nil {
		add("description", nullable(*p.Description))
	}
	if p.Date != nil {
		add("date", *p.Date)
	}
	if p.BalanceState != nil {
		add("balance_state", string(*p.BalanceState))
	}
	if p.CreditCardPurchaseID != nil {
		add("credit_card_purchase_id", nullable(*p.CreditCardPurchaseID))
	}
	if p.InstallmentNumber != nil {
		add("installment_number", nullableInt(*p.InstallmentNumber))
	}

	tag, err := r.q.Exec(ctx, `UPDATE transactions SET `+strings.Join(sets, ", ")+` WHERE workspace_id = $1 AND id = $2`, args...)
	if err != nil {
		return fmt.Errorf("UpdateTransaction: exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (r *repo) DeleteTransaction(ctx context.Context, workspaceID, transactionID string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM transactions WHERE workspace_id = $1 AND id = $2`, workspaceID, transactionID)
	if err != nil {
		return fmt.Errorf("DeleteTransaction: exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// buildTransactionQuery renders q as keyset-paginated SQL. It fetches one
// extra row to detect whether another page exists.
func buildTransactionQuery(workspaceID string, q store.TransactionQuery) (string, []any) {
	conds := []string{"workspace_id = $1"}
	args := []any{workspaceID}
	add := func(format string, values ...any) {
		placeholders := make([]any, len(values))
		for i, v := range values {
			args = append(args, v)
			placeholders[i] = len(args)
		}
		conds = append(conds, fmt.Sprintf(format, placeholders...))
	}

	if q.DateFrom != nil {
		add("date >= $%d", *q.DateFrom)
	}
	if q.DateTo != nil {
		add("date <= $%d", *q.DateTo)
	}
	if q.DateBefore != nil {
		add("date < $%d", *q.DateBefore)
	}
	if q.State != "" {
		add("balance_state = $%d", string(q.State))
	}
	if q.TemplatesOnly {
		conds = append(conds, "is_recurring AND recurrence_frequency IS NOT NULL")
	}
	if q.RecurrenceParentID != "" {
		add("recurrence_parent_id = $%d", q.RecurrenceParentID)
	}
	if q.CreditCardPurchaseID != "" {
		add("credit_card_purchase_id = $%d", q.CreditCardPurchaseID)
	}
	if q.AccountID != "" {
		add("(account_id = $%d OR target_account_id = $%d)", q.AccountID, q.AccountID)
	}
	if q.CategoryID != "" {
		add("category_id = $%d", q.CategoryID)
	}

	order := "ASC"
	cmp := ">"
	if q.Descending {
		order = "DESC"
		cmp = "<"
	}
	if q.Cursor != nil {
		add("(date, id) "+cmp+" ($%d, $%d)", q.Cursor.Date, q.Cursor.ID)
	}

	args = append(args, q.PageSize()+1)
	sql := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY date %s, id %s LIMIT $%d`,
		transactionColumns, strings.Join(conds, " AND "), order, order, len(args))
	return sql, args
}

func (r *repo) QueryTransactions(ctx context.Context, workspaceID string, q store.TransactionQuery) (*store.TransactionPage, error) {
	sql, args := buildTransactionQuery(workspaceID, q)
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactions: query: %w", err)
	}
	defer rows.Close()

	page := &store.TransactionPage{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("QueryTransactions: scan: %w", err)
		}
		page.Transactions = append(page.Transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("QueryTransactions: rows: %w", err)
	}

	if size := q.PageSize(); len(page.Transactions) > size {
		page.Transactions = page.Transactions[:size]
		page.NextCursor = store.CursorAfter(page.Transactions[size-1])
	}
	return page, nil
}
