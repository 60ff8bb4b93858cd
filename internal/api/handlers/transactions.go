package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/catalog"
	"github.com/dvloznov/finance-ledger/internal/catchup"
	"github.com/dvloznov/finance-ledger/internal/dates"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// CatchUp brings a workspace up to date before it is read.
type CatchUp interface {
	Run(ctx context.Context, workspaceID, userID string) (catchup.Result, error)
}

// runCatchUp is best effort: a failure is logged and the read goes ahead
// with whatever is stored.
func runCatchUp(r *http.Request, c CatchUp) {
	if c == nil {
		return
	}
	if _, err := c.Run(r.Context(), workspaceID(r), caller(r).ID); err != nil {
		log := logger.FromContext(r.Context())
		log.Warn().Err(err).Msg("Catch-up before read failed")
	}
}

// TransactionsHandler handles transaction and installment endpoints.
type TransactionsHandler struct {
	ledger  *ledger.Ledger
	catalog *catalog.Service
	catchUp CatchUp
}

// NewTransactionsHandler creates a new transactions handler. catchUp may
// be nil.
func NewTransactionsHandler(l *ledger.Ledger, c *catalog.Service, catchUp CatchUp) *TransactionsHandler {
	return &TransactionsHandler{ledger: l, catalog: c, catchUp: catchUp}
}

type transactionRequest struct {
	Type                domain.TransactionType `json:"type"`
	Amount              money.Amount           `json:"amount"`
	AccountID           string                 `json:"account_id"`
	TargetAccountID     string                 `json:"target_account_id"`
	CategoryID          string                 `json:"category_id"`
	CreditCardID        string                 `json:"credit_card_id"`
	Description         string                 `json:"description"`
	Date                string                 `json:"date"`
	IsRecurring         bool                   `json:"is_recurring"`
	RecurrenceFrequency domain.Frequency       `json:"recurrence_frequency"`
	SkipBalanceUpdate   bool                   `json:"skip_balance_update"`
}

func (req transactionRequest) input(loc *time.Location) (ledger.TransactionInput, error) {
	in := ledger.TransactionInput{
		Type:                req.Type,
		Amount:              req.Amount,
		AccountID:           req.AccountID,
		TargetAccountID:     req.TargetAccountID,
		CategoryID:          req.CategoryID,
		CreditCardID:        req.CreditCardID,
		Description:         req.Description,
		IsRecurring:         req.IsRecurring,
		RecurrenceFrequency: req.RecurrenceFrequency,
		SkipBalanceUpdate:   req.SkipBalanceUpdate,
	}
	if req.Date != "" {
		date, err := dates.ParseDate(req.Date, loc)
		if err != nil {
			return in, domain.Invalid("date", err.Error())
		}
		in.Date = date
	}
	return in, nil
}

// ListTransactions handles GET /api/workspaces/{ws}/transactions
//
// Query parameters: date_from, date_to, account_id, category_id, state,
// order (asc|desc, default desc), limit and cursor.
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	runCatchUp(r, h.catchUp)

	query := r.URL.Query()
	q := store.TransactionQuery{
		Descending: query.Get("order") != "asc",
		AccountID:  query.Get("account_id"),
		CategoryID: query.Get("category_id"),
		State:      domain.BalanceState(query.Get("state")),
	}
	var err error
	if q.DateFrom, err = dateParam(r, "date_from", h.ledger.Location()); err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	if q.DateTo, err = dateParam(r, "date_to", h.ledger.Location()); err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	if q.DateTo != nil && len(query.Get("date_to")) == len(dates.DateLayout) {
		// A bare day includes the whole day.
		end := dates.StartOfNextDay(*q.DateTo, h.ledger.Location()).Add(-time.Nanosecond)
		q.DateTo = &end
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	if token := query.Get("cursor"); token != "" {
		if q.Cursor, err = store.ParseCursor(token); err != nil {
			middleware.WriteFieldError(w, http.StatusBadRequest, "cursor", "Invalid cursor")
			return
		}
	}
	switch q.State {
	case "", domain.BalanceApplied, domain.BalanceUnapplied:
	default:
		middleware.WriteFieldError(w, http.StatusBadRequest, "state", "state must be applied or unapplied")
		return
	}

	page, err := h.ledger.ListTransactions(r.Context(), workspaceID(r), q)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list transactions")
		return
	}
	txs := page.Transactions
	if txs == nil {
		txs = []domain.Transaction{}
	}
	resp := map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	}
	if page.NextCursor != nil {
		resp["next_cursor"] = page.NextCursor.Encode()
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// CreateTransaction handles POST /api/workspaces/{ws}/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.input(h.ledger.Location())
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	ctx := r.Context()
	id, err := h.ledger.CreateTransaction(ctx, workspaceID(r), caller(r).ID, in)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create transaction")
		return
	}
	tx, err := h.ledger.GetTransaction(ctx, workspaceID(r), id)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, tx)
}

// GetTransaction handles GET /api/workspaces/{ws}/transactions/{id}
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.GetTransaction(r.Context(), workspaceID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to load transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// UpdateTransaction handles PUT /api/workspaces/{ws}/transactions/{id}
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.input(h.ledger.Location())
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	tx, err := h.ledger.UpdateTransaction(r.Context(), workspaceID(r), caller(r).ID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// DeleteTransaction handles DELETE /api/workspaces/{ws}/transactions/{id}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeleteTransaction(r.Context(), workspaceID(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err, "Failed to delete transaction")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type installmentRequest struct {
	Amount       money.Amount `json:"amount"`
	Count        int          `json:"count"`
	PurchaseDate string       `json:"purchase_date"`
	CreditCardID string       `json:"credit_card_id"`
	AccountID    string       `json:"account_id"`
	CategoryID   string       `json:"category_id"`
	Description  string       `json:"description"`
}

// CreateInstallments handles POST /api/workspaces/{ws}/installments
//
// The billing cycle comes from the credit card; without a card the default
// cycle is used.
func (h *TransactionsHandler) CreateInstallments(w http.ResponseWriter, r *http.Request) {
	var req installmentRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	ws := workspaceID(r)

	purchase := ledger.InstallmentPurchase{
		TotalAmount:  req.Amount,
		Count:        req.Count,
		CreditCardID: req.CreditCardID,
		AccountID:    req.AccountID,
		CategoryID:   req.CategoryID,
		Description:  req.Description,
	}
	if req.PurchaseDate != "" {
		date, err := dates.ParseDate(req.PurchaseDate, h.ledger.Location())
		if err != nil {
			writeServiceError(w, r, domain.Invalid("purchase_date", err.Error()), "")
			return
		}
		purchase.PurchaseDate = date
	}
	closing, due, err := h.catalog.BillingCycle(ctx, ws, req.CreditCardID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load credit card")
		return
	}
	purchase.ClosingDay, purchase.DueDay = closing, due

	res, err := h.ledger.CreateInstallmentTransactions(ctx, ws, caller(r).ID, purchase)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create installments")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, res)
}

// GetInstallments handles GET /api/workspaces/{ws}/installments/{purchaseID}
func (h *TransactionsHandler) GetInstallments(w http.ResponseWriter, r *http.Request) {
	group, err := h.ledger.InstallmentGroup(r.Context(), workspaceID(r), chi.URLParam(r, "purchaseID"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to load installments")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, group)
}

// UpdateInstallments handles PUT /api/workspaces/{ws}/installments/{purchaseID}
func (h *TransactionsHandler) UpdateInstallments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type            domain.TransactionType `json:"type"`
		AccountID       string                 `json:"account_id"`
		TargetAccountID string                 `json:"target_account_id"`
		CategoryID      string                 `json:"category_id"`
		CreditCardID    string                 `json:"credit_card_id"`
		Description     string                 `json:"description"`
	}
	if !decode(w, r, &req) {
		return
	}
	group, err := h.ledger.UpdateInstallmentGroup(r.Context(), workspaceID(r), caller(r).ID, chi.URLParam(r, "purchaseID"), ledger.GroupUpdate{
		Type:            req.Type,
		AccountID:       req.AccountID,
		TargetAccountID: req.TargetAccountID,
		CategoryID:      req.CategoryID,
		CreditCardID:    req.CreditCardID,
		Description:     req.Description,
	})
	if err != nil {
		writeServiceError(w, r, err, "Failed to update installments")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, group)
}

// DeleteInstallments handles DELETE /api/workspaces/{ws}/installments/{purchaseID}
func (h *TransactionsHandler) DeleteInstallments(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.DeleteInstallmentGroup(r.Context(), workspaceID(r), chi.URLParam(r, "purchaseID"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to delete installments")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
