package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/catalog"
	"github.com/dvloznov/finance-ledger/internal/domain"
)

// CatalogHandler handles workspaces and the reference entities inside them.
type CatalogHandler struct {
	catalog *catalog.Service
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(c *catalog.Service) *CatalogHandler {
	return &CatalogHandler{catalog: c}
}

// ListWorkspaces handles GET /api/workspaces
func (h *CatalogHandler) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := h.catalog.ListWorkspaces(r.Context(), caller(r).ID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list workspaces")
		return
	}
	if workspaces == nil {
		workspaces = []domain.Workspace{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workspaces": workspaces,
		"count":      len(workspaces),
	})
}

// CreateWorkspace handles POST /api/workspaces
func (h *CatalogHandler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	ws, err := h.catalog.CreateWorkspace(r.Context(), req.Name, caller(r))
	if err != nil {
		writeServiceError(w, r, err, "Failed to create workspace")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, ws)
}

// ListAccounts handles GET /api/workspaces/{ws}/accounts
func (h *CatalogHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.catalog.ListAccounts(r.Context(), workspaceID(r))
	if err != nil {
		writeServiceError(w, r, err, "Failed to list accounts")
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// CreateAccount handles POST /api/workspaces/{ws}/accounts
func (h *CatalogHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req catalog.AccountInput
	if !decode(w, r, &req) {
		return
	}
	acc, err := h.catalog.CreateAccount(r.Context(), workspaceID(r), req)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create account")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, acc)
}

// UpdateAccount handles PATCH /api/workspaces/{ws}/accounts/{id}
func (h *CatalogHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req catalog.AccountUpdate
	if !decode(w, r, &req) {
		return
	}
	acc, err := h.catalog.UpdateAccount(r.Context(), workspaceID(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update account")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, acc)
}

// ListCategories handles GET /api/workspaces/{ws}/categories
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context(), workspaceID(r))
	if err != nil {
		writeServiceError(w, r, err, "Failed to list categories")
		return
	}
	if categories == nil {
		categories = []domain.Category{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
		"count":      len(categories),
	})
}

// CreateCategory handles POST /api/workspaces/{ws}/categories
func (h *CatalogHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req catalog.CategoryInput
	if !decode(w, r, &req) {
		return
	}
	c, err := h.catalog.CreateCategory(r.Context(), workspaceID(r), req)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create category")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, c)
}

// ListCreditCards handles GET /api/workspaces/{ws}/credit-cards
func (h *CatalogHandler) ListCreditCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.catalog.ListCreditCards(r.Context(), workspaceID(r))
	if err != nil {
		writeServiceError(w, r, err, "Failed to list credit cards")
		return
	}
	if cards == nil {
		cards = []domain.CreditCard{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"credit_cards": cards,
		"count":        len(cards),
	})
}

// CreateCreditCard handles POST /api/workspaces/{ws}/credit-cards
func (h *CatalogHandler) CreateCreditCard(w http.ResponseWriter, r *http.Request) {
	var req catalog.CreditCardInput
	if !decode(w, r, &req) {
		return
	}
	card, err := h.catalog.CreateCreditCard(r.Context(), workspaceID(r), req)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create credit card")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, card)
}
