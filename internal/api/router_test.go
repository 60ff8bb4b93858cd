package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/catalog"
	"github.com/dvloznov/finance-ledger/internal/catchup"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/recurrence"
	"github.com/dvloznov/finance-ledger/internal/reports"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/dvloznov/finance-ledger/internal/sweeper"
)

var testSecret = []byte("test-secret")

type testServer struct {
	handler  http.Handler
	jobStore *inmemory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	now := func() time.Time { return time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC) }

	s := memory.New(memory.WithClock(now))
	l := ledger.New(s, ledger.WithClock(now), ledger.WithLocation(time.UTC))
	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(10, jobStore)
	t.Cleanup(func() { _ = queue.Close() })

	h := NewRouter(Deps{
		Ledger:    l,
		Catalog:   catalog.New(s),
		Reports:   reports.New(s, reports.WithClock(now), reports.WithLocation(time.UTC)),
		CatchUp:   catchup.New(recurrence.NewExpander(l), sweeper.New(l)),
		Jobs:      queue,
		JobStore:  jobStore,
		JWTSecret: testSecret,
		Log:       zerolog.Nop(),
		Now:       now,
	})
	return &testServer{handler: h, jobStore: jobStore}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := middleware.SignToken(testSecret, "", userID, userID+"@example.com", time.Hour)
		if err != nil {
			t.Fatalf("SignToken() error = %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, rec.Body.String())
	}
}

// setup creates a workspace owned by alice with one account.
func (s *testServer) setup(t *testing.T) (ws, account string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/workspaces", "alice", map[string]string{"name": "Home"})
	expectStatus(t, rec, http.StatusCreated)
	var w domain.Workspace
	decodeInto(t, rec, &w)

	rec = s.do(t, http.MethodPost, "/api/workspaces/"+w.ID+"/accounts", "alice", map[string]interface{}{
		"name": "Checking", "initial_balance": "1000.00",
	})
	expectStatus(t, rec, http.StatusCreated)
	var acc domain.Account
	decodeInto(t, rec, &acc)
	return w.ID, acc.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("X-Request-ID"); got == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	expectStatus(t, s.do(t, http.MethodGet, "/api/workspaces", "", nil), http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/api/workspaces", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)

	forged, err := middleware.SignToken([]byte("other-secret"), "", "alice", "", time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/workspaces", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestTransactionLifecycle(t *testing.T) {
	s := newTestServer(t)
	ws, acc := s.setup(t)
	base := "/api/workspaces/" + ws

	rec := s.do(t, http.MethodPost, base+"/transactions", "alice", map[string]interface{}{
		"type": "expense", "amount": "150.00", "account_id": acc, "date": "2024-05-09", "description": "Groceries",
	})
	expectStatus(t, rec, http.StatusCreated)
	var tx domain.Transaction
	decodeInto(t, rec, &tx)
	if tx.BalanceState != domain.BalanceApplied {
		t.Errorf("BalanceState = %q, want applied", tx.BalanceState)
	}

	balance := func() string {
		t.Helper()
		rec := s.do(t, http.MethodGet, base+"/accounts", "alice", nil)
		expectStatus(t, rec, http.StatusOK)
		var body struct {
			Accounts []domain.Account `json:"accounts"`
		}
		decodeInto(t, rec, &body)
		return body.Accounts[0].CurrentBalance.String()
	}
	if got := balance(); got != "850.00" {
		t.Fatalf("balance after create = %s, want 850.00", got)
	}

	rec = s.do(t, http.MethodPut, base+"/transactions/"+tx.ID, "alice", map[string]interface{}{
		"type": "expense", "amount": "200.00", "account_id": acc, "date": "2024-05-09",
	})
	expectStatus(t, rec, http.StatusOK)
	if got := balance(); got != "800.00" {
		t.Fatalf("balance after update = %s, want 800.00", got)
	}

	rec = s.do(t, http.MethodGet, base+"/transactions?order=asc&date_from=2024-05-01&date_to=2024-05-09", "alice", nil)
	expectStatus(t, rec, http.StatusOK)
	var list struct {
		Transactions []domain.Transaction `json:"transactions"`
		Count        int                  `json:"count"`
	}
	decodeInto(t, rec, &list)
	if list.Count != 1 || list.Transactions[0].ID != tx.ID {
		t.Errorf("list = %+v", list)
	}

	expectStatus(t, s.do(t, http.MethodDelete, base+"/transactions/"+tx.ID, "alice", nil), http.StatusNoContent)
	if got := balance(); got != "1000.00" {
		t.Fatalf("balance after delete = %s, want 1000.00", got)
	}
	expectStatus(t, s.do(t, http.MethodGet, base+"/transactions/"+tx.ID, "alice", nil), http.StatusNotFound)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	ws, acc := s.setup(t)
	base := "/api/workspaces/" + ws

	rec := s.do(t, http.MethodPost, base+"/transactions", "alice", map[string]interface{}{
		"type": "expense", "amount": "-0", "account_id": acc, "date": "2024-05-09",
	})
	expectStatus(t, rec, http.StatusBadRequest)
	var body map[string]string
	decodeInto(t, rec, &body)
	if body["field"] != "amount" {
		t.Errorf("field = %q, want amount", body["field"])
	}

	rec = s.do(t, http.MethodPost, base+"/transactions", "alice", map[string]interface{}{
		"type": "expense", "amount": "1", "account_id": acc, "date": "yesterday",
	})
	expectStatus(t, rec, http.StatusBadRequest)

	// Balances belong to the ledger.
	rec = s.do(t, http.MethodPatch, base+"/accounts/"+acc, "alice", map[string]interface{}{"current_balance": "5"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, http.MethodPatch, base+"/accounts/"+acc, "alice", map[string]interface{}{"name": "Main", "version": 99})
	expectStatus(t, rec, http.StatusConflict)

	rec = s.do(t, http.MethodPost, base+"/categories", "alice", map[string]interface{}{"name": "food", "type": "expense"})
	expectStatus(t, rec, http.StatusConflict)

	expectStatus(t, s.do(t, http.MethodGet, base+"/accounts", "mallory", nil), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodGet, base+"/dashboard?period=fortnight", "alice", nil), http.StatusBadRequest)
}

func TestInstallmentsEndpoints(t *testing.T) {
	s := newTestServer(t)
	ws, acc := s.setup(t)
	base := "/api/workspaces/" + ws

	rec := s.do(t, http.MethodPost, base+"/credit-cards", "alice", map[string]interface{}{
		"name": "Visa", "closing_day": 3, "due_day": 10,
	})
	expectStatus(t, rec, http.StatusCreated)
	var card domain.CreditCard
	decodeInto(t, rec, &card)

	rec = s.do(t, http.MethodPost, base+"/installments", "alice", map[string]interface{}{
		"amount": "100.00", "count": 3, "purchase_date": "2024-03-15", "credit_card_id": card.ID,
		"account_id": acc, "description": "Laptop",
	})
	expectStatus(t, rec, http.StatusCreated)
	var res ledger.InstallmentResult
	decodeInto(t, rec, &res)
	if res.Count != 3 || res.PurchaseID == "" {
		t.Fatalf("result = %+v", res)
	}

	rec = s.do(t, http.MethodGet, base+"/installments/"+res.PurchaseID, "alice", nil)
	expectStatus(t, rec, http.StatusOK)
	var group ledger.InstallmentGroup
	decodeInto(t, rec, &group)
	if len(group.Transactions) != 3 || group.BaseDescription != "Laptop" {
		t.Errorf("group = %+v", group)
	}

	rec = s.do(t, http.MethodPut, base+"/installments/"+res.PurchaseID, "alice", map[string]interface{}{
		"account_id": acc, "description": "Notebook",
	})
	expectStatus(t, rec, http.StatusOK)
	decodeInto(t, rec, &group)
	if got := group.Transactions[0].Description; got != "Notebook (1/3)" {
		t.Errorf("description = %q", got)
	}

	rec = s.do(t, http.MethodDelete, base+"/installments/"+res.PurchaseID, "alice", nil)
	expectStatus(t, rec, http.StatusOK)
	var deleted map[string]int
	decodeInto(t, rec, &deleted)
	if deleted["deleted"] != 3 {
		t.Errorf("deleted = %v", deleted)
	}

	rec = s.do(t, http.MethodPost, base+"/installments", "alice", map[string]interface{}{
		"amount": "100.00", "count": 2, "purchase_date": "2024-03-15", "credit_card_id": "missing", "account_id": acc,
	})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestDashboardAndReconcile(t *testing.T) {
	s := newTestServer(t)
	ws, acc := s.setup(t)
	base := "/api/workspaces/" + ws

	expectStatus(t, s.do(t, http.MethodPost, base+"/transactions", "alice", map[string]interface{}{
		"type": "income", "amount": "250", "account_id": acc, "date": "2024-05-02",
	}), http.StatusCreated)

	rec := s.do(t, http.MethodGet, base+"/dashboard?period=this_month", "alice", nil)
	expectStatus(t, rec, http.StatusOK)
	var summary reports.Summary
	decodeInto(t, rec, &summary)
	if got := summary.TotalBalance.String(); got != "1250.00" {
		t.Errorf("TotalBalance = %s, want 1250.00", got)
	}
	if got := summary.Income.String(); got != "250.00" {
		t.Errorf("Income = %s, want 250.00", got)
	}

	rec = s.do(t, http.MethodGet, base+"/reconcile?fix=false", "alice", nil)
	expectStatus(t, rec, http.StatusOK)
	var report ledger.ReconcileReport
	decodeInto(t, rec, &report)
	if report.Checked != 1 || len(report.Drifted) != 0 {
		t.Errorf("report = %+v", report)
	}
	expectStatus(t, s.do(t, http.MethodGet, base+"/reconcile?fix=maybe", "alice", nil), http.StatusBadRequest)
}

func TestSweepEnqueuesJob(t *testing.T) {
	s := newTestServer(t)
	ws, _ := s.setup(t)

	rec := s.do(t, http.MethodPost, "/api/workspaces/"+ws+"/sweep", "alice", nil)
	expectStatus(t, rec, http.StatusAccepted)
	var body map[string]string
	decodeInto(t, rec, &body)
	if body["job_id"] == "" || body["status"] != string(jobs.JobStatusPending) {
		t.Fatalf("body = %v", body)
	}

	rec = s.do(t, http.MethodGet, "/api/jobs/"+body["job_id"], "alice", nil)
	expectStatus(t, rec, http.StatusOK)
	var job jobs.WorkspaceJob
	decodeInto(t, rec, &job)
	if job.Type != jobs.JobTypeCatchUp || job.WorkspaceID != ws || job.UserID != "alice" {
		t.Errorf("job = %+v", job)
	}

	// Other users cannot see the job.
	expectStatus(t, s.do(t, http.MethodGet, "/api/jobs/"+body["job_id"], "mallory", nil), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodGet, "/api/jobs/unknown", "alice", nil), http.StatusNotFound)

	rec = s.do(t, http.MethodGet, "/api/jobs?workspace_id="+ws, "alice", nil)
	expectStatus(t, rec, http.StatusOK)
	expectStatus(t, s.do(t, http.MethodGet, "/api/jobs?workspace_id="+ws, "mallory", nil), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodGet, "/api/jobs", "alice", nil), http.StatusBadRequest)
}

func TestWorkspacesAreScopedToMembers(t *testing.T) {
	s := newTestServer(t)
	s.setup(t)

	var body struct {
		Count int `json:"count"`
	}
	rec := s.do(t, http.MethodGet, "/api/workspaces", "alice", nil)
	expectStatus(t, rec, http.StatusOK)
	decodeInto(t, rec, &body)
	if body.Count != 1 {
		t.Errorf("alice sees %d workspaces, want 1", body.Count)
	}

	rec = s.do(t, http.MethodGet, "/api/workspaces", "bob", nil)
	expectStatus(t, rec, http.StatusOK)
	decodeInto(t, rec, &body)
	if body.Count != 0 {
		t.Errorf("bob sees %d workspaces, want 0", body.Count)
	}
}
