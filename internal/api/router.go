// Package api assembles the HTTP surface of the ledger.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-ledger/internal/api/handlers"
	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/catalog"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/reports"
)

// Deps are the services behind the routes.
type Deps struct {
	Ledger   *ledger.Ledger
	Catalog  *catalog.Service
	Reports  *reports.Service
	CatchUp  handlers.CatchUp
	Jobs     jobs.Publisher
	JobStore jobs.JobStore

	JWTSecret      []byte
	JWTIssuer      string
	AllowedOrigins []string

	Log zerolog.Logger
	Now func() time.Time
}

// NewRouter registers every route. All /api routes require a bearer token,
// and workspace routes also require membership.
func NewRouter(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}

	catalogHandler := handlers.NewCatalogHandler(d.Catalog)
	transactionsHandler := handlers.NewTransactionsHandler(d.Ledger, d.Catalog, d.CatchUp)
	dashboardHandler := handlers.NewDashboardHandler(d.Reports, d.Ledger, d.CatchUp, d.Jobs)
	jobsHandler := handlers.NewJobsHandler(d.JobStore, d.Catalog)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.Log))
	r.Use(middleware.Recovery(d.Log))
	r.Use(middleware.CORS(d.AllowedOrigins))

	r.Get("/health", handlers.Health(d.Now))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(d.JWTSecret, d.JWTIssuer))

		r.Get("/workspaces", catalogHandler.ListWorkspaces)
		r.Post("/workspaces", catalogHandler.CreateWorkspace)

		r.Get("/jobs", jobsHandler.ListJobs)
		r.Get("/jobs/{id}", jobsHandler.GetJob)

		r.Route("/workspaces/{ws}", func(r chi.Router) {
			r.Use(middleware.RequireMember(d.Catalog, "ws"))

			r.Get("/accounts", catalogHandler.ListAccounts)
			r.Post("/accounts", catalogHandler.CreateAccount)
			r.Patch("/accounts/{id}", catalogHandler.UpdateAccount)

			r.Get("/transactions", transactionsHandler.ListTransactions)
			r.Post("/transactions", transactionsHandler.CreateTransaction)
			r.Get("/transactions/{id}", transactionsHandler.GetTransaction)
			r.Put("/transactions/{id}", transactionsHandler.UpdateTransaction)
			r.Delete("/transactions/{id}", transactionsHandler.DeleteTransaction)

			r.Post("/installments", transactionsHandler.CreateInstallments)
			r.Get("/installments/{purchaseID}", transactionsHandler.GetInstallments)
			r.Put("/installments/{purchaseID}", transactionsHandler.UpdateInstallments)
			r.Delete("/installments/{purchaseID}", transactionsHandler.DeleteInstallments)

			r.Get("/categories", catalogHandler.ListCategories)
			r.Post("/categories", catalogHandler.CreateCategory)

			r.Get("/credit-cards", catalogHandler.ListCreditCards)
			r.Post("/credit-cards", catalogHandler.CreateCreditCard)

			r.Get("/dashboard", dashboardHandler.Dashboard)
			r.Post("/sweep", dashboardHandler.Sweep)
			r.Get("/reconcile", dashboardHandler.Reconcile)
		})
	})

	return r
}
