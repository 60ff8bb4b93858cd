package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/dates"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/money"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Out: os.Stderr})

	switch os.Args[1] {
	case "sweep":
		runSweep(cfg, log)
	case "expand":
		runExpand(cfg, log)
	case "reconcile":
		runReconcile(cfg, log)
	case "installments":
		runInstallments(cfg, log)
	case "backup":
		runBackup(cfg, log)
	case "inspect-backup":
		runInspectBackup(cfg, log)
	case "export":
		runExport(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finance Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  sweep           Apply deferred transactions that have come due")
	fmt.Println("  expand          Create due occurrences of recurring templates")
	fmt.Println("  reconcile       Compare stored balances with the transaction history")
	fmt.Println("  installments    Split a credit card purchase into installments")
	fmt.Println("  backup          Write a workspace snapshot to Cloud Storage")
	fmt.Println("  inspect-backup  Summarize a snapshot stored in Cloud Storage")
	fmt.Println("  export          Export a workspace to BigQuery")
	fmt.Println("  help            Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// open builds the services and a context carrying log. The caller closes
// the returned App.
func open(cfg *config.Config, log zerolog.Logger, timeout time.Duration) (*app.App, context.Context, context.CancelFunc) {
	if cfg.UseMemoryStore() {
		log.Warn().Msg("DATABASE_URL not set; the CLI will operate on an empty in-memory ledger")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	return a, ctx, cancel
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
	}
}

// fail logs err and exits after releasing a.
func fail(a *app.App, log zerolog.Logger, err error, msg string) {
	a.Close()
	log.Fatal().Err(err).Msg(msg)
}

func runSweep(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	workspaceID := fs.String("workspace", "", "Workspace ID")
	fs.Parse(os.Args[2:])

	if *workspaceID == "" {
		log.Fatal().Msg("Error: -workspace is required")
	}

	a, ctx, cancel := open(cfg, log, 5*time.Minute)
	defer cancel()

	res, err := a.Sweeper.ApplyPendingTransactions(ctx, *workspaceID)
	if err != nil {
		fail(a, log, err, "Sweep failed")
	}
	a.Close()
	printJSON(res)
}

func runExpand(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("expand", flag.ExitOnError)
	workspaceID := fs.String("workspace", "", "Workspace ID")
	userID := fs.String("user", "", "User recorded as creator of new occurrences (defaults to the template's creator)")
	fs.Parse(os.Args[2:])

	if *workspaceID == "" {
		log.Fatal().Msg("Error: -workspace is required")
	}

	a, ctx, cancel := open(cfg, log, 5*time.Minute)
	defer cancel()

	res, err := a.Expander.EnsureRecurringInstances(ctx, *workspaceID, *userID)
	if err != nil {
		fail(a, log, err, "Expansion failed")
	}
	a.Close()
	printJSON(res)
}

func runReconcile(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	workspaceID := fs.String("workspace", "", "Workspace ID")
	fix := fs.Bool("fix", false, "Rewrite drifted balances")
	fs.Parse(os.Args[2:])

	if *workspaceID == "" {
		log.Fatal().Msg("Error: -workspace is required")
	}

	a, ctx, cancel := open(cfg, log, 5*time.Minute)
	defer cancel()

	report, err := a.Ledger.Reconcile(ctx, *workspaceID, *fix)
	if err != nil {
		fail(a, log, err, "Reconcile failed")
	}
	a.Close()

	if len(report.Drifted) == 0 {
		fmt.Printf("%d accounts checked, no drift.\n", report.Checked)
		return
	}
	fmt.Printf("%d accounts checked, %d drifted:\n", report.Checked, len(report.Drifted))
	for _, d := range report.Drifted {
		fmt.Printf("  %-24s stored %12s  expected %12s  drift %12s\n", d.Name, d.Stored, d.Expected, d.Drift)
	}
	if report.Fixed {
		fmt.Println("Balances rewritten.")
	}
}

func runInstallments(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("installments", flag.ExitOnError)
	workspaceID := fs.String("workspace", "", "Workspace ID")
	userID := fs.String("user", "", "User creating the purchase")
	cardID := fs.String("card", "", "Credit card ID")
	accountID := fs.String("account", "", "Account the installments are charged to")
	categoryID := fs.String("category", "", "Category ID")
	total := fs.String("total", "", "Total purchase amount, e.g. 1000.00")
	count := fs.Int("count", 1, "Number of installments")
	date := fs.String("date", "", "Purchase date (YYYY-MM-DD), defaults to today")
	description := fs.String("description", "", "Description")
	dryRun := fs.Bool("dry-run", false, "Print the schedule without storing it")
	fs.Parse(os.Args[2:])

	if *workspaceID == "" || *userID == "" || *cardID == "" || *total == "" {
		log.Fatal().Msg("Usage: cli installments -workspace ID -user ID -card ID -total AMOUNT -count N")
	}
	amount := money.Parse(*total)

	a, ctx, cancel := open(cfg, log, 5*time.Minute)
	defer cancel()

	purchaseDate := a.Ledger.Now()
	if *date != "" {
		var err error
		if purchaseDate, err = dates.ParseDate(*date, a.Ledger.Location()); err != nil {
			fail(a, log, err, "Invalid -date")
		}
	}

	closing, due, err := a.Catalog.BillingCycle(ctx, *workspaceID, *cardID)
	if err != nil {
		fail(a, log, err, "Failed to load credit card")
	}

	purchase := ledger.InstallmentPurchase{
		TotalAmount:  amount,
		Count:        *count,
		PurchaseDate: purchaseDate,
		CreditCardID: *cardID,
		AccountID:    *accountID,
		CategoryID:   *categoryID,
		Description:  *description,
		ClosingDay:   closing,
		DueDay:       due,
	}

	if *dryRun {
		schedule, err := a.Ledger.PreviewInstallments(purchase)
		if err != nil {
			fail(a, log, err, "Invalid purchase")
		}
		a.Close()
		printJSON(schedule)
		return
	}

	res, err := a.Ledger.CreateInstallmentTransactions(ctx, *workspaceID, *userID, purchase)
	if err != nil {
		fail(a, log, err, "Failed to create installments")
	}
	a.Close()
	printJSON(res)
}

func runBackup(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	workspaceID := fs.String("workspace", "", "Workspace ID")
	fs.Parse(os.Args[2:])

	if *workspaceID == "" {
		log.Fatal().Msg("Error: -workspace is required")
	}
	if !cfg.BackupsEnabled() {
		log.Fatal().Msg("Error: GCS_BACKUP_BUCKET is not set")
	}

	a, ctx, cancel := open(cfg, log, 10*time.Minute)
	defer cancel()

	res, err := a.Backups.Backup(ctx, *workspaceID)
	if err != nil {
		fail(a, log, err, "Backup failed")
	}
	a.Close()
	fmt.Printf("Wrote %d accounts and %d transactions (%d bytes) to %s\n", res.Accounts, res.Transactions, res.Bytes, res.URI)
}

func runInspectBackup(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("inspect-backup", flag.ExitOnError)
	uri := fs.String("uri", "", "gs:// URI of the snapshot")
	fs.Parse(os.Args[2:])

	if *uri == "" {
		log.Fatal().Msg("Error: -uri is required")
	}
	if !cfg.BackupsEnabled() {
		log.Fatal().Msg("Error: GCS_BACKUP_BUCKET is not set")
	}

	a, ctx, cancel := open(cfg, log, 5*time.Minute)
	defer cancel()

	snap, err := a.Backups.Load(ctx, *uri)
	if err != nil {
		fail(a, log, err, "Failed to load backup")
	}
	a.Close()

	fmt.Println("\n=== Snapshot ===")
	fmt.Printf("Workspace:    %s\n", snap.WorkspaceID)
	fmt.Printf("Created:      %s\n", snap.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Transactions: %d\n", len(snap.Transactions))
	fmt.Printf("Categories:   %d\n", len(snap.Categories))
	fmt.Printf("Credit cards: %d\n", len(snap.CreditCards))

	drift := snap.Drift()
	fmt.Printf("\n=== Accounts (%d) ===\n", len(snap.Accounts))
	for _, acc := range snap.Accounts {
		line := fmt.Sprintf("  %-24s %12s", acc.Name, acc.CurrentBalance)
		if d, ok := drift[acc.ID]; ok {
			line += fmt.Sprintf("  (drift %s)", d)
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func runExport(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	workspaceID := fs.String("workspace", "", "Workspace ID")
	months := fs.Int("months", 0, "After exporting, print income and expense for the last N months")
	fs.Parse(os.Args[2:])

	if *workspaceID == "" {
		log.Fatal().Msg("Error: -workspace is required")
	}
	if !cfg.AnalyticsEnabled() {
		log.Fatal().Msg("Error: GCP_PROJECT_ID and BIGQUERY_DATASET must be set")
	}

	a, ctx, cancel := open(cfg, log, 10*time.Minute)
	defer cancel()

	res, err := a.Exporter.ExportWorkspace(ctx, *workspaceID)
	if err != nil {
		fail(a, log, err, "Export failed")
	}
	fmt.Printf("Exported %d transactions and %d accounts at %s\n", res.Transactions, res.Accounts, res.ExportedAt.Format(time.RFC3339))

	if *months > 0 {
		to := a.Ledger.Now()
		from := to.AddDate(0, -*months, 0)
		totals, err := a.Exporter.MonthlyTotals(ctx, *workspaceID, from, to)
		if err != nil {
			fail(a, log, err, "Failed to query monthly totals")
		}
		for _, t := range totals {
			fmt.Printf("  %s  income %12s  expense %12s\n", t.Month, t.Income, t.Expense)
		}
	}
	a.Close()
}
