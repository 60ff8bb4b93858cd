// Package bigquery streams workspace ledgers into BigQuery for analytics
// and reads aggregated figures back.
package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// DefaultBatchSize is the number of rows sent per streaming insert.
const DefaultBatchSize = 500

// putFunc streams rows into one table.
type putFunc func(ctx context.Context, table string, rows []*bigquery.StructSaver) error

// ExportResult summarizes one export run.
type ExportResult struct {
	Transactions int       `json:"transactions"`
	Accounts     int       `json:"accounts"`
	ExportedAt   time.Time `json:"exported_at"`
}

// MonthlyTotal is the income and expense of one calendar month.
type MonthlyTotal struct {
	Month   string       `json:"month"`
	Income  money.Amount `json:"income"`
	Expense money.Amount `json:"expense"`
}

// Exporter writes full snapshots of a workspace to the analytics dataset.
// Every run stamps its rows with one exported_at value, and readers only
// look at the newest run, so deleted transactions drop out of the figures.
type Exporter struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	source    store.LedgerStore
	put       putFunc

	batchSize int
	loc       *time.Location
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLocation sets the calendar used for DATE columns.
func WithLocation(loc *time.Location) Option {
	return func(e *Exporter) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// WithBatchSize sets the rows per insert call.
func WithBatchSize(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithLogger sets the fallback logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Exporter) { e.log = log }
}

// NewExporter opens a BigQuery client for projectID and exports into
// datasetID. Call Close when done.
func NewExporter(ctx context.Context, projectID, datasetID string, source store.LedgerStore, opts ...Option) (*Exporter, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewExporter: bigquery client: %w", err)
	}
	e := newExporter(source, nil, opts...)
	e.client = client
	e.projectID = projectID
	e.datasetID = datasetID
	e.put = e.insert
	return e, nil
}

func newExporter(source store.LedgerStore, put putFunc, opts ...Option) *Exporter {
	e := &Exporter{
		source:    source,
		put:       put,
		batchSize: DefaultBatchSize,
		loc:       time.UTC,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close releases the BigQuery client.
func (e *Exporter) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

func (e *Exporter) insert(ctx context.Context, table string, rows []*bigquery.StructSaver) error {
	inserter := e.client.DatasetInProject(e.projectID, e.datasetID).Table(table).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("inserting rows into %s: %w", table, err)
	}
	return nil
}

// ExportWorkspace streams every transaction and an account snapshot of the
// workspace. Insert ids are derived from the run stamp, so a retried batch
// is deduplicated by BigQuery.
func (e *Exporter) ExportWorkspace(ctx context.Context, workspaceID string) (ExportResult, error) {
	log := logger.FromContextOr(ctx, e.log).With().Str("workspace_id", workspaceID).Logger()
	exportedAt := e.now().UTC().Truncate(time.Microsecond)
	res := ExportResult{ExportedAt: exportedAt}
	stamp := strconv.FormatInt(exportedAt.UnixMicro(), 10)

	batch := make([]*bigquery.StructSaver, 0, e.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.put(ctx, transactionsExportTable, batch); err != nil {
			return err
		}
		res.Transactions += len(batch)
		batch = batch[:0]
		return nil
	}

	q := store.TransactionQuery{Limit: store.MaxPageSize}
	err := store.EachTransaction(ctx, e.source, workspaceID, q, func(tx domain.Transaction) error {
		batch = append(batch, &bigquery.StructSaver{
			Struct:   TransactionRow(tx, e.loc, exportedAt),
			InsertID: workspaceID + "/" + tx.ID + "/" + stamp,
		})
		if len(batch) >= e.batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return res, fmt.Errorf("ExportWorkspace: transactions: %w", err)
	}

	accounts, err := e.source.ListAccounts(ctx, workspaceID)
	if err != nil {
		return res, fmt.Errorf("ExportWorkspace: listing accounts: %w", err)
	}
	snapshotDate := civil.DateOf(exportedAt.In(e.loc))
	snapshots := make([]*bigquery.StructSaver, 0, len(accounts))
	for _, a := range accounts {
		snapshots = append(snapshots, &bigquery.StructSaver{
			Struct:   SnapshotRow(a, snapshotDate, exportedAt),
			InsertID: workspaceID + "/" + a.ID + "/" + stamp,
		})
	}
	if len(snapshots) > 0 {
		if err := e.put(ctx, accountSnapshotsTable, snapshots); err != nil {
			return res, fmt.Errorf("ExportWorkspace: snapshots: %w", err)
		}
	}
	res.Accounts = len(snapshots)

	log.Info().
		Int("transactions", res.Transactions).
		Int("accounts", res.Accounts).
		Msg("workspace exported")
	return res, nil
}

// HandleJob runs an export_analytics job.
func (e *Exporter) HandleJob(ctx context.Context, job *jobs.WorkspaceJob) (any, error) {
	return e.ExportWorkspace(ctx, job.WorkspaceID)
}

type monthlyTotalRow struct {
	Month   string   `bigquery:"month"`
	Income  *big.Rat `bigquery:"income"`
	Expense *big.Rat `bigquery:"expense"`
}

// MonthlyTotals returns income and expense per month between from and to
// (inclusive) as of the latest export of the workspace.
func (e *Exporter) MonthlyTotals(ctx context.Context, workspaceID string, from, to time.Time) ([]MonthlyTotal, error) {
	if e.client == nil {
		return nil, fmt.Errorf("MonthlyTotals: exporter has no BigQuery client")
	}
	table := fmt.Sprintf("`%s.%s.%s`", e.projectID, e.datasetID, transactionsExportTable)
	q := e.client.Query(fmt.Sprintf(`
		SELECT
			FORMAT_DATE('%%Y-%%m', date) AS month,
			SUM(IF(type IN ('income', 'yield'), amount, 0)) AS income,
			SUM(IF(type IN ('expense', 'investment'), amount, 0)) AS expense
		FROM %[1]s
		WHERE workspace_id = @workspace_id
			AND date BETWEEN @from AND @to
			AND exported_at = (
				SELECT MAX(exported_at) FROM %[1]s WHERE workspace_id = @workspace_id
			)
		GROUP BY month
		ORDER BY month
	`, table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "workspace_id", Value: workspaceID},
		{Name: "from", Value: civil.DateOf(from.In(e.loc))},
		{Name: "to", Value: civil.DateOf(to.In(e.loc))},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("MonthlyTotals: query: %w", err)
	}

	var totals []MonthlyTotal
	for {
		var row monthlyTotalRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("MonthlyTotals: reading row: %w", err)
		}
		totals = append(totals, MonthlyTotal{
			Month:   row.Month,
			Income:  ratToAmount(row.Income),
			Expense: ratToAmount(row.Expense),
		})
	}
	return totals, nil
}

func ratToAmount(r *big.Rat) money.Amount {
	if r == nil {
		return money.Zero
	}
	d, err := decimal.NewFromString(r.FloatString(money.Places))
	if err != nil {
		return money.Zero
	}
	return money.New(d)
}
