package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"despesas/internal/backoff"
	"despesas/internal/core"
	"despesas/internal/curation"
	"despesas/internal/ledger"
)

const (
	DefaultCurationLimit = 250
	MaxCurationLimit     = 2000

	importedDescription = "Transação importada de CSV"
)

// CurationView selects which rows List returns.
type CurationView string

const (
	ViewKeep          CurationView = "keep"
	ViewUncategorized CurationView = "uncategorized"
	ViewAll           CurationView = "all"
)

func (v CurationView) matches(r core.CurationRow) bool {
	switch v {
	case ViewKeep:
		return r.Keep
	case ViewUncategorized:
		return r.Keep && r.Category == ""
	default:
		return true
	}
}

// CurationMeta describes the feeds a user can pick from.
type CurationMeta struct {
	CSVFile        string   `json:"csv_file"`
	AvailableFiles []string `json:"available_files"`
	Categories     []string `json:"categories"`
}

// CurationQuery filters List. Zero dates do not filter.
type CurationQuery struct {
	View  CurationView
	Limit int
	From  core.Date
	To    core.Date
}

// CurationPage is one List result. Total counts matches before the limit.
type CurationPage struct {
	CSVFile string
	View    CurationView
	Total   int
	Items   []core.CurationRow
}

// CurationPatch changes one row. Nil fields are left alone.
type CurationPatch struct {
	RowID    int     `json:"row_id"`
	Keep     *bool   `json:"keep,omitempty"`
	Category *string `json:"category,omitempty"`
}

// DateRangeResult reports an ApplyDateRange run.
type DateRangeResult struct {
	CSVFile         string `json:"csv_file"`
	DroppedOutside  int    `json:"dropped_outside"`
	InvalidDateRows int    `json:"invalid_date_rows"`
	ChangedRows     int    `json:"changed_rows"`
}

// ExportResult reports an Export run.
type ExportResult struct {
	InputFile    string `json:"input_file"`
	OutputFile   string `json:"output_file"`
	RowsExported int    `json:"rows_exported"`
}

// ImportOptions tune ImportAsExpenses.
type ImportOptions struct {
	// RequireCategory skips kept rows that have no category yet.
	RequireCategory bool
	// FailFast stops at the first store failure.
	FailFast bool
}

// Skip reasons reported by ImportAsExpenses.
const (
	SkipNotKept          = "not_keep"
	SkipMissingCategory  = "missing_category"
	SkipInvalidDate      = "invalid_date"
	SkipInvalidAmount    = "invalid_amount"
	SkipNonExpenseAmount = "non_expense_amount"
	SkipDuplicate        = "duplicates"
	SkipFailed           = "failed"
	OutcomeImported      = "imported"
	OutcomeSkipped       = "skipped"
	OutcomeFailed        = "failed"
)

// RowOutcome is what happened to one feed row during an import.
type RowOutcome struct {
	RowID         int    `json:"row_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	TransactionID int64  `json:"transaction_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ImportReport summarizes ImportAsExpenses.
type ImportReport struct {
	CSVFile         string         `json:"csv_file"`
	Imported        int            `json:"imported"`
	ImportedByMonth map[string]int `json:"imported_by_month"`
	Skipped         map[string]int `json:"skipped"`
	Outcomes        []RowOutcome   `json:"outcomes"`
}

// Reconciler curates CSV statement feeds and imports the kept rows.
type Reconciler struct {
	source   *curation.Source
	store    ledger.Store
	notifier Notifier
	retry    backoff.Policy
}

func NewReconciler(source *curation.Source, store ledger.Store, notifier Notifier, retry backoff.Policy) *Reconciler {
	return &Reconciler{source: source, store: store, notifier: notifier, retry: retry}
}

// Meta resolves file and lists the alternatives plus budget categories.
func (r *Reconciler) Meta(ctx context.Context, file string) (CurationMeta, error) {
	_, rel, err := r.source.Resolve(file)
	if err != nil {
		return CurationMeta{}, err
	}
	files, err := r.source.Available()
	if err != nil {
		return CurationMeta{}, err
	}
	budgets, err := r.store.ListBudgets(ctx)
	if err != nil {
		return CurationMeta{}, fmt.Errorf("list budgets: %w", err)
	}
	seen := map[string]struct{}{}
	cats := []string{}
	for _, b := range budgets {
		if _, ok := seen[b.Category]; !ok {
			seen[b.Category] = struct{}{}
			cats = append(cats, b.Category)
		}
	}
	sort.Strings(cats)
	return CurationMeta{CSVFile: rel, AvailableFiles: files, Categories: cats}, nil
}

func checkRange(from, to core.Date) error {
	if !from.IsEmpty() && !to.IsEmpty() && from.After(to) {
		return core.Validationf("from %s is after to %s", from, to)
	}
	return nil
}

// inRange reports whether raw parses and falls inside [from, to].
func inRange(raw string, from, to core.Date) (ok, valid bool) {
	d, err := core.ParseDate(raw)
	if err != nil {
		return false, false
	}
	if !from.IsEmpty() && d.Before(from) {
		return false, true
	}
	if !to.IsEmpty() && d.After(to) {
		return false, true
	}
	return true, true
}

// List returns matching rows, newest first. Rows with unparsable dates sort
// last and are excluded once a date range is set.
func (r *Reconciler) List(ctx context.Context, file string, q CurationQuery) (CurationPage, error) {
	if q.View == "" {
		q.View = ViewKeep
	}
	switch q.View {
	case ViewKeep, ViewUncategorized, ViewAll:
	default:
		return CurationPage{}, core.Validationf("invalid view %q", q.View)
	}
	if q.Limit == 0 {
		q.Limit = DefaultCurationLimit
	}
	if q.Limit < 1 || q.Limit > MaxCurationLimit {
		return CurationPage{}, core.Validationf("limit must be between 1 and %d", MaxCurationLimit)
	}
	if err := checkRange(q.From, q.To); err != nil {
		return CurationPage{}, err
	}

	feed, err := r.source.Load(file)
	if err != nil {
		return CurationPage{}, err
	}
	ranged := !q.From.IsEmpty() || !q.To.IsEmpty()
	var rows []core.CurationRow
	for _, row := range feed.Rows() {
		if !q.View.matches(row) {
			continue
		}
		if ranged {
			if ok, _ := inRange(row.Date, q.From, q.To); !ok {
				continue
			}
		}
		rows = append(rows, row)
	}
	sortCurationRows(rows)

	page := CurationPage{CSVFile: feed.File, View: q.View, Total: len(rows)}
	if len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	page.Items = rows
	return page, nil
}

func sortCurationRows(rows []core.CurationRow) {
	dates := make(map[int]core.Date, len(rows))
	for _, row := range rows {
		if d, err := core.ParseDate(row.Date); err == nil {
			dates[row.RowID] = d
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		di, iok := dates[rows[i].RowID]
		dj, jok := dates[rows[j].RowID]
		switch {
		case iok != jok:
			return iok
		case iok && !di.Time.Equal(dj.Time):
			return di.After(dj)
		default:
			return rows[i].RowID < rows[j].RowID
		}
	})
}

// Update applies patches in one write. An unknown row id fails the whole
// batch before anything is written. It returns the number of changed fields.
func (r *Reconciler) Update(ctx context.Context, file string, patches []CurationPatch) (string, int, error) {
	changed := 0
	feed, err := r.source.Modify(file, func(f *curation.Feed) (bool, error) {
		for _, p := range patches {
			if !f.Has(p.RowID) {
				return false, core.NotFound("update", "curation row", p.RowID)
			}
		}
		for _, p := range patches {
			row := f.Row(p.RowID)
			if p.Keep != nil && *p.Keep != row.Keep {
				f.SetKeep(p.RowID, *p.Keep)
				changed++
			}
			if p.Category != nil {
				if cat := strings.TrimSpace(*p.Category); cat != row.Category {
					f.SetCategory(p.RowID, cat)
					changed++
				}
			}
		}
		return changed > 0, nil
	})
	if err != nil {
		return "", 0, err
	}
	slog.InfoContext(ctx, "Curation rows updated", "file", feed.File, "patches", len(patches), "changed_fields", changed)
	return feed.File, changed, nil
}

// ApplyDateRange unkeeps rows that are outside [from, to] or have no valid
// date. DroppedOutside and InvalidDateRows count every such row, kept or
// not; ChangedRows counts the keep flags actually cleared. The file is
// rewritten only when something changed.
func (r *Reconciler) ApplyDateRange(ctx context.Context, file string, from, to core.Date) (DateRangeResult, error) {
	if err := checkRange(from, to); err != nil {
		return DateRangeResult{}, err
	}
	var res DateRangeResult
	feed, err := r.source.Modify(file, func(f *curation.Feed) (bool, error) {
		for id := 1; id <= f.Len(); id++ {
			row := f.Row(id)
			ok, valid := inRange(row.Date, from, to)
			if !valid {
				res.InvalidDateRows++
			}
			if ok {
				continue
			}
			res.DroppedOutside++
			if row.Keep {
				f.SetKeep(id, false)
				res.ChangedRows++
			}
		}
		return res.ChangedRows > 0, nil
	})
	if err != nil {
		return DateRangeResult{}, err
	}
	res.CSVFile = feed.File
	slog.InfoContext(ctx, "Curation date range applied",
		"file", feed.File,
		"dropped_outside", res.DroppedOutside,
		"invalid_date_rows", res.InvalidDateRows)
	return res, nil
}

// Export writes the kept rows to <stem>_keep_categorized.csv.
func (r *Reconciler) Export(ctx context.Context, file string) (ExportResult, error) {
	_, rel, err := r.source.Resolve(file)
	if err != nil {
		return ExportResult{}, err
	}
	kept, err := r.source.ExportKept(file)
	if err != nil {
		return ExportResult{}, err
	}
	slog.InfoContext(ctx, "Curation feed exported", "file", rel, "output", kept.File, "rows", kept.Len())
	return ExportResult{InputFile: rel, OutputFile: kept.File, RowsExported: kept.Len()}, nil
}

// ImportAsExpenses turns kept rows into one-off expenses. Rows matching an
// existing expense, or an earlier row of the same run, are skipped as
// duplicates, so importing twice adds nothing.
func (r *Reconciler) ImportAsExpenses(ctx context.Context, file string, opts ImportOptions) (ImportReport, error) {
	feed, err := r.source.Load(file)
	if err != nil {
		return ImportReport{}, err
	}

	report := ImportReport{
		CSVFile:         feed.File,
		ImportedByMonth: map[string]int{},
		Skipped: map[string]int{
			SkipNotKept: 0, SkipMissingCategory: 0, SkipInvalidDate: 0, SkipInvalidAmount: 0,
			SkipNonExpenseAmount: 0, SkipDuplicate: 0, SkipFailed: 0,
		},
	}
	skip := func(row core.CurationRow, reason string) {
		report.Skipped[reason]++
		report.Outcomes = append(report.Outcomes, RowOutcome{RowID: row.RowID, Status: OutcomeSkipped, Reason: reason})
	}
	seen := map[string]struct{}{}

	for _, row := range feed.Rows() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !row.Keep {
			skip(row, SkipNotKept)
			continue
		}
		if row.Category == "" && opts.RequireCategory {
			skip(row, SkipMissingCategory)
			continue
		}
		date, err := core.ParseDate(row.Date)
		if err != nil {
			skip(row, SkipInvalidDate)
			continue
		}
		amount, err := core.ParseStatementAmount(row.Amount)
		if err != nil {
			skip(row, SkipInvalidAmount)
			continue
		}
		if amount.Cents <= 0 {
			skip(row, SkipNonExpenseAmount)
			continue
		}

		tx := core.Transaction{
			Nature:      core.Expense,
			Source:      core.OneOff{},
			Date:        date,
			Amount:      amount,
			Category:    firstNonEmpty(row.Category, core.DefaultCategory),
			Description: firstNonEmpty(strings.TrimSpace(row.Title), strings.TrimSpace(row.Description), importedDescription),
		}
		key := tx.DedupKey()
		if _, dup := seen[key]; dup {
			skip(row, SkipDuplicate)
			continue
		}

		id, dup, err := r.importRow(ctx, tx, key)
		if err != nil {
			report.Skipped[SkipFailed]++
			report.Outcomes = append(report.Outcomes, RowOutcome{RowID: row.RowID, Status: OutcomeFailed, Error: err.Error()})
			slog.WarnContext(ctx, "Curation row import failed", "file", feed.File, "row_id", row.RowID, "error", err)
			if opts.FailFast {
				return report, fmt.Errorf("import row %d: %w", row.RowID, err)
			}
			continue
		}
		seen[key] = struct{}{}
		if dup {
			skip(row, SkipDuplicate)
			continue
		}
		report.Imported++
		report.ImportedByMonth[date.Period().String()]++
		report.Outcomes = append(report.Outcomes, RowOutcome{RowID: row.RowID, Status: OutcomeImported, TransactionID: id})
	}

	slog.InfoContext(ctx, "Curation feed imported",
		"file", feed.File,
		"imported", report.Imported,
		"duplicates", report.Skipped[SkipDuplicate],
		"failed", report.Skipped[SkipFailed])
	if report.Imported > 0 {
		ev := newEvent(core.EventCurationImported, core.Month{}, 0, report.Imported)
		publish(ctx, r.notifier, ev)
	}
	return report, nil
}

func (r *Reconciler) importRow(ctx context.Context, tx core.Transaction, key string) (id int64, dup bool, err error) {
	if err := tx.Validate(); err != nil {
		return 0, false, err
	}
	err = backoff.Retry(ctx, r.retry, core.IsTransient, func(ctx context.Context) error {
		exists, err := r.store.HasOneOffExpense(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			dup = true
			return nil
		}
		id, err = r.store.CreateTransaction(ctx, tx)
		return err
	})
	return id, dup, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
