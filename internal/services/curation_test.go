package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"despesas/internal/core"
	"despesas/internal/curation"
	"despesas/internal/ledger"
	"despesas/internal/storage/memory"
)

const statement = "date,title,description,amount,keep,categoria_orcamento\n" +
	"2026-03-02,Padaria,,12.50,sim,Mercado\n" +
	"2026-03-05,,Uber trip,23.90,true,\n" +
	"2026-02-10,Old,,5.00,1,Casa\n" +
	"not-a-date,Broken,,7.00,yes,Casa\n" +
	"2026-03-07,Refund,,-40.00,1,Casa\n" +
	"2026-03-08,Skip me,,9.99,no,Casa\n" +
	"2026-03-02, padaria ,,12.50,1,mercado\n"

func newReconciler(t *testing.T, content string) (*Reconciler, *memory.Store, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "fatura.csv"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := curation.NewSource(root, "fatura.csv")
	if err != nil {
		t.Fatal(err)
	}
	store := memory.New()
	return NewReconciler(src, store, &recorder{}, noRetry), store, root
}

func TestReconciler_Meta(t *testing.T) {
	r, store, _ := newReconciler(t, statement)
	ctx := context.Background()
	store.CreateBudget(ctx, core.Budget{Category: "Mercado", Amount: core.Money{Cents: 1}})
	store.CreateBudget(ctx, core.Budget{Category: "Casa", Amount: core.Money{Cents: 1}})

	meta, err := r.Meta(ctx, "")
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if meta.CSVFile != "fatura.csv" || len(meta.AvailableFiles) != 1 {
		t.Fatalf("meta = %+v", meta)
	}
	if len(meta.Categories) != 2 || meta.Categories[0] != "Casa" {
		t.Fatalf("categories = %v", meta.Categories)
	}
}

func TestReconciler_List(t *testing.T) {
	r, _, _ := newReconciler(t, statement)
	ctx := context.Background()

	page, err := r.List(ctx, "", CurationQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.View != ViewKeep || page.Total != 6 {
		t.Fatalf("keep view total = %d", page.Total)
	}
	if page.Items[0].RowID != 5 || page.Items[len(page.Items)-1].RowID != 4 {
		t.Fatalf("order = first %d last %d", page.Items[0].RowID, page.Items[len(page.Items)-1].RowID)
	}
	// same date keeps file order
	if page.Items[2].RowID != 1 || page.Items[3].RowID != 7 {
		t.Fatalf("tie order = %d, %d", page.Items[2].RowID, page.Items[3].RowID)
	}

	limited, _ := r.List(ctx, "", CurationQuery{View: ViewAll, Limit: 2})
	if limited.Total != 7 || len(limited.Items) != 2 {
		t.Fatalf("limited = total %d items %d", limited.Total, len(limited.Items))
	}

	uncategorized, _ := r.List(ctx, "", CurationQuery{View: ViewUncategorized})
	if uncategorized.Total != 1 || uncategorized.Items[0].RowID != 2 {
		t.Fatalf("uncategorized = %+v", uncategorized)
	}

	ranged, _ := r.List(ctx, "", CurationQuery{View: ViewAll, From: core.NewDate(2026, 3, 1), To: core.NewDate(2026, 3, 5)})
	if ranged.Total != 3 {
		t.Fatalf("ranged total = %d", ranged.Total)
	}

	bad := []CurationQuery{
		{View: "weird"},
		{Limit: 2001},
		{Limit: -1},
		{From: core.NewDate(2026, 3, 5), To: core.NewDate(2026, 3, 1)},
	}
	for _, q := range bad {
		if _, err := r.List(ctx, "", q); !errors.Is(err, core.ErrValidation) {
			t.Errorf("List(%+v) = %v, want validation error", q, err)
		}
	}
}

func TestReconciler_Update(t *testing.T) {
	r, _, root := newReconciler(t, statement)
	ctx := context.Background()
	no := false
	cat := "Transporte"

	_, changed, err := r.Update(ctx, "fatura.csv", []CurationPatch{
		{RowID: 2, Category: &cat},
		{RowID: 1, Keep: &no},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if changed != 2 {
		t.Fatalf("changed fields = %d, want 2", changed)
	}

	before, _ := os.ReadFile(filepath.Join(root, "fatura.csv"))
	_, _, err = r.Update(ctx, "fatura.csv", []CurationPatch{{RowID: 3, Keep: &no}, {RowID: 99, Keep: &no}})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unknown row: got %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(root, "fatura.csv"))
	if string(before) != string(after) {
		t.Fatal("a failed batch must not write")
	}

	page, _ := r.List(ctx, "", CurationQuery{View: ViewAll})
	for _, row := range page.Items {
		if row.RowID == 2 && row.Category != "Transporte" {
			t.Errorf("row 2 category = %q", row.Category)
		}
		if row.RowID == 1 && row.Keep {
			t.Error("row 1 still kept")
		}
	}
}

func TestReconciler_ApplyDateRange(t *testing.T) {
	r, _, _ := newReconciler(t, statement)
	ctx := context.Background()

	res, err := r.ApplyDateRange(ctx, "", core.NewDate(2026, 3, 1), core.NewDate(2026, 3, 31))
	if err != nil {
		t.Fatalf("ApplyDateRange: %v", err)
	}
	// the undated row counts as outside too
	if res.DroppedOutside != 2 || res.InvalidDateRows != 1 || res.ChangedRows != 2 {
		t.Fatalf("result = %+v", res)
	}
	again, _ := r.ApplyDateRange(ctx, "", core.NewDate(2026, 3, 1), core.NewDate(2026, 3, 31))
	if again.ChangedRows != 0 {
		t.Fatalf("second run changed %d rows", again.ChangedRows)
	}
	if again.DroppedOutside != 2 || again.InvalidDateRows != 1 {
		t.Fatalf("already unkept rows must still be counted: %+v", again)
	}

	narrow, _ := r.ApplyDateRange(ctx, "", core.NewDate(2026, 3, 6), core.NewDate(2026, 3, 31))
	// 02-10, the undated row and 03-02 (twice) and 03-05 fall outside
	if narrow.DroppedOutside != 5 || narrow.ChangedRows != 3 {
		t.Fatalf("narrow = %+v", narrow)
	}
}

func TestReconciler_Export(t *testing.T) {
	r, _, root := newReconciler(t, statement)
	res, err := r.Export(context.Background(), "")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.OutputFile != "fatura_keep_categorized.csv" || res.RowsExported != 6 {
		t.Fatalf("export = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(root, res.OutputFile)); err != nil {
		t.Fatalf("export file missing: %v", err)
	}
}

func TestReconciler_ImportAsExpenses(t *testing.T) {
	r, store, _ := newReconciler(t, statement)
	ctx := context.Background()

	report, err := r.ImportAsExpenses(ctx, "", ImportOptions{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 3 {
		t.Fatalf("imported %d, want 3: %+v", report.Imported, report.Skipped)
	}
	want := map[string]int{
		SkipNotKept: 1, SkipInvalidDate: 1, SkipNonExpenseAmount: 1, SkipDuplicate: 1,
	}
	for reason, n := range want {
		if report.Skipped[reason] != n {
			t.Errorf("skipped[%s] = %d, want %d", reason, report.Skipped[reason], n)
		}
	}
	if report.ImportedByMonth["2026-03"] != 2 || report.ImportedByMonth["2026-02"] != 1 {
		t.Errorf("by month = %v", report.ImportedByMonth)
	}

	rows, _ := store.ListTransactions(ctx, ledger.TransactionFilter{Nature: core.Expense})
	var uber core.Transaction
	for _, row := range rows {
		if row.Amount.Cents == 2390 {
			uber = row
		}
	}
	if uber.Description != "Uber trip" || uber.Category != core.DefaultCategory {
		t.Errorf("fallbacks not applied: %+v", uber)
	}

	second, err := r.ImportAsExpenses(ctx, "", ImportOptions{})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.Imported != 0 || second.Skipped[SkipDuplicate] != 4 {
		t.Fatalf("second import = %d imported, %d duplicates", second.Imported, second.Skipped[SkipDuplicate])
	}
}

func TestReconciler_ImportRequireCategory(t *testing.T) {
	r, _, _ := newReconciler(t, statement)
	report, err := r.ImportAsExpenses(context.Background(), "", ImportOptions{RequireCategory: true})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Skipped[SkipMissingCategory] != 1 || report.Imported != 2 {
		t.Fatalf("report = %d imported, skipped %v", report.Imported, report.Skipped)
	}
}

func TestReconciler_MissingFile(t *testing.T) {
	r, _, _ := newReconciler(t, statement)
	if _, err := r.List(context.Background(), "other.csv", CurationQuery{}); !errors.Is(err, core.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
}
