package curation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"despesas/internal/core"
)

const sample = "\ufeffdate,title,description,amount,schema_type,source_file\n" +
	"2026-03-02,Padaria,,\"1,250.50\",card,fatura.csv\n" +
	"2026-03-05,,Uber trip,23.90,card,fatura.csv\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseKeep(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "y", "Sim", " s "} {
		if !ParseKeep(v) {
			t.Errorf("ParseKeep(%q) = false", v)
		}
	}
	for _, v := range []string{"", "0", "false", "no", "n", "maybe"} {
		if ParseKeep(v) {
			t.Errorf("ParseKeep(%q) = true", v)
		}
	}
}

func TestParse_AddsDecisionColumns(t *testing.T) {
	feed, err := Parse("fatura.csv", strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if feed.Len() != 2 {
		t.Fatalf("rows = %d", feed.Len())
	}
	row := feed.Row(1)
	if row.Date != "2026-03-02" || row.Title != "Padaria" || row.Amount != "1,250.50" {
		t.Fatalf("row 1 = %+v", row)
	}
	if row.Keep || row.Category != "" {
		t.Fatalf("new columns should start empty: %+v", row)
	}

	feed.SetKeep(2, true)
	feed.SetCategory(2, " Transporte ")
	var sb strings.Builder
	if err := feed.Write(&sb); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := sb.String()
	if !strings.HasPrefix(out, "date,title,description,amount,schema_type,source_file,keep,categoria_orcamento\n") {
		t.Fatalf("header = %q", strings.SplitN(out, "\n", 2)[0])
	}
	if !strings.Contains(out, "Uber trip,23.90,card,fatura.csv,true,Transporte") {
		t.Fatalf("row not updated:\n%s", out)
	}
}

func TestParse_EmptyFile(t *testing.T) {
	if _, err := Parse("empty.csv", strings.NewReader("")); !errors.Is(err, core.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
}

func TestSource_Resolve(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.csv", sample)
	writeFile(t, root, "nested/a.csv", sample)
	writeFile(t, root, "notes.txt", "x")
	writeFile(t, root, "node_modules/dep.csv", sample)
	writeFile(t, root, ".git/x.csv", sample)

	src, err := NewSource(root, "missing.csv")
	if err != nil {
		t.Fatal(err)
	}

	files, err := src.Available()
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if strings.Join(files, ",") != "b.csv,nested/a.csv" {
		t.Fatalf("available = %v", files)
	}

	if _, rel, err := src.Resolve(""); err != nil || rel != "b.csv" {
		t.Fatalf("default resolve = %q, %v", rel, err)
	}

	bad := []string{"notes.txt", "../outside.csv", "nope.csv", "nested"}
	for _, f := range bad {
		if _, _, err := src.Resolve(f); !errors.Is(err, core.ErrSourceUnavailable) {
			t.Errorf("Resolve(%q) = %v, want source unavailable", f, err)
		}
	}
}

func TestSource_ModifyIsAtomic(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "fatura.csv", sample)
	src, _ := NewSource(root, "fatura.csv")

	boom := errors.New("boom")
	_, err := src.Modify("fatura.csv", func(f *Feed) (bool, error) {
		f.SetKeep(1, true)
		return true, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != sample {
		t.Fatal("failed modification touched the file")
	}

	if _, err := src.Modify("fatura.csv", func(f *Feed) (bool, error) {
		f.SetKeep(1, true)
		return true, nil
	}); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
	feed, _ := src.Load("fatura.csv")
	if !feed.Row(1).Keep {
		t.Fatal("keep not persisted")
	}
}

func TestSource_ConcurrentModify(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "fatura.csv", sample)
	src, _ := NewSource(root, "")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := src.Modify("fatura.csv", func(f *Feed) (bool, error) {
				row := f.Row(2)
				f.SetCategory(2, row.Category+"x")
				return true, nil
			})
			if err != nil {
				t.Errorf("Modify: %v", err)
			}
		}(i)
	}
	wg.Wait()

	feed, _ := src.Load("fatura.csv")
	if got := feed.Row(2).Category; got != strings.Repeat("x", 10) {
		t.Fatalf("lost update: category = %q", got)
	}
}

func TestSource_ExportKept(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "fatura.csv", sample)
	src, _ := NewSource(root, "")
	src.Modify("fatura.csv", func(f *Feed) (bool, error) {
		f.SetKeep(2, true)
		return true, nil
	})

	kept, err := src.ExportKept("fatura.csv")
	if err != nil {
		t.Fatalf("ExportKept: %v", err)
	}
	if kept.File != "fatura_keep_categorized.csv" || kept.Len() != 1 {
		t.Fatalf("export = %s with %d rows", kept.File, kept.Len())
	}
	out, err := src.Load("fatura_keep_categorized.csv")
	if err != nil {
		t.Fatalf("load export: %v", err)
	}
	if out.Row(1).Description != "Uber trip" {
		t.Fatalf("exported row = %+v", out.Row(1))
	}
}
