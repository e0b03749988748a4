package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"testing"

	"despesas/internal/core"
)

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", core.Validationf("bad month"), ErrorTypeValidation},
		{"not found", core.NotFound("get", "budget", "Mercado"), ErrorTypeNotFound},
		{"conflict", core.Conflict("delete", "category", "Lazer", nil), ErrorTypeConflict},
		{"duplicate source", core.ErrDuplicateSource, ErrorTypeConflict},
		{"source unavailable", core.SourceUnavailablef("fatura.csv"), ErrorTypeUnavailable},
		{"transient", core.Transient(errors.New("database is locked")), ErrorTypeTransient},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), ErrorTypeTimeout},
		{"other", errors.New("boom"), ErrorTypeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorType(tt.err); got != tt.want {
				t.Errorf("ErrorType(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return New(Config{
		Component: ComponentLedger,
		Handler:   slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record %q: %v", buf.String(), err)
	}
	return rec
}

func TestStructuredLogger_LogTransaction(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newBufferLogger(&buf))

	sl.LogTransaction(context.Background(), OpCreate, core.Transaction{
		ID:       7,
		Nature:   core.Expense,
		Source:   core.OneOff{},
		Date:     core.NewDate(2026, 3, 2),
		Amount:   core.Money{Cents: 1234},
		Category: "Mercado",
	})

	rec := decodeRecord(t, &buf)
	if rec["msg"] != "Ledger transaction create" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec[FieldTxID] != float64(7) || rec[FieldAmountCents] != float64(1234) {
		t.Errorf("record = %v", rec)
	}
	if rec[FieldMonth] != "2026-03" || rec[FieldCategory] != "Mercado" {
		t.Errorf("record = %v", rec)
	}
}

func TestStructuredLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newBufferLogger(&buf))

	sl.LogError(context.Background(), "apply failed", core.Validationf("bad"), OpUpdate,
		NewFields().WithEvent(core.LedgerEvent{ID: "evt-1", Kind: core.EventTransactionCreated}))

	rec := decodeRecord(t, &buf)
	if rec["level"] != "ERROR" || rec[FieldErrorType] != ErrorTypeValidation {
		t.Errorf("record = %v", rec)
	}
	if rec[FieldEventID] != "evt-1" || rec[FieldOperation] != OpUpdate {
		t.Errorf("record = %v", rec)
	}
}

func TestStructuredLogger_LogHTTPEndLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "INFO"},
		{404, "WARN"},
		{503, "ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		sl := NewStructuredLogger(newBufferLogger(&buf))
		req := httptest.NewRequest("GET", "/api/summary?month=2026-03", nil)

		sl.LogHTTPEnd(context.Background(), req, tt.status, 3, "10.0.0.1")

		rec := decodeRecord(t, &buf)
		if rec["level"] != tt.level {
			t.Errorf("status %d logged at %v, want %s", tt.status, rec["level"], tt.level)
		}
		if rec[FieldPath] != "/api/summary" || rec[FieldClientIP] != "10.0.0.1" {
			t.Errorf("record = %v", rec)
		}
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()).Component() != "unknown" {
		t.Error("FromContext without a logger should fall back to the default")
	}
	logger := New(DefaultConfig())
	ctx := context.WithValue(context.Background(), LoggerContextKey, logger)
	if FromContext(ctx) != logger {
		t.Error("FromContext should return the stored logger")
	}
}
