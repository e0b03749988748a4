package http

import (
	"context"
	"net/http"
	"strings"

	"despesas/internal/core"
	"despesas/internal/services"
)

const maxTrendMonths = 36

// monthParam reads ?month=YYYY-MM, falling back to the default month.
func (s *Server) monthParam(ctx context.Context, r *http.Request) (core.Month, error) {
	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		return core.ParseMonth(v)
	}
	return s.analytics.DefaultMonth(ctx)
}

func (s *Server) handleDefaultMonth(w http.ResponseWriter, r *http.Request) {
	month, err := s.analytics.DefaultMonth(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"month": month.String()})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	month, err := s.monthParam(r.Context(), r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := s.analytics.Summary(r.Context(), month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, summary(sum))
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	month, err := s.monthParam(r.Context(), r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	statuses, err := s.analytics.Budgets(r.Context(), month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"month": month.String(), "budgets": budgetStatuses(statuses)})
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	month, err := s.monthParam(r.Context(), r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := queryInt(r.URL.Query(), "months", services.DefaultTrendMonths)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if n < 1 || n > maxTrendMonths {
		writeError(w, r, core.Validationf("months must be between 1 and %d", maxTrendMonths))
		return
	}
	points, err := services.CollectTrends(s.analytics.Trends(r.Context(), month, n))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"anchor": month.String(), "points": trends(points)})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	month, err := s.monthParam(r.Context(), r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	target, err := queryFloat(r.URL.Query(), "target", services.DefaultTargetSavingsRate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if target < 0 || target > 100 {
		writeError(w, r, core.Validationf("target must be between 0 and 100"))
		return
	}
	in, err := s.analytics.Insights(r.Context(), month, target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, insights(in))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	names, err := s.analytics.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	budgeted, err := s.analytics.BudgetCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	if budgeted == nil {
		budgeted = []string{}
	}
	writeJSON(w, map[string]any{"categories": names, "budgeted": budgeted})
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	name := sanitizeInput(r.PathValue("name"))
	if name == "" {
		writeError(w, r, core.ErrEmptyCategory)
		return
	}
	if err := s.ledger.DeleteCategory(r.Context(), name); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
