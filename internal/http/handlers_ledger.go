package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"despesas/internal/core"
	"despesas/internal/services"
)

type entryRequest struct {
	Date        string `json:"date"`
	Amount      Amount `json:"amount"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// input converts the request; an empty date is today.
func (req entryRequest) input() (services.EntryInput, error) {
	date, err := parseDateOr(req.Date, core.DateOf(time.Now()))
	if err != nil {
		return services.EntryInput{}, err
	}
	amount, err := req.Amount.Money()
	if err != nil {
		return services.EntryInput{}, err
	}
	return services.EntryInput{
		Date:        date,
		Amount:      amount,
		Category:    sanitizeInput(req.Category),
		Description: sanitizeInput(req.Description),
	}, nil
}

type idResponse struct {
	ID int64 `json:"id"`
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	month, err := s.monthParam(r.Context(), r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r.URL.Query(), "limit", services.DefaultExpenseLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.analytics.Expenses(r.Context(), month, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"month": month.String(), "items": transactions(txs)})
}

func (s *Server) handleListIncomes(w http.ResponseWriter, r *http.Request) {
	month, err := s.monthParam(r.Context(), r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.analytics.Incomes(r.Context(), month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"month": month.String(), "items": transactions(txs)})
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	s.createEntry(w, r, s.ledger.AddExpense)
}

func (s *Server) handleCreateIncome(w http.ResponseWriter, r *http.Request) {
	s.createEntry(w, r, s.ledger.AddIncome)
}

func (s *Server) createEntry(w http.ResponseWriter, r *http.Request, add func(context.Context, services.EntryInput) (int64, error)) {
	var req entryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := add(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(idResponse{ID: id}).Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req entryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.UpdateExpense(r.Context(), id, in); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, idResponse{ID: id})
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.DeleteExpense(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

type subscriptionRequest struct {
	Name      string `json:"name"`
	Amount    Amount `json:"amount"`
	Category  string `json:"category"`
	Frequency string `json:"frequency"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Active    *bool  `json:"active"`
}

func (req subscriptionRequest) subscription() (core.Subscription, error) {
	start, err := parseOptionalDate(req.StartDate)
	if err != nil {
		return core.Subscription{}, err
	}
	end, err := parseOptionalDate(req.EndDate)
	if err != nil {
		return core.Subscription{}, err
	}
	amount, err := req.Amount.Money()
	if err != nil {
		return core.Subscription{}, err
	}
	sub := core.Subscription{
		Name:      sanitizeInput(req.Name),
		Amount:    amount,
		Category:  sanitizeInput(req.Category),
		Frequency: core.Frequency(strings.ToLower(strings.TrimSpace(req.Frequency))),
		StartDate: start,
		EndDate:   end,
		Active:    req.Active == nil || *req.Active,
	}
	return sub, nil
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.analytics.Subscriptions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"items": subscriptions(subs)})
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := req.subscription()
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.ledger.AddSubscription(r.Context(), sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(idResponse{ID: id}).Write(w)
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req subscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := req.subscription()
	if err != nil {
		writeError(w, r, err)
		return
	}
	sub.ID = id
	if err := s.ledger.UpdateSubscription(r.Context(), sub); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, idResponse{ID: id})
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.DeleteSubscription(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// runRequest selects the months to materialize: a single month, a range,
// or the default month when both are empty.
type runRequest struct {
	Month  string `json:"month"`
	From   string `json:"from"`
	To     string `json:"to"`
	DryRun bool   `json:"dry_run"`
}

func (s *Server) handleRunSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	from, to, err := s.runWindow(r, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reports, err := s.materializer.RunRange(r.Context(), from, to, services.MaterializeOptions{DryRun: req.DryRun})
	if err != nil {
		writeError(w, r, err)
		return
	}
	total := 0
	for _, rep := range reports {
		total += rep.Materialized
	}
	writeJSON(w, map[string]any{
		"materialized": total,
		"dry_run":      req.DryRun,
		"months":       materializeReports(reports),
	})
}

func (s *Server) runWindow(r *http.Request, req runRequest) (core.Month, core.Month, error) {
	month, err := parseOptionalMonth(req.Month)
	if err != nil {
		return core.Month{}, core.Month{}, err
	}
	from, err := parseOptionalMonth(req.From)
	if err != nil {
		return core.Month{}, core.Month{}, err
	}
	to, err := parseOptionalMonth(req.To)
	if err != nil {
		return core.Month{}, core.Month{}, err
	}
	switch {
	case !month.IsZero():
		if !from.IsZero() || !to.IsZero() {
			return core.Month{}, core.Month{}, core.Validationf("month and from/to are mutually exclusive")
		}
		return month, month, nil
	case !from.IsZero() || !to.IsZero():
		if from.IsZero() || to.IsZero() {
			return core.Month{}, core.Month{}, core.Validationf("from and to must be given together")
		}
		return from, to, nil
	default:
		m, err := s.analytics.DefaultMonth(r.Context())
		return m, m, err
	}
}

type installmentRequest struct {
	Description         string `json:"description"`
	Category            string `json:"category"`
	Total               Amount `json:"total"`
	Count               int    `json:"count"`
	StartDate           string `json:"start_date"`
	MaterializeSchedule bool   `json:"materialize_schedule"`
}

func (s *Server) handleCreateInstallment(w http.ResponseWriter, r *http.Request) {
	var req installmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	start, err := parseDateOr(req.StartDate, core.DateOf(time.Now()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := req.Total.Money()
	if err != nil {
		writeError(w, r, err)
		return
	}
	inst := core.Installment{
		Description: sanitizeInput(req.Description),
		Category:    sanitizeInput(req.Category),
		Total:       total,
		Count:       req.Count,
		StartDate:   start,
	}
	id, err := s.ledger.AddInstallment(r.Context(), inst, services.InstallmentOptions{MaterializeSchedule: req.MaterializeSchedule})
	if err != nil {
		writeError(w, r, err)
		return
	}
	share, final := inst.Shares()
	NewJSONResponse().Status(http.StatusCreated).Data(map[string]any{
		"id":          id,
		"share":       money(share),
		"final_share": money(final),
		"final_month": inst.FinalMonth().String(),
	}).Write(w)
}

// budgetRequest targets the global budget of a category when Month is empty.
type budgetRequest struct {
	Category string `json:"category"`
	Month    string `json:"month"`
	Amount   Amount `json:"amount"`
}

func (req budgetRequest) budget() (core.Budget, error) {
	scope, err := parseOptionalMonth(req.Month)
	if err != nil {
		return core.Budget{}, err
	}
	amount, err := req.Amount.Budget()
	if err != nil {
		return core.Budget{}, err
	}
	return core.Budget{Category: sanitizeInput(req.Category), Scope: scope, Amount: amount}, nil
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := req.budget()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.SetBudget(r.Context(), b); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(map[string]any{
		"category": b.Category,
		"month":    monthString(b.Scope),
		"amount":   money(b.Amount),
	}).Write(w)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := req.budget()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.UpdateBudget(r.Context(), b); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"category": b.Category,
		"month":    monthString(b.Scope),
		"amount":   money(b.Amount),
	})
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := sanitizeInput(q.Get("category"))
	if category == "" {
		writeError(w, r, core.ErrEmptyCategory)
		return
	}
	scope, err := parseOptionalMonth(q.Get("month"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.DeleteBudget(r.Context(), category, scope); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
