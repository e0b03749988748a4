package http

import (
	"despesas/internal/core"
	"despesas/internal/services"
)

// Response views. Domain types carry no JSON tags; these decide the wire
// shape. Amounts are sent both as cents and as a fixed two-decimal string.

type moneyView struct {
	Cents int64  `json:"cents"`
	Value string `json:"value"`
}

func money(m core.Money) moneyView {
	return moneyView{Cents: m.Cents, Value: m.String()}
}

func monthString(m core.Month) string {
	if m.IsZero() {
		return ""
	}
	return m.String()
}

func dateString(d core.Date) string {
	if d.IsEmpty() {
		return ""
	}
	return d.String()
}

type sourceView struct {
	Type           core.EntryType `json:"type"`
	SubscriptionID int64          `json:"subscription_id,omitempty"`
	Period         string         `json:"period,omitempty"`
	InstallmentID  int64          `json:"installment_id,omitempty"`
	Number         int            `json:"number,omitempty"`
	Total          int            `json:"total,omitempty"`
	Label          string         `json:"label"`
	Badge          string         `json:"badge,omitempty"`
}

func source(s core.Source) sourceView {
	v := sourceView{Type: s.Type(), Label: core.Label(s), Badge: core.Badge(s)}
	switch s := s.(type) {
	case core.SubscriptionCharge:
		v.SubscriptionID = s.SubscriptionID
		v.Period = s.Period.String()
	case core.InstallmentCharge:
		v.InstallmentID = s.InstallmentID
		v.Number = s.Number
		v.Total = s.Total
	}
	return v
}

type transactionView struct {
	ID          int64       `json:"id"`
	Nature      core.Nature `json:"nature"`
	Date        string      `json:"date"`
	Amount      moneyView   `json:"amount"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
	Source      sourceView  `json:"source"`
	Mutable     bool        `json:"mutable"`
}

func transactions(txs []core.Transaction) []transactionView {
	out := make([]transactionView, len(txs))
	for i, t := range txs {
		out[i] = transactionView{
			ID:          t.ID,
			Nature:      t.Nature,
			Date:        t.Date.String(),
			Amount:      money(t.Amount),
			Category:    t.Category,
			Description: t.Description,
			Source:      source(t.Source),
			Mutable:     t.Mutable(),
		}
	}
	return out
}

type subscriptionView struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Amount        moneyView      `json:"amount"`
	MonthlyAmount moneyView      `json:"monthly_amount"`
	Category      string         `json:"category"`
	Frequency     core.Frequency `json:"frequency"`
	StartDate     string         `json:"start_date"`
	EndDate       string         `json:"end_date,omitempty"`
	Active        bool           `json:"active"`
}

func subscriptions(subs []core.Subscription) []subscriptionView {
	out := make([]subscriptionView, len(subs))
	for i, s := range subs {
		out[i] = subscriptionView{
			ID:            s.ID,
			Name:          s.Name,
			Amount:        money(s.Amount),
			MonthlyAmount: money(services.MonthlyEquivalent(s)),
			Category:      s.Category,
			Frequency:     s.Frequency,
			StartDate:     s.StartDate.String(),
			EndDate:       dateString(s.EndDate),
			Active:        s.Active,
		}
	}
	return out
}

type categoryAmountView struct {
	Name   string    `json:"name"`
	Amount moneyView `json:"amount"`
}

func categoryAmounts(rows []core.CategoryAmount) []categoryAmountView {
	out := make([]categoryAmountView, len(rows))
	for i, r := range rows {
		out[i] = categoryAmountView{Name: r.Name, Amount: money(r.Amount)}
	}
	return out
}

type summaryView struct {
	Month        string               `json:"month"`
	Income       moneyView            `json:"income"`
	Expenses     moneyView            `json:"expenses"`
	Net          moneyView            `json:"net"`
	SavingsRate  float64              `json:"savings_rate"`
	ByCategory   []categoryAmountView `json:"by_category"`
	PrevMonth    string               `json:"prev_month"`
	PrevIncome   moneyView            `json:"prev_income"`
	PrevExpenses moneyView            `json:"prev_expenses"`
}

func summary(s core.MonthSummary) summaryView {
	return summaryView{
		Month:        s.Month.String(),
		Income:       money(s.Income),
		Expenses:     money(s.Expenses),
		Net:          money(s.Net),
		SavingsRate:  s.SavingsRate,
		ByCategory:   categoryAmounts(s.ByCategory),
		PrevMonth:    monthString(s.PrevMonth),
		PrevIncome:   money(s.PrevIncome),
		PrevExpenses: money(s.PrevExpenses),
	}
}

type budgetStatusView struct {
	Category  string    `json:"category"`
	Budgeted  moneyView `json:"budgeted"`
	Spent     moneyView `json:"spent"`
	Remaining moneyView `json:"remaining"`
	Pct       float64   `json:"pct"`
	Over      bool      `json:"over"`
	Global    bool      `json:"global"`
}

func budgetStatuses(rows []core.BudgetStatus) []budgetStatusView {
	out := make([]budgetStatusView, len(rows))
	for i, b := range rows {
		out[i] = budgetStatusView{
			Category:  b.Category,
			Budgeted:  money(b.Budgeted),
			Spent:     money(b.Spent),
			Remaining: money(b.Remaining),
			Pct:       b.Pct,
			Over:      b.Over,
			Global:    b.Global,
		}
	}
	return out
}

type trendPointView struct {
	Month    string    `json:"month"`
	Income   moneyView `json:"income"`
	Expenses moneyView `json:"expenses"`
	Net      moneyView `json:"net"`
}

func trends(points []core.TrendPoint) []trendPointView {
	out := make([]trendPointView, len(points))
	for i, p := range points {
		out[i] = trendPointView{
			Month:    p.Month.String(),
			Income:   money(p.Income),
			Expenses: money(p.Expenses),
			Net:      money(p.Net),
		}
	}
	return out
}

type insightsView struct {
	Summary           summaryView         `json:"summary"`
	TargetRate        float64             `json:"target_rate"`
	TargetNet         moneyView           `json:"target_net"`
	GapToTarget       moneyView           `json:"gap_to_target"`
	OverBudget        []budgetStatusView  `json:"over_budget"`
	TopSubscriptions  []subscriptionShare `json:"top_subscriptions"`
	SubscriptionTotal moneyView           `json:"subscription_total"`
	Spikes            []categorySpikeView `json:"spikes"`
}

type subscriptionShare struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Frequency  core.Frequency `json:"frequency"`
	Monthly    moneyView      `json:"monthly"`
	ShareOfPct float64        `json:"share_of_expenses_pct"`
}

type categorySpikeView struct {
	Category    string    `json:"category"`
	Current     moneyView `json:"current"`
	AvgPrior    moneyView `json:"avg_prior"`
	Increase    moneyView `json:"increase"`
	IncreasePct float64   `json:"increase_pct"`
}

func insights(in core.Insights) insightsView {
	v := insightsView{
		Summary:           summary(in.Summary),
		TargetRate:        in.TargetRate,
		TargetNet:         money(in.TargetNet),
		GapToTarget:       money(in.GapToTarget),
		OverBudget:        budgetStatuses(in.OverBudget),
		TopSubscriptions:  make([]subscriptionShare, len(in.TopSubscriptions)),
		SubscriptionTotal: money(in.SubscriptionTotal),
		Spikes:            make([]categorySpikeView, len(in.Spikes)),
	}
	for i, s := range in.TopSubscriptions {
		v.TopSubscriptions[i] = subscriptionShare{ID: s.ID, Name: s.Name, Frequency: s.Frequency, Monthly: money(s.Monthly), ShareOfPct: s.ShareOfPct}
	}
	for i, s := range in.Spikes {
		v.Spikes[i] = categorySpikeView{
			Category:    s.Category,
			Current:     money(s.Current),
			AvgPrior:    money(s.AvgPrior),
			Increase:    money(s.Increase),
			IncreasePct: s.IncreasePct,
		}
	}
	return v
}

type materializeReportView struct {
	Month          string `json:"month"`
	Eligible       int    `json:"eligible"`
	Materialized   int    `json:"materialized"`
	AlreadyCharged int    `json:"already_charged"`
	Skipped        int    `json:"skipped"`
	DryRun         bool   `json:"dry_run"`
}

func materializeReports(reports []services.MaterializeReport) []materializeReportView {
	out := make([]materializeReportView, len(reports))
	for i, r := range reports {
		out[i] = materializeReportView{
			Month:          r.Month.String(),
			Eligible:       r.Eligible,
			Materialized:   r.Materialized,
			AlreadyCharged: r.AlreadyCharged,
			Skipped:        r.Skipped,
			DryRun:         r.DryRun,
		}
	}
	return out
}

type curationRowView struct {
	RowID       int    `json:"row_id"`
	Date        string `json:"date"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	SchemaType  string `json:"schema_type"`
	SourceFile  string `json:"source_file"`
	Keep        bool   `json:"keep"`
	Category    string `json:"category"`
}

type curationPageView struct {
	CSVFile string                `json:"csv_file"`
	View    services.CurationView `json:"view"`
	Total   int                   `json:"total"`
	Items   []curationRowView     `json:"items"`
}

func curationPage(p services.CurationPage) curationPageView {
	v := curationPageView{CSVFile: p.CSVFile, View: p.View, Total: p.Total, Items: make([]curationRowView, len(p.Items))}
	for i, r := range p.Items {
		v.Items[i] = curationRowView(r)
	}
	return v
}
