package services

import (
	"context"
	"fmt"
	"sort"

	"despesas/internal/core"

	"github.com/shopspring/decimal"
)

const (
	DefaultTargetSavingsRate = 20.0
	topSubscriptions         = 5
	spikeLookback            = 3
)

// spikeFactor: a category spikes when it spends more than 130% of its
// average over the months it had spending in the lookback window.
var spikeFactor = decimal.RequireFromString("1.3")

// MonthlyEquivalent spreads a yearly subscription over twelve months.
func MonthlyEquivalent(sub core.Subscription) core.Money {
	switch sub.Frequency {
	case core.Yearly:
		return core.Money{Cents: decimal.NewFromInt(sub.Amount.Cents).DivRound(decimal.NewFromInt(12), 0).IntPart()}
	default:
		return sub.Amount
	}
}

// Insights builds a savings report for month: distance to targetRate,
// over-budget categories, the costliest subscriptions and spending spikes.
func (a *Analytics) Insights(ctx context.Context, month core.Month, targetRate float64) (core.Insights, error) {
	summary, err := a.Summary(ctx, month)
	if err != nil {
		return core.Insights{}, err
	}
	out := core.Insights{Summary: summary, TargetRate: targetRate}

	if summary.Income.Cents > 0 && summary.SavingsRate < targetRate {
		target := decimal.NewFromInt(summary.Income.Cents).
			Mul(decimal.NewFromFloat(targetRate)).
			DivRound(decimal.NewFromInt(100), 0)
		out.TargetNet = core.Money{Cents: target.IntPart()}
		if gap := out.TargetNet.Sub(summary.Net); gap.Cents > 0 {
			out.GapToTarget = gap
		}
	}

	statuses, err := a.Budgets(ctx, month)
	if err != nil {
		return core.Insights{}, err
	}
	for _, st := range statuses {
		if st.Over {
			out.OverBudget = append(out.OverBudget, st)
		}
	}
	sort.SliceStable(out.OverBudget, func(i, j int) bool {
		return out.OverBudget[i].Spent.Sub(out.OverBudget[i].Budgeted).Cents >
			out.OverBudget[j].Spent.Sub(out.OverBudget[j].Budgeted).Cents
	})

	subs, err := a.store.ListSubscriptions(ctx)
	if err != nil {
		return core.Insights{}, fmt.Errorf("list subscriptions: %w", err)
	}
	var shares []core.SubscriptionShare
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		monthly := MonthlyEquivalent(sub)
		out.SubscriptionTotal = out.SubscriptionTotal.Add(monthly)
		shares = append(shares, core.SubscriptionShare{
			ID:         sub.ID,
			Name:       sub.Name,
			Frequency:  sub.Frequency,
			Monthly:    monthly,
			ShareOfPct: core.Percent(monthly, summary.Expenses),
		})
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].Monthly.Cents > shares[j].Monthly.Cents })
	if len(shares) > topSubscriptions {
		shares = shares[:topSubscriptions]
	}
	out.TopSubscriptions = shares

	spikes, err := a.spikes(ctx, month, summary.ByCategory)
	if err != nil {
		return core.Insights{}, err
	}
	out.Spikes = spikes
	return out, nil
}

func (a *Analytics) spikes(ctx context.Context, month core.Month, current []core.CategoryAmount) ([]core.CategorySpike, error) {
	history := map[string][]core.Money{}
	for i := 1; i <= spikeLookback; i++ {
		t, err := a.totals(ctx, month.Add(-i))
		if err != nil {
			return nil, err
		}
		for cat, amount := range t.byCategory {
			history[cat] = append(history[cat], amount)
		}
	}

	var out []core.CategorySpike
	for _, c := range current {
		hist := history[c.Name]
		if len(hist) == 0 {
			continue
		}
		sum := decimal.Zero
		for _, h := range hist {
			sum = sum.Add(decimal.NewFromInt(h.Cents))
		}
		avg := sum.DivRound(decimal.NewFromInt(int64(len(hist))), 0)
		if !avg.IsPositive() || !decimal.NewFromInt(c.Amount.Cents).GreaterThan(avg.Mul(spikeFactor)) {
			continue
		}
		avgMoney := core.Money{Cents: avg.IntPart()}
		increase := c.Amount.Sub(avgMoney)
		out = append(out, core.CategorySpike{
			Category:    c.Name,
			Current:     c.Amount,
			AvgPrior:    avgMoney,
			Increase:    increase,
			IncreasePct: core.Percent(increase, avgMoney),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Increase.Cents > out[j].Increase.Cents })
	return out, nil
}
