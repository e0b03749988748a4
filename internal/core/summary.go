package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// MonthSummary is the income/expense picture of one month.
type MonthSummary struct {
	Month        Month
	Income       Money
	Expenses     Money
	Net          Money
	SavingsRate  float64 // 0 when there is no income
	ByCategory   []CategoryAmount
	PrevMonth    Month
	PrevIncome   Money
	PrevExpenses Money
}

// BudgetStatus compares a category budget with what was spent in a month.
type BudgetStatus struct {
	Category  string
	Budgeted  Money
	Spent     Money
	Remaining Money
	Pct       float64
	Over      bool
	Global    bool // budget came from the global default
}

// TrendPoint is one month of a trend series.
type TrendPoint struct {
	Month    Month
	Income   Money
	Expenses Money
	Net      Money
}

// SubscriptionShare is a subscription weighed against a month's spend.
type SubscriptionShare struct {
	ID         int64
	Name       string
	Frequency  Frequency
	Monthly    Money
	ShareOfPct float64
}

// CategorySpike flags a category that spent well above its recent average.
type CategorySpike struct {
	Category    string
	Current     Money
	AvgPrior    Money
	Increase    Money
	IncreasePct float64
}

// Insights is a savings report for one month.
type Insights struct {
	Summary           MonthSummary
	TargetRate        float64
	TargetNet         Money
	GapToTarget       Money
	OverBudget        []BudgetStatus
	TopSubscriptions  []SubscriptionShare
	SubscriptionTotal Money
	Spikes            []CategorySpike
}
