package model

import "github.com/shopspring/decimal"

// SuggestionType tags the category of a cost optimization suggestion.
type SuggestionType string

// Suggestion categories.
const (
	SuggestionRightsizing SuggestionType = "RIGHTSIZING"
	SuggestionScheduling  SuggestionType = "SCHEDULING"
	SuggestionTermination SuggestionType = "TERMINATION"
)

// OptimizationSuggestion is one heuristic savings opportunity surfaced by
// the cost estimator.
type OptimizationSuggestion struct {
	Type                 SuggestionType  `json:"type"`
	Title                string          `json:"title"`
	Description          string          `json:"description"`
	TargetResource       string          `json:"target_resource"`
	CurrentMonthlyCost   decimal.Decimal `json:"current_monthly_cost"`
	OptimizedMonthlyCost decimal.Decimal `json:"optimized_monthly_cost"`
	PotentialSavings     decimal.Decimal `json:"potential_savings"`
	Priority             string          `json:"priority"` // HIGH, MEDIUM, LOW
	Implementation       string          `json:"implementation,omitempty"`
	Impact               string          `json:"impact,omitempty"`
}

// CostAnalysis aggregates realized allocation cost over a trailing period
// and extrapolates run-rates. Allocations still open contribute nothing
// until their cost is finalized.
type CostAnalysis struct {
	PeriodDays int    `json:"period_days"`
	Currency   string `json:"currency"`

	TotalCost     decimal.Decimal `json:"total_cost"`
	DailyCost     decimal.Decimal `json:"daily_cost"`
	WeeklyCost    decimal.Decimal `json:"weekly_cost"`
	MonthlyCost   decimal.Decimal `json:"monthly_cost"`
	QuarterlyCost decimal.Decimal `json:"quarterly_cost"`

	CostByNamespace    map[string]decimal.Decimal `json:"cost_by_namespace"`
	CostByTeam         map[string]decimal.Decimal `json:"cost_by_team"`
	CostByWorkloadType map[string]decimal.Decimal `json:"cost_by_workload_type"`

	Suggestions             []OptimizationSuggestion `json:"suggestions"`
	PotentialMonthlySavings decimal.Decimal          `json:"potential_monthly_savings"`

	AnalyzedAt int64 `json:"analyzed_at"`
}
