// Package cost prices GPU resources and analyzes realized allocation spend.
package cost

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/duck3244/k8s-gpu-management/internal/catalog"
	"github.com/duck3244/k8s-gpu-management/internal/errors"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// Config carries the pricing table and suggestion thresholds.
type Config struct {
	// Rates maps GPU model id to the hourly rate of a whole device.
	Rates map[string]decimal.Decimal
	// FallbackRate prices models missing from Rates.
	FallbackRate decimal.Decimal
	// Currency tags analysis output; no conversion happens here.
	Currency string
	// PartitionDiscount scales partition rates below their performance
	// share of the device rate.
	PartitionDiscount decimal.Decimal

	// RightsizingMemoryGB: full-device allocations requesting at most this
	// much memory are partition candidates.
	RightsizingMemoryGB int
	// StaleAfterDays: open allocations older than this get a review suggestion.
	StaleAfterDays int
	// IdleDeviceSurplus: more idle devices than this triggers a power-down
	// suggestion.
	IdleDeviceSurplus int
}

// Estimator prices resources and produces cost analyses.
type Estimator struct {
	store      *store.Store
	catalog    *catalog.Catalog
	clock      errors.Clock
	cfg        Config
	logger     *slog.Logger
	suggesters []Suggester
}

// New creates an Estimator with the default suggester pipeline.
func New(st *store.Store, cat *catalog.Catalog, clock errors.Clock, cfg Config, logger *slog.Logger) *Estimator {
	e := &Estimator{
		store:   st,
		catalog: cat,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.With("component", "cost"),
	}
	e.suggesters = []Suggester{
		rightsizingSuggester{},
		staleAllocationSuggester{},
		idleDeviceSuggester{},
	}
	return e
}

// deviceRate returns the hourly rate of a whole device of the given model.
func (e *Estimator) deviceRate(modelID string) decimal.Decimal {
	if r, ok := e.cfg.Rates[modelID]; ok {
		return r
	}
	return e.cfg.FallbackRate
}

// RateFor prices one resource per hour. Whole devices use the model rate;
// partition instances use the model rate scaled by the profile's performance
// ratio and the partition discount. Unresolvable resources fall back to the
// fallback rate so allocation never fails on pricing.
func (e *Estimator) RateFor(kind model.ResourceKind, resourceID string) decimal.Decimal {
	switch kind {
	case model.KindFullDevice:
		if dev, ok := e.store.Devices.Get(resourceID); ok {
			return e.deviceRate(dev.ModelID)
		}
	case model.KindPartitionInstance:
		inst, ok := e.store.Instances.Get(resourceID)
		if !ok {
			break
		}
		dev, ok := e.store.Devices.Get(inst.DeviceID)
		if !ok {
			break
		}
		profile, err := e.catalog.Profile(inst.ProfileID)
		if err != nil {
			break
		}
		ratio := decimal.NewFromFloat(profile.PerformanceRatio)
		return e.deviceRate(dev.ModelID).Mul(ratio).Mul(e.cfg.PartitionDiscount)
	}
	e.logger.Warn("pricing fell back to default rate", "kind", kind, "resource_id", resourceID)
	return e.cfg.FallbackRate
}

// Analyze aggregates realized cost over the trailing periodDays and runs the
// suggester pipeline. Only finalized (terminal) allocations contribute to
// realized totals.
func (e *Estimator) Analyze(periodDays int) model.CostAnalysis {
	now := e.clock.Now()
	since := now.AddDate(0, 0, -periodDays).UnixMilli()

	analysis := model.CostAnalysis{
		PeriodDays:         periodDays,
		Currency:           e.cfg.Currency,
		CostByNamespace:    make(map[string]decimal.Decimal),
		CostByTeam:         make(map[string]decimal.Decimal),
		CostByWorkloadType: make(map[string]decimal.Decimal),
		AnalyzedAt:         now.UnixMilli(),
	}

	for _, a := range e.store.Allocations.Values() {
		if !a.Status.Terminal() || a.TotalCost == nil {
			continue
		}
		if a.AllocatedAt < since {
			continue
		}
		c := *a.TotalCost
		analysis.TotalCost = analysis.TotalCost.Add(c)
		analysis.CostByNamespace[a.Namespace] = analysis.CostByNamespace[a.Namespace].Add(c)
		if a.TeamID != "" {
			analysis.CostByTeam[a.TeamID] = analysis.CostByTeam[a.TeamID].Add(c)
		}
		if a.WorkloadType != "" {
			analysis.CostByWorkloadType[a.WorkloadType] = analysis.CostByWorkloadType[a.WorkloadType].Add(c)
		}
	}

	days := decimal.NewFromInt(int64(periodDays))
	if periodDays > 0 {
		analysis.DailyCost = analysis.TotalCost.Div(days)
	}
	analysis.WeeklyCost = analysis.DailyCost.Mul(decimal.NewFromInt(7))
	analysis.MonthlyCost = analysis.DailyCost.Mul(decimal.NewFromInt(30))
	analysis.QuarterlyCost = analysis.DailyCost.Mul(decimal.NewFromInt(90))

	sctx := suggestContext{
		estimator: e,
		now:       now,
		analysis:  &analysis,
	}
	for _, s := range e.suggesters {
		suggestions := s.Suggest(sctx)
		analysis.Suggestions = append(analysis.Suggestions, suggestions...)
		for _, sg := range suggestions {
			analysis.PotentialMonthlySavings = analysis.PotentialMonthlySavings.Add(sg.PotentialSavings)
		}
	}
	return analysis
}

// CostStatistics buckets realized cost by namespace, team, and workload type
// with count/total/average per bucket.
func (e *Estimator) CostStatistics() model.AllocationCostStatistics {
	stats := model.AllocationCostStatistics{
		ByNamespace:    make(map[string]model.GroupCostStats),
		ByTeam:         make(map[string]model.GroupCostStats),
		ByWorkloadType: make(map[string]model.GroupCostStats),
		Timestamp:      e.clock.Now().UnixMilli(),
	}
	add := func(m map[string]model.GroupCostStats, key string, c decimal.Decimal) {
		if key == "" {
			return
		}
		g := m[key]
		g.Count++
		g.TotalCost = g.TotalCost.Add(c)
		g.AvgCost = g.TotalCost.Div(decimal.NewFromInt(int64(g.Count)))
		m[key] = g
	}
	for _, a := range e.store.Allocations.Values() {
		if !a.Status.Terminal() || a.TotalCost == nil {
			continue
		}
		add(stats.ByNamespace, a.Namespace, *a.TotalCost)
		add(stats.ByTeam, a.TeamID, *a.TotalCost)
		add(stats.ByWorkloadType, a.WorkloadType, *a.TotalCost)
	}
	return stats
}
