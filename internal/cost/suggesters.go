package cost

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// Suggester is one stage of the optimization pipeline. Stages are
// independent; each scans fleet state and emits zero or more suggestions.
type Suggester interface {
	Suggest(ctx suggestContext) []model.OptimizationSuggestion
}

// suggestContext hands pipeline stages the estimator's state plus the
// analysis under construction.
type suggestContext struct {
	estimator *Estimator
	now       time.Time
	analysis  *model.CostAnalysis
}

var (
	hoursPerMonth = decimal.NewFromInt(24 * 30)
	pct30         = decimal.NewFromFloat(0.30)
	pct20         = decimal.NewFromFloat(0.20)
	pct50         = decimal.NewFromFloat(0.50)
)

// rightsizingSuggester flags open full-device allocations whose memory
// request would fit a partition on a partition-capable model.
type rightsizingSuggester struct{}

func (rightsizingSuggester) Suggest(ctx suggestContext) []model.OptimizationSuggestion {
	e := ctx.estimator
	var out []model.OptimizationSuggestion
	for _, a := range e.store.Allocations.Values() {
		if a.Status != model.AllocationAllocated || a.ResourceKind != model.KindFullDevice {
			continue
		}
		if a.RequestedMemoryGB <= 0 || a.RequestedMemoryGB > e.cfg.RightsizingMemoryGB {
			continue
		}
		dev, ok := e.store.Devices.Get(a.ResourceID)
		if !ok {
			continue
		}
		m, err := e.catalog.Model(dev.ModelID)
		if err != nil || !m.PartitionSupport {
			continue
		}
		monthly := a.HourlyRate.Mul(hoursPerMonth)
		savings := monthly.Mul(pct30)
		out = append(out, model.OptimizationSuggestion{
			Type:           model.SuggestionRightsizing,
			Title:          "Move small workload to a partition",
			Description:    fmt.Sprintf("allocation %s uses a whole %s for a %d GB request", a.ID, m.ID, a.RequestedMemoryGB),
			TargetResource: a.ID,
			CurrentMonthlyCost:   monthly,
			OptimizedMonthlyCost: monthly.Sub(savings),
			PotentialSavings:     savings,
			Priority:             "MEDIUM",
			Implementation:       "partition the device and rebind the workload to a matching instance",
			Impact:               "requires workload restart",
		})
	}
	return out
}

// staleAllocationSuggester flags allocations that have stayed open past the
// stale threshold.
type staleAllocationSuggester struct{}

func (staleAllocationSuggester) Suggest(ctx suggestContext) []model.OptimizationSuggestion {
	e := ctx.estimator
	cutoff := ctx.now.AddDate(0, 0, -e.cfg.StaleAfterDays).UnixMilli()
	var out []model.OptimizationSuggestion
	for _, a := range e.store.Allocations.Values() {
		if a.Status != model.AllocationAllocated || a.AllocatedAt >= cutoff {
			continue
		}
		monthly := a.HourlyRate.Mul(hoursPerMonth)
		savings := monthly.Mul(pct20)
		out = append(out, model.OptimizationSuggestion{
			Type:           model.SuggestionTermination,
			Title:          "Review long-running allocation",
			Description:    fmt.Sprintf("allocation %s in %s has been open for more than %d days", a.ID, a.Namespace, e.cfg.StaleAfterDays),
			TargetResource: a.ID,
			CurrentMonthlyCost:   monthly,
			OptimizedMonthlyCost: monthly.Sub(savings),
			PotentialSavings:     savings,
			Priority:             "HIGH",
			Implementation:       "confirm the workload still needs the resource, release otherwise",
			Impact:               "none if the allocation is abandoned",
		})
	}
	return out
}

// idleDeviceSuggester flags a surplus of idle devices as a consolidation
// opportunity. One suggestion covers the whole surplus.
type idleDeviceSuggester struct{}

func (idleDeviceSuggester) Suggest(ctx suggestContext) []model.OptimizationSuggestion {
	e := ctx.estimator

	busy := make(map[string]struct{})
	for _, a := range e.store.Allocations.Values() {
		if a.Status == model.AllocationAllocated && a.ResourceKind == model.KindFullDevice {
			busy[a.ResourceID] = struct{}{}
		}
	}
	var idle []model.GPUDevice
	for _, d := range e.store.Devices.Values() {
		if d.Status != model.DeviceActive {
			continue
		}
		if _, taken := busy[d.ID]; taken {
			continue
		}
		idle = append(idle, d)
	}
	if len(idle) <= e.cfg.IdleDeviceSurplus {
		return nil
	}

	var combined decimal.Decimal
	for _, d := range idle {
		combined = combined.Add(e.deviceMonthlyRate(d.ModelID))
	}
	savings := combined.Mul(pct50)
	return []model.OptimizationSuggestion{{
		Type:           model.SuggestionScheduling,
		Title:          "Consolidate idle GPU capacity",
		Description:    fmt.Sprintf("%d devices are idle, above the surplus threshold of %d", len(idle), e.cfg.IdleDeviceSurplus),
		TargetResource: fmt.Sprintf("%d idle devices", len(idle)),
		CurrentMonthlyCost:   combined,
		OptimizedMonthlyCost: combined.Sub(savings),
		PotentialSavings:     savings,
		Priority:             "LOW",
		Implementation:       "cordon idle GPU nodes or scale the node group down",
		Impact:               "reduces burst headroom",
	}}
}

func (e *Estimator) deviceMonthlyRate(modelID string) decimal.Decimal {
	return e.deviceRate(modelID).Mul(hoursPerMonth)
}
