package allocation

import "github.com/duck3244/k8s-gpu-management/pkg/model"

// Active returns all open allocations in creation order.
func (e *Engine) Active() []model.Allocation {
	return e.filter(func(a model.Allocation) bool {
		return a.Status == model.AllocationAllocated
	})
}

// ByNamespace returns all allocations, open and terminal, for a namespace.
func (e *Engine) ByNamespace(namespace string) []model.Allocation {
	return e.filter(func(a model.Allocation) bool {
		return a.Namespace == namespace
	})
}

// ByUser returns all allocations made for a user.
func (e *Engine) ByUser(userID string) []model.Allocation {
	return e.filter(func(a model.Allocation) bool {
		return a.UserID == userID
	})
}

// ByTeam returns all allocations made for a team.
func (e *Engine) ByTeam(teamID string) []model.Allocation {
	return e.filter(func(a model.Allocation) bool {
		return a.TeamID == teamID
	})
}

// ExpiringBefore returns open allocations whose planned release falls at or
// before t (UnixMilli). Open-ended allocations never match.
func (e *Engine) ExpiringBefore(t int64) []model.Allocation {
	return e.filter(func(a model.Allocation) bool {
		return a.Status == model.AllocationAllocated &&
			a.PlannedReleaseAt != nil && *a.PlannedReleaseAt <= t
	})
}

// History returns every allocation ever bound to a resource, the resource's
// billing history.
func (e *Engine) History(resourceID string) []model.Allocation {
	return e.filter(func(a model.Allocation) bool {
		return a.ResourceID == resourceID
	})
}

// Get returns one allocation by id.
func (e *Engine) Get(id string) (model.Allocation, bool) {
	return e.store.Allocations.Get(id)
}

// CostStatistics delegates to the estimator's realized-cost bucketing.
func (e *Engine) CostStatistics() model.AllocationCostStatistics {
	return e.estimator.CostStatistics()
}

func (e *Engine) filter(keep func(model.Allocation) bool) []model.Allocation {
	var out []model.Allocation
	for _, a := range e.store.Allocations.Values() {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
