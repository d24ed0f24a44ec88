// Package catalog holds the GPU model and partition profile reference data.
// The catalog is seeded at startup and read-mostly afterwards; placement and
// partitioning consult it for capacity and partition rules.
package catalog

import (
	"github.com/duck3244/k8s-gpu-management/internal/errors"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// Catalog provides lookups over registered GPU models and their partition
// profiles.
type Catalog struct {
	models   *store.TypedStore[model.GPUModel]
	profiles *store.TypedStore[model.PartitionProfile]
}

// New creates a Catalog over the given stores.
func New(models *store.TypedStore[model.GPUModel], profiles *store.TypedStore[model.PartitionProfile]) *Catalog {
	return &Catalog{models: models, profiles: profiles}
}

// AddModel registers a GPU model. Re-adding an existing id overwrites it.
func (c *Catalog) AddModel(m model.GPUModel) error {
	if m.ID == "" {
		return errors.InvalidOperation("model id is required")
	}
	if m.MemoryGB <= 0 {
		return errors.InvalidOperation("model %s: memory must be positive", m.ID)
	}
	if m.PartitionSupport && m.MaxPartitions <= 0 {
		return errors.InvalidOperation("model %s: partition-capable model needs max partitions", m.ID)
	}
	c.models.Set(m.ID, m)
	return nil
}

// AddProfile registers a partition profile. The referenced model must exist
// and support partitioning.
func (c *Catalog) AddProfile(p model.PartitionProfile) error {
	if p.ID == "" {
		return errors.InvalidOperation("profile id is required")
	}
	m, ok := c.models.Get(p.ModelID)
	if !ok {
		return errors.NotFound("model %s not found for profile %s", p.ModelID, p.ID)
	}
	if !m.PartitionSupport {
		return errors.InvalidOperation("model %s does not support partitioning", m.ID)
	}
	if p.MemoryGB <= 0 || p.MaxInstancesPerGPU <= 0 {
		return errors.InvalidOperation("profile %s: memory and max instances must be positive", p.ID)
	}
	c.profiles.Set(p.ID, p)
	return nil
}

// Model returns the model with the given id.
func (c *Catalog) Model(id string) (model.GPUModel, error) {
	m, ok := c.models.Get(id)
	if !ok {
		return model.GPUModel{}, errors.NotFound("model %s not found", id)
	}
	return m, nil
}

// Profile returns the partition profile with the given id.
func (c *Catalog) Profile(id string) (model.PartitionProfile, error) {
	p, ok := c.profiles.Get(id)
	if !ok {
		return model.PartitionProfile{}, errors.NotFound("profile %s not found", id)
	}
	return p, nil
}

// ProfilesForModel returns all profiles defined for a model, in seed order.
func (c *Catalog) ProfilesForModel(modelID string) []model.PartitionProfile {
	var out []model.PartitionProfile
	for _, p := range c.profiles.Values() {
		if p.ModelID == modelID {
			out = append(out, p)
		}
	}
	return out
}

// Models returns all registered models in seed order.
func (c *Catalog) Models() []model.GPUModel {
	return c.models.Values()
}

// ModelsByArchitecture returns models of the given architecture.
func (c *Catalog) ModelsByArchitecture(arch string) []model.GPUModel {
	var out []model.GPUModel
	for _, m := range c.models.Values() {
		if m.Architecture == arch {
			out = append(out, m)
		}
	}
	return out
}

// PartitionCapableModels returns models that support partitioning.
func (c *Catalog) PartitionCapableModels() []model.GPUModel {
	var out []model.GPUModel
	for _, m := range c.models.Values() {
		if m.PartitionSupport {
			out = append(out, m)
		}
	}
	return out
}

// ModelsByMemoryRange returns models with MemoryGB in [minGB, maxGB].
func (c *Catalog) ModelsByMemoryRange(minGB, maxGB int) []model.GPUModel {
	var out []model.GPUModel
	for _, m := range c.models.Values() {
		if m.MemoryGB >= minGB && m.MemoryGB <= maxGB {
			out = append(out, m)
		}
	}
	return out
}

// ModelsByMarketSegment returns models of the given market segment.
func (c *Catalog) ModelsByMarketSegment(segment string) []model.GPUModel {
	var out []model.GPUModel
	for _, m := range c.models.Values() {
		if m.MarketSegment == segment {
			out = append(out, m)
		}
	}
	return out
}
