package store

import "github.com/duck3244/k8s-gpu-management/pkg/model"

// Store is the composite in-memory store for the GPU fleet. Each TypedStore
// has its own RWMutex, so concurrent access to different entity types does
// not contend on a single lock. Catalog stores (Models, Profiles) are seeded
// at startup and read-mostly afterwards.
type Store struct {
	Models      *TypedStore[model.GPUModel]
	Profiles    *TypedStore[model.PartitionProfile]
	Nodes       *TypedStore[model.GPUNode]
	Devices     *TypedStore[model.GPUDevice]
	Instances   *TypedStore[model.PartitionInstance]
	Allocations *TypedStore[model.Allocation]
	Pods        *TypedStore[model.PodInfo]

	// DeviceLocks serializes state transitions per device. Every mutation
	// of a device, its partition instances, or an allocation bound to it
	// runs under the owning device's lock.
	DeviceLocks *KeyedMutex
}

// LastUpdatedTimes returns the UnixMilli timestamp of the last update for each typed store.
// Used by the snapshot builder for staleness detection.
func (s *Store) LastUpdatedTimes() map[string]int64 {
	return map[string]int64{
		"models":      s.Models.LastUpdated(),
		"profiles":    s.Profiles.LastUpdated(),
		"nodes":       s.Nodes.LastUpdated(),
		"devices":     s.Devices.LastUpdated(),
		"instances":   s.Instances.LastUpdated(),
		"allocations": s.Allocations.LastUpdated(),
		"pods":        s.Pods.LastUpdated(),
	}
}

// ItemCounts returns the number of items in each typed store.
// Implements health.StoreStats.
func (s *Store) ItemCounts() map[string]int {
	return map[string]int{
		"models":      s.Models.Len(),
		"profiles":    s.Profiles.Len(),
		"nodes":       s.Nodes.Len(),
		"devices":     s.Devices.Len(),
		"instances":   s.Instances.Len(),
		"allocations": s.Allocations.Len(),
		"pods":        s.Pods.Len(),
	}
}

// NewStore creates a Store with all TypedStores initialized.
func NewStore() *Store {
	return &Store{
		Models:      NewTypedStore[model.GPUModel](),
		Profiles:    NewTypedStore[model.PartitionProfile](),
		Nodes:       NewTypedStore[model.GPUNode](),
		Devices:     NewTypedStore[model.GPUDevice](),
		Instances:   NewTypedStore[model.PartitionInstance](),
		Allocations: NewTypedStore[model.Allocation](),
		Pods:        NewTypedStore[model.PodInfo](),
		DeviceLocks: NewKeyedMutex(),
	}
}
