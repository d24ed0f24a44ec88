package convert

import (
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// driverVersionLabels are checked in order when extracting the NVIDIA driver
// version from node labels. GPU Feature Discovery publishes the first form.
var driverVersionLabels = []string{
	"nvidia.com/cuda.driver-version.full",
	"nvidia.com/gpu.driver-version",
}

// NodeToModel converts a Kubernetes Node object to a model.GPUNode.
// Pure function — no side effects, no time.Now(), no external calls.
// TotalGPUs/AvailableGPUs are left zero; the device registry recomputes
// them from the inventory.
func NodeToModel(node *corev1.Node) model.GPUNode {
	labels := node.Labels

	n := model.GPUNode{
		Name:              node.Name,
		IP:                internalIP(node.Status.Addresses),
		KubernetesVersion: node.Status.NodeInfo.KubeletVersion,
		DriverVersion:     driverVersion(labels),

		Ready:               nodeReady(node.Status.Conditions),
		CPUCapacityCores:    ParseQuantity(node.Status.Capacity[corev1.ResourceCPU]),
		MemoryCapacityBytes: quantityValue(node.Status.Capacity, corev1.ResourceMemory),
		GPUCapacity:         int(quantityValue(node.Status.Allocatable, "nvidia.com/gpu")),

		Labels: labels,
	}

	return n
}

// driverVersion extracts the NVIDIA driver version from node labels, if present.
func driverVersion(labels map[string]string) string {
	for _, key := range driverVersionLabels {
		if v, ok := labels[key]; ok && v != "" {
			return v
		}
	}
	return ""
}

// internalIP returns the node's InternalIP address, or empty if none.
func internalIP(addresses []corev1.NodeAddress) string {
	for _, a := range addresses {
		if a.Type == corev1.NodeInternalIP {
			return a.Address
		}
	}
	return ""
}

// nodeReady returns true if the node has a Ready condition with status True.
func nodeReady(conditions []corev1.NodeCondition) bool {
	for _, c := range conditions {
		if c.Type == corev1.NodeReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

// quantityValue extracts the int64 Value() from a resource in a ResourceList.
// Handles the pointer-receiver issue with resource.Quantity.Value().
func quantityValue(rl corev1.ResourceList, name corev1.ResourceName) int64 {
	q, ok := rl[name]
	if !ok {
		return 0
	}
	return q.Value()
}

// DetectMIGResources checks a node's Allocatable resources for nvidia.com/mig-* entries.
// Returns true with a map of MIG resource names to counts if any are found.
func DetectMIGResources(node *corev1.Node) (migEnabled bool, migDevices map[string]int) {
	for rName, q := range node.Status.Allocatable {
		if strings.HasPrefix(string(rName), "nvidia.com/mig-") {
			if migDevices == nil {
				migDevices = make(map[string]int)
			}
			migDevices[string(rName)] = int(q.Value())
			migEnabled = true
		}
	}
	return
}
