package convert

import (
	corev1 "k8s.io/api/core/v1"

	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// PodToModel converts a Kubernetes Pod object to a model.PodInfo.
// Pure function — no side effects, no time.Now(), no external calls.
// CPUUsageCores/MemoryUsageBytes on containers are left nil (merged later from metrics).
func PodToModel(pod *corev1.Pod) model.PodInfo {
	info := model.PodInfo{
		Name:      pod.Name,
		UID:       string(pod.UID),
		Namespace: pod.Namespace,
		NodeName:  pod.Spec.NodeName,
		Phase:     string(pod.Status.Phase),
		QoSClass:  string(pod.Status.QOSClass),

		Labels:            pod.Labels,
		CreationTimestamp: pod.CreationTimestamp.UnixMilli(),

		PriorityClassName: pod.Spec.PriorityClassName,
		Priority:          pod.Spec.Priority,
	}

	// Owner — immediate ownerReferences[0] only
	if len(pod.OwnerReferences) > 0 {
		owner := pod.OwnerReferences[0]
		info.OwnerKind = owner.Kind
		info.OwnerName = owner.Name
	}

	// Build status lookup map by container name
	statusMap := buildStatusMap(pod.Status.ContainerStatuses)

	// Convert containers (spec is the source of truth, status is matched by name)
	info.Containers = convertContainers(pod.Spec.Containers, statusMap)

	return info
}

// buildStatusMap creates a name → ContainerStatus lookup from a status slice.
func buildStatusMap(statuses []corev1.ContainerStatus) map[string]corev1.ContainerStatus {
	m := make(map[string]corev1.ContainerStatus, len(statuses))
	for _, s := range statuses {
		m[s.Name] = s
	}
	return m
}

// convertContainers converts spec containers, matching each with its status by name.
func convertContainers(specs []corev1.Container, statusMap map[string]corev1.ContainerStatus) []model.ContainerInfo {
	if len(specs) == 0 {
		return nil
	}
	out := make([]model.ContainerInfo, len(specs))
	for i, spec := range specs {
		status, hasStatus := statusMap[spec.Name]
		out[i] = containerToModel(status, spec, hasStatus)
	}
	return out
}

// containerToModel converts a single container spec + status pair to model.ContainerInfo.
// If hasStatus is false, status fields default to zero values (pod may be freshly created).
func containerToModel(status corev1.ContainerStatus, spec corev1.Container, hasStatus bool) model.ContainerInfo {
	c := model.ContainerInfo{
		Name:  spec.Name,
		Image: spec.Image,

		CPURequestCores:    ParseQuantity(resourceQuantity(spec.Resources.Requests, corev1.ResourceCPU)),
		MemoryRequestBytes: quantityValue(spec.Resources.Requests, corev1.ResourceMemory),
		CPULimitCores:      ParseQuantity(resourceQuantity(spec.Resources.Limits, corev1.ResourceCPU)),
		MemoryLimitBytes:   quantityValue(spec.Resources.Limits, corev1.ResourceMemory),
		GPURequest:         int(quantityValue(spec.Resources.Requests, "nvidia.com/gpu")),
		GPULimit:           int(quantityValue(spec.Resources.Limits, "nvidia.com/gpu")),
	}

	// MIG resources count toward the GPU request as well.
	for rName, q := range spec.Resources.Requests {
		if isMIGResource(rName) {
			c.GPURequest += int(q.Value())
		}
	}
	for rName, q := range spec.Resources.Limits {
		if isMIGResource(rName) {
			c.GPULimit += int(q.Value())
		}
	}

	if hasStatus {
		c.Ready = status.Ready
		c.RestartCount = status.RestartCount
	}

	return c
}

func isMIGResource(name corev1.ResourceName) bool {
	const prefix = "nvidia.com/mig-"
	s := string(name)
	return len(s) > len(prefix) && s[:len(prefix)] == prefix
}
