package model

// PodInfo represents a Kubernetes pod with ownership, containers, and scheduling info.
// GPU-requesting pods are the consumers that allocations are matched against.
type PodInfo struct {
	Name      string `json:"name"`
	UID       string `json:"uid"`
	Namespace string `json:"namespace"`
	NodeName  string `json:"node_name"`
	Phase     string `json:"phase"`
	QoSClass  string `json:"qos_class"`

	OwnerKind string `json:"owner_kind"`
	OwnerName string `json:"owner_name"`

	Containers []ContainerInfo `json:"containers"`

	Labels            map[string]string `json:"labels"`
	CreationTimestamp int64             `json:"creation_timestamp"`

	PriorityClassName string `json:"priority_class_name"`
	Priority          *int32 `json:"priority,omitempty"`
}

// RequestsGPU reports whether any container in the pod requests GPU resources.
func (p *PodInfo) RequestsGPU() bool {
	for i := range p.Containers {
		if p.Containers[i].GPURequest > 0 || p.Containers[i].GPULimit > 0 {
			return true
		}
	}
	return false
}

// ContainerInfo represents a container within a pod including spec, status, and metrics.
type ContainerInfo struct {
	Name  string `json:"name"`
	Image string `json:"image"`

	CPURequestCores    float64 `json:"cpu_request_cores"`
	MemoryRequestBytes int64   `json:"memory_request_bytes"`
	CPULimitCores      float64 `json:"cpu_limit_cores"`
	MemoryLimitBytes   int64   `json:"memory_limit_bytes"`
	GPURequest         int     `json:"gpu_request"`
	GPULimit           int     `json:"gpu_limit"`

	CPUUsageCores    *float64 `json:"cpu_usage_cores,omitempty"`
	MemoryUsageBytes *int64   `json:"memory_usage_bytes,omitempty"`

	GPUUtilizationPercent *float64 `json:"gpu_utilization_percent,omitempty"`
	GPUMemoryUsedBytes    *int64   `json:"gpu_memory_used_bytes,omitempty"`

	Ready        bool  `json:"ready"`
	RestartCount int32 `json:"restart_count"`
}
