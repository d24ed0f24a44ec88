package discovery

import (
	"context"
	"fmt"
	"strings"

	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/kubernetes"
)

// apiGroupMetrics is the API group registered by metrics-server.
const apiGroupMetrics = "metrics.k8s.io"

// Capabilities describes optional cluster features detected at startup.
// Results are computed once and cached for the agent's lifetime; DCGM
// endpoints can be refreshed via DetectDCGMEndpoints.
type Capabilities struct {
	MetricsServer         bool     // pod metrics resource exists and is readable
	GPUNodes              bool     // at least one node advertises nvidia.com/gpu or MIG resources
	DCGMExporter          bool     // dcgm-exporter pods found on GPU nodes
	DCGMExporterEndpoints []string // pod IPs of discovered dcgm-exporter instances
}

// Detect probes the cluster for metrics-server and GPU telemetry sources.
// The metrics-server probe is RBAC-aware: beyond API group registration it
// verifies the pod metrics resource exists and that the service account may
// list and watch it. This is intended to run once at startup.
func Detect(ctx context.Context, client kubernetes.Interface, discoveryClient discovery.DiscoveryInterface) (*Capabilities, error) {
	caps := &Capabilities{}

	available, err := CheckResource(ctx, client, discoveryClient, apiGroupMetrics, "v1beta1", "pods")
	if err != nil {
		return nil, fmt.Errorf("discovery: metrics-server probe: %w", err)
	}
	caps.MetricsServer = available

	caps.GPUNodes = hasGPUNodes(ctx, client)
	if caps.GPUNodes {
		caps.DCGMExporter, caps.DCGMExporterEndpoints = findDCGMExporterPods(ctx, client)
	}

	return caps, nil
}

// HasAPIGroup checks whether a specific API group is registered with the cluster.
func HasAPIGroup(discoveryClient discovery.DiscoveryInterface, group string) (bool, error) {
	groups, err := discoveryClient.ServerGroups()
	if err != nil {
		return false, fmt.Errorf("discovery: failed to list server groups: %w", err)
	}

	for _, g := range groups.Groups {
		if g.Name == group {
			return true, nil
		}
	}
	return false, nil
}

// DetectDCGMEndpoints probes the cluster for dcgm-exporter pods on GPU nodes
// and returns their pod IPs. Safe to call repeatedly for endpoint refresh.
func DetectDCGMEndpoints(ctx context.Context, client kubernetes.Interface) (bool, []string) {
	if !hasGPUNodes(ctx, client) {
		return false, nil
	}
	return findDCGMExporterPods(ctx, client)
}

// hasGPUNodes reports whether any node advertises whole-GPU or MIG resources.
func hasGPUNodes(ctx context.Context, client kubernetes.Interface) bool {
	nodeList, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return false
	}

	for i := range nodeList.Items {
		node := &nodeList.Items[i]
		if q, ok := node.Status.Allocatable[v1.ResourceName("nvidia.com/gpu")]; ok && q.Value() > 0 {
			return true
		}
		for rName := range node.Status.Allocatable {
			if strings.HasPrefix(string(rName), "nvidia.com/mig-") {
				return true
			}
		}
	}
	return false
}

// findDCGMExporterPods searches for dcgm-exporter pods by the label schemas
// used by the GPU operator and the standalone helm chart.
func findDCGMExporterPods(ctx context.Context, client kubernetes.Interface) (bool, []string) {
	selectors := []string{
		"app=nvidia-dcgm-exporter",
		"app.kubernetes.io/name=dcgm-exporter",
	}

	for _, sel := range selectors {
		pods, err := client.CoreV1().Pods("").List(ctx, metav1.ListOptions{
			LabelSelector: sel,
		})
		if err != nil || len(pods.Items) == 0 {
			continue
		}
		var endpoints []string
		for _, pod := range pods.Items {
			if pod.Status.PodIP != "" {
				endpoints = append(endpoints, pod.Status.PodIP)
			}
		}
		if len(endpoints) > 0 {
			return true, endpoints
		}
	}

	return false, nil
}
