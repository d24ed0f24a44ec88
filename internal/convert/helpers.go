package convert

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

// ParseQuantity converts a K8s resource.Quantity to float64.
// For CPU quantities (e.g. "500m"), returns cores as float64.
// For memory/storage quantities, returns bytes as float64.
func ParseQuantity(q resource.Quantity) float64 {
	// AsApproximateFloat64 handles both milli-values and large values correctly.
	return q.AsApproximateFloat64()
}

// ParseQuantityString parses a quantity string (e.g. "500m", "2Gi") to float64.
// Returns 0 on parse error.
func ParseQuantityString(s string) float64 {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0
	}
	return ParseQuantity(q)
}

// resourceQuantity extracts a resource.Quantity from a ResourceList.
// Returns a zero Quantity if not found.
func resourceQuantity(rl corev1.ResourceList, name corev1.ResourceName) resource.Quantity {
	if rl == nil {
		return resource.Quantity{}
	}
	q, ok := rl[name]
	if !ok {
		return resource.Quantity{}
	}
	return q
}
