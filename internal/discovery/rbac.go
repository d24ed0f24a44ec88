package discovery

import (
	"context"
	"fmt"

	authorizationv1 "k8s.io/api/authorization/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/kubernetes"
)

// CheckResource decides whether a Kubernetes resource is usable by this
// service account. Three conditions must all hold:
//
//  1. the API group is registered (ServerGroups)
//  2. the resource exists in the group/version (ServerResourcesForGroupVersion)
//  3. RBAC grants list and watch (SelfSubjectAccessReview)
//
// An unavailable resource returns (false, nil); errors are reserved for
// unexpected failures such as an unreachable API server.
func CheckResource(ctx context.Context, client kubernetes.Interface, discoveryClient discovery.DiscoveryInterface, group, version, resource string) (bool, error) {
	groupExists, err := HasAPIGroup(discoveryClient, group)
	if err != nil {
		return false, fmt.Errorf("discovery: check API group %q: %w", group, err)
	}
	if !groupExists {
		return false, nil
	}

	resourceExists, err := hasResource(discoveryClient, group, version, resource)
	if err != nil {
		return false, fmt.Errorf("discovery: check resource %q in %s/%s: %w", resource, group, version, err)
	}
	if !resourceExists {
		return false, nil
	}

	canAccess, err := CanListWatch(ctx, client, group, resource)
	if err != nil {
		return false, fmt.Errorf("discovery: RBAC check for %q: %w", resource, err)
	}

	return canAccess, nil
}

// hasResource reports whether resource exists in group/version. A missing
// group/version counts as absent, not as an error.
func hasResource(discoveryClient discovery.DiscoveryInterface, group, version, resource string) (bool, error) {
	groupVersion := version
	if group != "" {
		groupVersion = group + "/" + version
	}

	resources, err := discoveryClient.ServerResourcesForGroupVersion(groupVersion)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	for _, r := range resources.APIResources {
		if r.Name == resource {
			return true, nil
		}
	}
	return false, nil
}

// CanListWatch reports whether the current service account may both list
// and watch the resource.
func CanListWatch(ctx context.Context, client kubernetes.Interface, group, resource string) (bool, error) {
	for _, verb := range []string{"list", "watch"} {
		allowed, err := reviewAccess(ctx, client, group, resource, verb)
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, nil
		}
	}
	return true, nil
}

func reviewAccess(ctx context.Context, client kubernetes.Interface, group, resource, verb string) (bool, error) {
	review := &authorizationv1.SelfSubjectAccessReview{
		Spec: authorizationv1.SelfSubjectAccessReviewSpec{
			ResourceAttributes: &authorizationv1.ResourceAttributes{
				Verb:     verb,
				Group:    group,
				Resource: resource,
			},
		},
	}

	result, err := client.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
	if err != nil {
		return false, fmt.Errorf("SelfSubjectAccessReview for %s/%s verb=%s: %w", group, resource, verb, err)
	}

	return result.Status.Allowed, nil
}
