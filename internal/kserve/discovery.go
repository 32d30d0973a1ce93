package kserve

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

var isvcGVR = schema.GroupVersionResource{
	Group:    "serving.kserve.io",
	Version:  "v1beta1",
	Resource: "inferenceservices",
}

// Discoverer looks up InferenceServices in one namespace.
type Discoverer struct {
	client    dynamic.Interface
	namespace string
}

// NewDiscoverer creates a Discoverer from a kubeconfig or the in-cluster config.
func NewDiscoverer(namespace, kubeconfig string, inCluster bool) (*Discoverer, error) {
	var config *rest.Config
	var err error

	if inCluster {
		config, err = rest.InClusterConfig()
	} else {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			loadingRules.ExplicitPath = kubeconfig
		}
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			loadingRules, &clientcmd.ConfigOverrides{},
		).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes config: %w", err)
	}

	client, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	return NewDiscovererWithClient(client, namespace), nil
}

// NewDiscovererWithClient creates a Discoverer over an existing dynamic client.
func NewDiscovererWithClient(client dynamic.Interface, namespace string) *Discoverer {
	return &Discoverer{client: client, namespace: namespace}
}

// CheckCRDAvailable verifies that the InferenceService CRD is installed.
func (d *Discoverer) CheckCRDAvailable(ctx context.Context) error {
	_, err := d.client.Resource(isvcGVR).Namespace(d.namespace).List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return fmt.Errorf("KServe InferenceService CRD is not available in the cluster: %w", err)
	}
	return nil
}

// List returns the endpoints of all InferenceServices in the namespace.
func (d *Discoverer) List(ctx context.Context) ([]Endpoint, error) {
	list, err := d.client.Resource(isvcGVR).Namespace(d.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list InferenceServices: %w", err)
	}

	endpoints := make([]Endpoint, 0, len(list.Items))
	for _, item := range list.Items {
		isvc, err := fromUnstructured(&item)
		if err != nil {
			slog.Warn("failed to convert InferenceService", "name", item.GetName(), "error", err)
			continue
		}
		endpoints = append(endpoints, d.endpoint(isvc))
	}
	return endpoints, nil
}

// Get returns the endpoint of one InferenceService, ready or not.
func (d *Discoverer) Get(ctx context.Context, name string) (*Endpoint, error) {
	item, err := d.client.Resource(isvcGVR).Namespace(d.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("InferenceService %s not found in namespace %s: %w", name, d.namespace, err)
		}
		return nil, fmt.Errorf("failed to get InferenceService %s: %w", name, err)
	}
	isvc, err := fromUnstructured(item)
	if err != nil {
		return nil, err
	}
	ep := d.endpoint(isvc)
	return &ep, nil
}

// Resolve returns the base URL of a ready InferenceService. A service that
// exists but is still starting (for example scaled to zero) is waited for
// up to timeout.
func (d *Discoverer) Resolve(ctx context.Context, name string, timeout time.Duration) (string, error) {
	ep, err := d.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if ep.Ready {
		return ep.URL, nil
	}

	slog.Info("waiting for InferenceService", "name", name, "message", ep.Message)
	if err := d.waitForReady(ctx, name, timeout); err != nil {
		return "", err
	}
	ep, err = d.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if !ep.Ready {
		return "", fmt.Errorf("%w: %s", ErrNotReady, name)
	}
	return ep.URL, nil
}

func (d *Discoverer) endpoint(isvc *InferenceService) Endpoint {
	ep := Endpoint{
		Name:      isvc.Name,
		GPUs:      isvc.GPUs(),
		CreatedAt: isvc.CreationTimestamp.UTC().Format(time.RFC3339),
	}
	if m := isvc.Spec.Predictor.Model; m != nil {
		if m.Runtime != nil {
			ep.Runtime = *m.Runtime
		}
		if m.StorageURI != nil {
			ep.StorageURI = *m.StorageURI
		}
	}
	if isvc.Status.IsReady() {
		ep.Ready = true
		ep.URL = openAIBaseURL(isvc.Status.URL, isvc.Name, d.namespace)
		return ep
	}
	ep.Message = "pending"
	if c := isvc.Status.readyCondition(); c != nil && c.Message != "" {
		ep.Message = c.Message
	}
	return ep
}

func (d *Discoverer) waitForReady(ctx context.Context, name string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	watcher, err := d.client.Resource(isvcGVR).Namespace(d.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + name,
	})
	if err != nil {
		return fmt.Errorf("failed to watch InferenceService: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: timeout waiting for %s", ErrNotReady, name)
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return fmt.Errorf("watch channel closed for InferenceService %s", name)
			}
			if event.Type != watch.Modified && event.Type != watch.Added {
				continue
			}
			obj, ok := event.Object.(*unstructured.Unstructured)
			if !ok {
				continue
			}
			isvc, err := fromUnstructured(obj)
			if err != nil {
				slog.Warn("failed to convert watch event", "error", err)
				continue
			}
			if isvc.Status.IsReady() {
				slog.Info("InferenceService ready", "name", name)
				return nil
			}
			if c := isvc.Status.readyCondition(); c != nil {
				slog.Debug("InferenceService not ready yet", "name", name, "reason", c.Reason, "message", c.Message)
			}
		}
	}
}

// openAIBaseURL returns the OpenAI-compatible base URL of a served model.
// vLLM serves the API under /v1; the controller reports the bare host.
func openAIBaseURL(statusURL, name, namespace string) string {
	if statusURL == "" {
		return fmt.Sprintf("http://%s.%s.svc.cluster.local/v1", name, namespace)
	}
	u, err := url.Parse(statusURL)
	if err != nil || strings.Trim(u.Path, "/") != "" {
		return statusURL
	}
	return strings.TrimRight(statusURL, "/") + "/v1"
}
