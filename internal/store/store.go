// Package store provides uniform get/create/replace/delete access to named,
// namespaced custom resources of arbitrary API group and kind.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/gateway-cert-webhook/internal/metrics"
)

// Error classes every Store implementation maps its failures onto.
// Anything else is an "other" error and is returned as is.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrConflict      = errors.New("resource was modified concurrently")
)

// Store is the resource access capability used by the webhook.
// Cluster-scoped kinds are addressed with an empty namespace.
type Store interface {
	Get(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) (*unstructured.Unstructured, error)
	Create(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)
	Replace(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)
	Delete(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) error
}

// KubeStore implements Store on top of a controller-runtime client.
// Unstructured reads are not cached by controller-runtime, so every Get hits
// the API server.
type KubeStore struct {
	client  client.Client
	metrics metrics.Collector
}

// NewKubeStore creates a Store backed by the given client.
func NewKubeStore(c client.Client, metricsCollector metrics.Collector) *KubeStore {
	if metricsCollector == nil {
		metricsCollector = metrics.NewNoopCollector()
	}

	return &KubeStore{
		client:  c,
		metrics: metricsCollector,
	}
}

// Get fetches a single object.
func (s *KubeStore) Get(
	ctx context.Context,
	gvk schema.GroupVersionKind,
	namespace, name string,
) (*unstructured.Unstructured, error) {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)

	startTime := time.Now()
	err := s.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, obj)
	s.observe(ctx, "get", gvk.Kind, err, startTime)

	if err != nil {
		return nil, classify(err, "failed to get %s %s", gvk.Kind, key(namespace, name))
	}

	return obj, nil
}

// Create creates obj and returns the stored version.
func (s *KubeStore) Create(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	created := obj.DeepCopy()

	startTime := time.Now()
	err := s.client.Create(ctx, created)
	s.observe(ctx, "create", obj.GetKind(), err, startTime)

	if err != nil {
		return nil, classify(err, "failed to create %s %s", obj.GetKind(), key(obj.GetNamespace(), obj.GetName()))
	}

	return created, nil
}

// Replace performs a full update of obj. The resourceVersion carried by obj,
// if any, is sent along and the API server rejects stale writes.
func (s *KubeStore) Replace(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	replaced := obj.DeepCopy()

	startTime := time.Now()
	err := s.client.Update(ctx, replaced)
	s.observe(ctx, "replace", obj.GetKind(), err, startTime)

	if err != nil {
		return nil, classify(err, "failed to replace %s %s", obj.GetKind(), key(obj.GetNamespace(), obj.GetName()))
	}

	return replaced, nil
}

// Delete removes a single object.
func (s *KubeStore) Delete(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) error {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	obj.SetNamespace(namespace)
	obj.SetName(name)

	startTime := time.Now()
	err := s.client.Delete(ctx, obj)
	s.observe(ctx, "delete", gvk.Kind, err, startTime)

	if err != nil {
		return classify(err, "failed to delete %s %s", gvk.Kind, key(namespace, name))
	}

	return nil
}

func (s *KubeStore) observe(ctx context.Context, method, kind string, err error, startTime time.Time) {
	status := "success"
	if err != nil {
		status = "error"

		s.metrics.RecordStoreError(ctx, method, metrics.ClassifyAPIError(err))
	}

	s.metrics.RecordStoreCall(ctx, method, kind, status, time.Since(startTime))
}

// classify wraps err and marks it with the matching error class.
func classify(err error, format string, args ...any) error {
	wrapped := errors.Wrapf(err, format, args...)

	switch {
	case apierrors.IsNotFound(err):
		return errors.Mark(wrapped, ErrNotFound)
	case apierrors.IsAlreadyExists(err):
		return errors.Mark(wrapped, ErrAlreadyExists)
	case apierrors.IsConflict(err):
		return errors.Mark(wrapped, ErrConflict)
	default:
		return wrapped
	}
}

func key(namespace, name string) string {
	if namespace == "" {
		return name
	}

	return namespace + "/" + name
}
