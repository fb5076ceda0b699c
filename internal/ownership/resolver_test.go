package ownership_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	istiov1 "github.com/lexfrei/gateway-cert-webhook/api/istio/v1"
	"github.com/lexfrei/gateway-cert-webhook/internal/ownership"
	"github.com/lexfrei/gateway-cert-webhook/internal/store/storetest"
)

const systemNamespace = "istio-system"

func newGateway(name string, annotations map[string]string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(istiov1.GatewayGVK)
	obj.SetNamespace(systemNamespace)
	obj.SetName(name)
	obj.SetAnnotations(annotations)

	return obj
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	owned := newGateway("shared-gw", map[string]string{ownership.AnnotationOwner: "ns-a/vs-1"})

	tests := []struct {
		name        string
		objects     []*unstructured.Unstructured
		ref         string
		requester   ownership.Marker
		expected    ownership.State
		expectedErr error
	}{
		{
			name:      "owned by requester",
			objects:   []*unstructured.Unstructured{owned},
			ref:       "istio-system/shared-gw",
			requester: ownership.Marker{Namespace: "ns-a", Name: "vs-1"},
			expected:  ownership.StateOwnedBySelf,
		},
		{
			name:        "owned by someone else",
			objects:     []*unstructured.Unstructured{owned},
			ref:         "istio-system/shared-gw",
			requester:   ownership.Marker{Namespace: "ns-b", Name: "vs-2"},
			expectedErr: ownership.ErrGatewayConflict,
		},
		{
			name:      "absent for first requester",
			ref:       "istio-system/shared-gw",
			requester: ownership.Marker{Namespace: "ns-a", Name: "vs-1"},
			expected:  ownership.StateAbsent,
		},
		{
			name:      "absent for second requester",
			ref:       "istio-system/shared-gw",
			requester: ownership.Marker{Namespace: "ns-b", Name: "vs-2"},
			expected:  ownership.StateAbsent,
		},
		{
			name:      "no marker",
			objects:   []*unstructured.Unstructured{newGateway("shared-gw", nil)},
			ref:       "istio-system/shared-gw",
			requester: ownership.Marker{Namespace: "ns-a", Name: "vs-1"},
			expected:  ownership.StateUnowned,
		},
		{
			name: "malformed marker",
			objects: []*unstructured.Unstructured{
				newGateway("shared-gw", map[string]string{ownership.AnnotationOwner: "garbage"}),
			},
			ref:       "istio-system/shared-gw",
			requester: ownership.Marker{Namespace: "ns-a", Name: "vs-1"},
			expected:  ownership.StateUnowned,
		},
		{
			name:        "foreign namespace",
			ref:         "other-ns/gw",
			requester:   ownership.Marker{Namespace: "ns-a", Name: "vs-1"},
			expectedErr: ownership.ErrNamespaceMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resolver := ownership.NewResolver(storetest.NewMemory(tt.objects...), systemNamespace)

			verdict, err := resolver.Resolve(context.Background(), tt.ref, tt.requester)

			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.expectedErr), "got %v", err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, verdict.State, "got %s", verdict.State)
			assert.Equal(t, ownership.GatewayRef{Namespace: systemNamespace, Name: "shared-gw"}, verdict.Ref)

			if tt.expected == ownership.StateAbsent {
				assert.Nil(t, verdict.Gateway)
				assert.Empty(t, verdict.ResourceVersion)
			} else {
				require.NotNil(t, verdict.Gateway)
				assert.Equal(t, verdict.Gateway.GetResourceVersion(), verdict.ResourceVersion)
			}
		})
	}
}

func TestResolver_NamespaceMismatchDoesNotReadStore(t *testing.T) {
	t.Parallel()

	memory := storetest.NewMemory()
	resolver := ownership.NewResolver(memory, systemNamespace)

	_, err := resolver.Resolve(context.Background(), "other-ns/gw", ownership.Marker{Namespace: "a", Name: "b"})

	require.Error(t, err)
	assert.Empty(t, memory.Calls())
}

func TestResolver_StoreErrorPropagates(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("connection refused")
	memory := storetest.NewMemory()
	memory.FailOn(storetest.MethodGet, istiov1.GatewayKind, errBoom)

	resolver := ownership.NewResolver(memory, systemNamespace)

	_, err := resolver.Resolve(context.Background(), "istio-system/shared-gw", ownership.Marker{Namespace: "a", Name: "b"})

	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "istio-system/shared-gw")
}

func TestConflictMessageNamesOwner(t *testing.T) {
	t.Parallel()

	memory := storetest.NewMemory(newGateway("shared-gw", map[string]string{ownership.AnnotationOwner: "team-a/vs1"}))
	resolver := ownership.NewResolver(memory, systemNamespace)

	_, err := resolver.Resolve(context.Background(), "istio-system/shared-gw",
		ownership.Marker{Namespace: "team-b", Name: "vs2"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "team-a/vs1")
	assert.Contains(t, err.Error(), "team-b/vs2")
}
