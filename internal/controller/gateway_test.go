package controller_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	istiov1 "github.com/lexfrei/gateway-cert-webhook/api/istio/v1"
	"github.com/lexfrei/gateway-cert-webhook/internal/controller"
	"github.com/lexfrei/gateway-cert-webhook/internal/ownership"
	"github.com/lexfrei/gateway-cert-webhook/internal/store"
	"github.com/lexfrei/gateway-cert-webhook/internal/store/storetest"
)

const gatewayNamespace = "istio-system"

var teamA = ownership.Marker{Namespace: "team-a", Name: "vs1"}

func gatewayOptions(strict bool) controller.GatewayOptions {
	return controller.GatewayOptions{
		Namespace:       gatewayNamespace,
		Selector:        map[string]string{"istio": "ingressgateway"},
		StrictOwnership: strict,
	}
}

func desiredState(hosts ...string) controller.GatewayDesiredState {
	return controller.GatewayDesiredState{
		Name:           "shared-gw",
		Hosts:          hosts,
		CredentialName: "vs1-tls",
		Owner:          teamA,
	}
}

func storedGateway(t *testing.T, memory *storetest.Memory) *unstructured.Unstructured {
	t.Helper()

	obj, ok := memory.Object(istiov1.GatewayGVK, gatewayNamespace, "shared-gw")
	require.True(t, ok, "gateway not stored")

	return obj
}

func TestGatewayReconciler_Desired(t *testing.T) {
	t.Parallel()

	reconciler := controller.NewGatewayReconciler(storetest.NewMemory(), gatewayOptions(false))

	obj, err := reconciler.Desired(desiredState("a.example.com"))
	require.NoError(t, err)

	assert.Equal(t, istiov1.GatewayGVK, obj.GroupVersionKind())
	assert.Equal(t, gatewayNamespace, obj.GetNamespace())
	assert.Equal(t, "team-a/vs1", obj.GetAnnotations()[ownership.AnnotationOwner])
	assert.Equal(t, controller.ManagedByValue, obj.GetLabels()[controller.LabelManagedBy])
	assert.Empty(t, obj.GetOwnerReferences())

	spec, _, err := unstructured.NestedMap(obj.Object, "spec")
	require.NoError(t, err)

	expected := map[string]any{
		"selector": map[string]any{"istio": "ingressgateway"},
		"servers": []any{
			map[string]any{
				"port":  map[string]any{"number": int64(443), "name": "https", "protocol": "HTTPS"},
				"hosts": []any{"a.example.com"},
				"tls":   map[string]any{"mode": "SIMPLE", "credentialName": "vs1-tls"},
			},
		},
	}

	if diff := cmp.Diff(expected, spec); diff != "" {
		t.Errorf("gateway spec mismatch (-want +got):\n%s", diff)
	}
}

func TestGatewayReconciler_ApplyAbsentCreates(t *testing.T) {
	t.Parallel()

	memory := storetest.NewMemory()
	reconciler := controller.NewGatewayReconciler(memory, gatewayOptions(false))

	err := reconciler.Apply(context.Background(), desiredState("a.example.com"),
		ownership.Verdict{State: ownership.StateAbsent})
	require.NoError(t, err)

	gateway := storedGateway(t, memory)
	assert.Equal(t, "team-a/vs1", gateway.GetAnnotations()[ownership.AnnotationOwner])
	assert.Len(t, memory.CallsFor(storetest.MethodCreate), 1)
}

func TestGatewayReconciler_ApplyAbsentRace(t *testing.T) {
	t.Parallel()

	memory := storetest.NewMemory()
	reconciler := controller.NewGatewayReconciler(memory, gatewayOptions(false))

	other, err := reconciler.Desired(controller.GatewayDesiredState{
		Name:  "shared-gw",
		Hosts: []string{"b.example.com"},
		Owner: ownership.Marker{Namespace: "team-b", Name: "vs2"},
	})
	require.NoError(t, err)

	_, err = memory.Create(context.Background(), other)
	require.NoError(t, err)

	err = reconciler.Apply(context.Background(), desiredState("a.example.com"),
		ownership.Verdict{State: ownership.StateAbsent})

	require.Error(t, err)
	assert.True(t, errors.Is(err, controller.ErrGatewayAlreadyExists))
	assert.True(t, errors.Is(err, store.ErrAlreadyExists))
	assert.Equal(t, "team-b/vs2", storedGateway(t, memory).GetAnnotations()[ownership.AnnotationOwner])
}

func TestGatewayReconciler_ApplyOwnedBySelfUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	memory := storetest.NewMemory()
	reconciler := controller.NewGatewayReconciler(memory, gatewayOptions(false))
	resolver := ownership.NewResolver(memory, gatewayNamespace)

	require.NoError(t, reconciler.Apply(ctx, desiredState("a.example.com"), ownership.Verdict{State: ownership.StateAbsent}))

	first := storedGateway(t, memory)

	verdict, err := resolver.Resolve(ctx, "istio-system/shared-gw", teamA)
	require.NoError(t, err)
	require.Equal(t, ownership.StateOwnedBySelf, verdict.State)

	require.NoError(t, reconciler.Apply(ctx, desiredState("a.example.com", "b.example.com"), verdict))

	second := storedGateway(t, memory)

	hosts, _, _ := unstructured.NestedSlice(second.Object, "spec", "servers")
	require.Len(t, hosts, 1)

	server, ok := hosts[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"a.example.com", "b.example.com"}, server["hosts"])
	assert.Equal(t, first.GetAnnotations(), second.GetAnnotations())
	assert.Equal(t, first.GetLabels(), second.GetLabels())
	assert.Len(t, memory.CallsFor(storetest.MethodReplace), 1)
}

func TestGatewayReconciler_ApplyUnownedClaims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	existing := &unstructured.Unstructured{}
	existing.SetGroupVersionKind(istiov1.GatewayGVK)
	existing.SetNamespace(gatewayNamespace)
	existing.SetName("shared-gw")
	existing.SetAnnotations(map[string]string{"keep": "me"})
	require.NoError(t, unstructured.SetNestedSlice(existing.Object, []any{
		map[string]any{
			"port":  map[string]any{"number": int64(8443), "name": "custom", "protocol": "HTTPS"},
			"hosts": []any{"old.example.com"},
			"tls":   map[string]any{"mode": "MUTUAL", "credentialName": "old"},
		},
	}, "spec", "servers"))

	memory := storetest.NewMemory(existing)
	resolver := ownership.NewResolver(memory, gatewayNamespace)
	reconciler := controller.NewGatewayReconciler(memory, gatewayOptions(false))

	verdict, err := resolver.Resolve(ctx, "istio-system/shared-gw", teamA)
	require.NoError(t, err)
	require.Equal(t, ownership.StateUnowned, verdict.State)

	require.NoError(t, reconciler.Apply(ctx, desiredState("a.example.com"), verdict))

	gateway := storedGateway(t, memory)
	assert.Equal(t, "team-a/vs1", gateway.GetAnnotations()[ownership.AnnotationOwner])
	assert.Equal(t, "me", gateway.GetAnnotations()["keep"])

	servers, _, _ := unstructured.NestedSlice(gateway.Object, "spec", "servers")
	expected := []any{
		map[string]any{
			"port":  map[string]any{"number": int64(8443), "name": "custom", "protocol": "HTTPS"},
			"hosts": []any{"a.example.com"},
			"tls":   map[string]any{"mode": "MUTUAL", "credentialName": "vs1-tls"},
		},
	}

	if diff := cmp.Diff(expected, servers); diff != "" {
		t.Errorf("servers mismatch (-want +got):\n%s", diff)
	}
}

func TestGatewayReconciler_StrictOwnership(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		strict bool
	}{
		{name: "strict rejects stale verdict", strict: true},
		{name: "last write wins", strict: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			memory := storetest.NewMemory()
			resolver := ownership.NewResolver(memory, gatewayNamespace)
			reconciler := controller.NewGatewayReconciler(memory, gatewayOptions(tt.strict))

			require.NoError(t, reconciler.Apply(ctx, desiredState("a.example.com"),
				ownership.Verdict{State: ownership.StateAbsent}))

			verdict, err := resolver.Resolve(ctx, "istio-system/shared-gw", teamA)
			require.NoError(t, err)

			// Someone else writes between admission and reconciliation.
			concurrent := storedGateway(t, memory)
			concurrent.SetLabels(map[string]string{"touched": "true"})
			_, err = memory.Replace(ctx, concurrent)
			require.NoError(t, err)

			err = reconciler.Apply(ctx, desiredState("b.example.com"), verdict)

			if tt.strict {
				require.Error(t, err)
				assert.True(t, errors.Is(err, store.ErrConflict))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, "true", storedGateway(t, memory).GetLabels()["touched"])
		})
	}
}

func TestGatewayReconciler_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	memory := storetest.NewMemory()
	reconciler := controller.NewGatewayReconciler(memory, gatewayOptions(false))

	require.NoError(t, reconciler.Apply(ctx, desiredState("a.example.com"), ownership.Verdict{State: ownership.StateAbsent}))

	require.NoError(t, reconciler.Delete(ctx, "shared-gw"))
	assert.Equal(t, 0, memory.Len())

	require.NoError(t, reconciler.Delete(ctx, "shared-gw"), "deleting a missing gateway must succeed")
	assert.Len(t, memory.CallsFor(storetest.MethodDelete), 2)
}

func TestGatewayReconciler_DeleteErrorPropagates(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("forbidden")
	memory := storetest.NewMemory()
	memory.FailOn(storetest.MethodDelete, istiov1.GatewayKind, errBoom)

	err := controller.NewGatewayReconciler(memory, gatewayOptions(false)).Delete(context.Background(), "shared-gw")

	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
}
