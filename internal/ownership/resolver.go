package ownership

import (
	"context"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	istiov1 "github.com/lexfrei/gateway-cert-webhook/api/istio/v1"
	"github.com/lexfrei/gateway-cert-webhook/internal/store"
)

// State is the ownership state of a shared gateway as seen by one requester.
type State int

const (
	// StateAbsent means the gateway does not exist yet.
	StateAbsent State = iota
	// StateOwnedBySelf means the requester already owns the gateway.
	StateOwnedBySelf
	// StateUnowned means the gateway has no valid owner marker.
	StateUnowned
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateOwnedBySelf:
		return "owned-by-self"
	case StateUnowned:
		return "unowned"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of a successful ownership check.
type Verdict struct {
	State State

	// Ref is the parsed gateway reference.
	Ref GatewayRef

	// Gateway is the gateway as read during the check. Nil when absent.
	Gateway *unstructured.Unstructured

	// ResourceVersion is the gateway version the verdict was based on.
	ResourceVersion string
}

// Resolver reads shared gateways from the managed namespace.
type Resolver struct {
	store     store.Store
	namespace string
}

// NewResolver creates a Resolver for gateways in namespace.
func NewResolver(s store.Store, namespace string) *Resolver {
	return &Resolver{store: s, namespace: namespace}
}

// Namespace returns the managed gateway namespace.
func (r *Resolver) Namespace() string {
	return r.namespace
}

// Resolve checks whether requester may claim the gateway named by ref.
// The check is a plain read: nothing stops another writer between Resolve and
// the following write unless the verdict's ResourceVersion is enforced.
func (r *Resolver) Resolve(ctx context.Context, ref string, requester Marker) (Verdict, error) {
	gatewayRef, err := ParseGatewayRef(ref, r.namespace)
	if err != nil {
		return Verdict{}, err
	}

	gateway, err := r.store.Get(ctx, istiov1.GatewayGVK, gatewayRef.Namespace, gatewayRef.Name)
	if errors.Is(err, store.ErrNotFound) {
		return Verdict{State: StateAbsent, Ref: gatewayRef}, nil
	}

	if err != nil {
		return Verdict{}, errors.Wrapf(err, "failed to check ownership of gateway %s", gatewayRef)
	}

	verdict := Verdict{
		State:           StateUnowned,
		Ref:             gatewayRef,
		Gateway:         gateway,
		ResourceVersion: gateway.GetResourceVersion(),
	}

	owner, err := ParseMarker(gateway.GetAnnotations()[AnnotationOwner])
	if err != nil {
		return verdict, nil //nolint:nilerr // malformed or missing marker means unowned
	}

	if owner != requester {
		return Verdict{}, errors.Wrapf(ErrGatewayConflict,
			"gateway %s is owned by %s, not %s", gatewayRef, owner, requester)
	}

	verdict.State = StateOwnedBySelf

	return verdict, nil
}
