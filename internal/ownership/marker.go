// Package ownership decides whether a VirtualService may claim a shared
// gateway. Ownership is recorded as an annotation on the gateway because the
// gateway lives in a different namespace than its owner and cannot carry an
// owner reference to it.
package ownership

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// AnnotationOwner holds the "<namespace>/<name>" of the owning VirtualService.
const AnnotationOwner = "cert-webhook.k8s.lex.la/owner"

var (
	// ErrMalformedMarker means an owner annotation is not "<namespace>/<name>".
	ErrMalformedMarker = errors.New("malformed ownership marker")

	// ErrNamespaceMismatch means the gateway reference is missing or points
	// outside the managed gateway namespace.
	ErrNamespaceMismatch = errors.New("gateway namespace mismatch")

	// ErrGatewayConflict means the shared gateway is owned by another resource.
	ErrGatewayConflict = errors.New("gateway is owned by another resource")
)

// Marker identifies the resource owning a shared gateway.
type Marker struct {
	Namespace string
	Name      string
}

func (m Marker) String() string {
	return m.Namespace + "/" + m.Name
}

// ParseMarker parses "<namespace>/<name>". Both parts must be non-empty.
func ParseMarker(value string) (Marker, error) {
	namespace, name, found := strings.Cut(value, "/")
	if !found || namespace == "" || name == "" || strings.Contains(name, "/") {
		return Marker{}, errors.Wrapf(ErrMalformedMarker, "%q", value)
	}

	return Marker{Namespace: namespace, Name: name}, nil
}

// GatewayRef names a gateway inside the managed namespace.
type GatewayRef struct {
	Namespace string
	Name      string
}

func (r GatewayRef) String() string {
	return r.Namespace + "/" + r.Name
}

// ParseGatewayRef parses a VirtualService gateway reference of the form
// "<namespace>/<name>" and rejects every namespace except systemNamespace.
func ParseGatewayRef(ref, systemNamespace string) (GatewayRef, error) {
	if ref == "" {
		return GatewayRef{}, errors.Wrap(ErrNamespaceMismatch, "no gateway reference")
	}

	namespace, name, found := strings.Cut(ref, "/")
	if !found {
		return GatewayRef{}, errors.Wrapf(ErrNamespaceMismatch,
			"gateway reference %q must be %q qualified", ref, systemNamespace)
	}

	if namespace != systemNamespace {
		return GatewayRef{}, errors.Wrapf(ErrNamespaceMismatch,
			"gateway %q is not in namespace %q", ref, systemNamespace)
	}

	if name == "" || strings.Contains(name, "/") {
		return GatewayRef{}, errors.Wrapf(ErrNamespaceMismatch, "gateway reference %q has no valid name", ref)
	}

	return GatewayRef{Namespace: namespace, Name: name}, nil
}
