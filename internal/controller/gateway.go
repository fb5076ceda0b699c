package controller

import (
	"context"
	"maps"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"

	istiov1 "github.com/lexfrei/gateway-cert-webhook/api/istio/v1"
	"github.com/lexfrei/gateway-cert-webhook/internal/ownership"
	"github.com/lexfrei/gateway-cert-webhook/internal/store"
)

const (
	// LabelManagedBy marks gateways created by the webhook.
	LabelManagedBy = "app.kubernetes.io/managed-by"
	// ManagedByValue is the value of LabelManagedBy.
	ManagedByValue = "gateway-cert-webhook"

	httpsPort     = 443
	httpsPortName = "https"
	httpsProtocol = "HTTPS"
)

// ErrGatewayAlreadyExists means the shared gateway appeared between the
// ownership check and the create.
var ErrGatewayAlreadyExists = errors.New("gateway already exists")

// GatewayDesiredState is what one VirtualService wants its shared gateway to be.
type GatewayDesiredState struct {
	Name           string
	Hosts          []string
	CredentialName string
	Owner          ownership.Marker
}

// GatewayOptions configures a GatewayReconciler.
type GatewayOptions struct {
	// Namespace all shared gateways live in.
	Namespace string

	// Selector is copied to spec.selector of created gateways.
	Selector map[string]string

	// StrictOwnership sends the resourceVersion seen during the ownership check
	// with updates, so a gateway changed in between is not overwritten.
	StrictOwnership bool
}

// GatewayReconciler creates, updates and deletes shared Istio gateways.
type GatewayReconciler struct {
	store store.Store
	opts  GatewayOptions
}

// NewGatewayReconciler creates a GatewayReconciler writing through s.
func NewGatewayReconciler(s store.Store, opts GatewayOptions) *GatewayReconciler {
	opts.Selector = maps.Clone(opts.Selector)

	return &GatewayReconciler{store: s, opts: opts}
}

// Desired builds a complete gateway for state.
func (r *GatewayReconciler) Desired(state GatewayDesiredState) (*unstructured.Unstructured, error) {
	gateway := &istiov1.Gateway{
		TypeMeta: metav1.TypeMeta{
			APIVersion: istiov1.GroupVersion.String(),
			Kind:       istiov1.GatewayKind,
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:        state.Name,
			Namespace:   r.opts.Namespace,
			Labels:      map[string]string{LabelManagedBy: ManagedByValue},
			Annotations: map[string]string{ownership.AnnotationOwner: state.Owner.String()},
		},
		Spec: istiov1.GatewaySpec{
			Selector: maps.Clone(r.opts.Selector),
			Servers:  []*istiov1.Server{desiredServer(state)},
		},
	}

	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(gateway)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert gateway")
	}

	obj := &unstructured.Unstructured{Object: content}
	unstructured.RemoveNestedField(obj.Object, "metadata", "creationTimestamp")

	return obj, nil
}

func desiredServer(state GatewayDesiredState) *istiov1.Server {
	return &istiov1.Server{
		Port: &istiov1.Port{
			Number:   httpsPort,
			Name:     httpsPortName,
			Protocol: httpsProtocol,
		},
		Hosts: append([]string(nil), state.Hosts...),
		TLS: &istiov1.ServerTLSSettings{
			Mode:           istiov1.TLSModeSimple,
			CredentialName: state.CredentialName,
		},
	}
}

// Apply converges the gateway according to the ownership verdict obtained
// during admission.
func (r *GatewayReconciler) Apply(
	ctx context.Context,
	state GatewayDesiredState,
	verdict ownership.Verdict,
) error {
	logger := log.FromContext(ctx).WithValues("gateway", r.opts.Namespace+"/"+state.Name, "owner", state.Owner.String())

	if verdict.State == ownership.StateAbsent {
		return r.create(ctx, logger, state)
	}

	current, err := r.current(ctx, state.Name, verdict)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("gateway disappeared since admission, creating it")

		return r.create(ctx, logger, state)
	}

	if err != nil {
		return err
	}

	if err := mergeServer(current, state); err != nil {
		return err
	}

	// Re-asserting the marker is a no-op for the owner and claims unowned gateways.
	annotations := current.GetAnnotations()
	if annotations == nil {
		annotations = make(map[string]string, 1)
	}

	annotations[ownership.AnnotationOwner] = state.Owner.String()
	current.SetAnnotations(annotations)

	if _, err := r.store.Replace(ctx, current); err != nil {
		return errors.Wrapf(err, "failed to update gateway %s", state.Name)
	}

	logger.Info("updated gateway", "previousState", verdict.State.String(), "hosts", state.Hosts)

	return nil
}

// Delete removes the gateway. A missing gateway counts as deleted.
//
// TODO: re-check the owner marker before deleting so a VirtualService cannot
// remove a gateway that has since been claimed by another one.
func (r *GatewayReconciler) Delete(ctx context.Context, name string) error {
	logger := log.FromContext(ctx).WithValues("gateway", r.opts.Namespace+"/"+name)

	err := r.store.Delete(ctx, istiov1.GatewayGVK, r.opts.Namespace, name)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("gateway already deleted")

		return nil
	}

	if err != nil {
		return errors.Wrapf(err, "failed to delete gateway %s", name)
	}

	logger.Info("deleted gateway")

	return nil
}

func (r *GatewayReconciler) create(ctx context.Context, logger logr.Logger, state GatewayDesiredState) error {
	desired, err := r.Desired(state)
	if err != nil {
		return err
	}

	_, err = r.store.Create(ctx, desired)
	if errors.Is(err, store.ErrAlreadyExists) {
		return errors.Mark(errors.Wrapf(err, "gateway %s/%s", r.opts.Namespace, state.Name), ErrGatewayAlreadyExists)
	}

	if err != nil {
		return errors.Wrapf(err, "failed to create gateway %s", state.Name)
	}

	logger.Info("created gateway", "hosts", state.Hosts)

	return nil
}

// current returns the object to update. In strict mode that is the object seen
// during admission, so the store rejects the write if anyone changed it since.
func (r *GatewayReconciler) current(
	ctx context.Context,
	name string,
	verdict ownership.Verdict,
) (*unstructured.Unstructured, error) {
	if r.opts.StrictOwnership && verdict.Gateway != nil {
		current := verdict.Gateway.DeepCopy()
		current.SetResourceVersion(verdict.ResourceVersion)

		return current, nil
	}

	current, err := r.store.Get(ctx, istiov1.GatewayGVK, r.opts.Namespace, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read gateway %s", name)
	}

	return current, nil
}

// mergeServer points the first server at the desired hosts and credential and
// leaves every other field alone.
func mergeServer(gateway *unstructured.Unstructured, state GatewayDesiredState) error {
	servers, _, err := unstructured.NestedSlice(gateway.Object, "spec", "servers")
	if err != nil {
		return errors.Wrapf(err, "gateway %s has malformed servers", gateway.GetName())
	}

	var server map[string]any

	if len(servers) > 0 {
		server, _ = servers[0].(map[string]any)
	}

	if server == nil {
		server, err = runtime.DefaultUnstructuredConverter.ToUnstructured(desiredServer(state))
		if err != nil {
			return errors.Wrap(err, "failed to convert gateway server")
		}
	}

	hosts := make([]any, 0, len(state.Hosts))
	for _, host := range state.Hosts {
		hosts = append(hosts, host)
	}

	server["hosts"] = hosts

	tls, _ := server["tls"].(map[string]any)
	if tls == nil {
		tls = map[string]any{"mode": string(istiov1.TLSModeSimple)}
	}

	tls["credentialName"] = state.CredentialName
	server["tls"] = tls

	if len(servers) == 0 {
		servers = []any{server}
	} else {
		servers[0] = server
	}

	if err := unstructured.SetNestedSlice(gateway.Object, servers, "spec", "servers"); err != nil {
		return errors.Wrap(err, "failed to set gateway servers")
	}

	return nil
}
