package admission

import (
	"strings"

	"github.com/cockroachdb/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	istiov1 "github.com/lexfrei/gateway-cert-webhook/api/istio/v1"
)

// ErrCrossNamespaceCertificateRef means a Gateway API listener points at a
// certificate secret outside the gateway namespace.
var ErrCrossNamespaceCertificateRef = errors.New("certificate reference outside the gateway namespace")

type parentKind int

const (
	kindUnsupported parentKind = iota
	kindIstioGateway
	kindVirtualService
	kindGatewayAPIGateway
)

func (k parentKind) String() string {
	switch k {
	case kindIstioGateway:
		return "istio-gateway"
	case kindVirtualService:
		return "virtualservice"
	case kindGatewayAPIGateway:
		return "gateway"
	default:
		return "unsupported"
	}
}

func parentKindOf(gvk metav1.GroupVersionKind) parentKind {
	switch {
	case gvk.Group == istiov1.GroupName && gvk.Kind == istiov1.GatewayKind:
		return kindIstioGateway
	case gvk.Group == istiov1.GroupName && gvk.Kind == istiov1.VirtualServiceKind:
		return kindVirtualService
	case gvk.Group == gatewayv1.GroupName && gvk.Kind == "Gateway":
		return kindGatewayAPIGateway
	default:
		return kindUnsupported
	}
}

// parent is the certificate-relevant view of an admitted object.
type parent struct {
	kind       parentKind
	apiVersion string
	kindName   string

	namespace   string
	name        string
	uid         types.UID
	annotations map[string]string

	certificateName string
	secretName      string
	hosts           []string

	// gatewayRef is the shared gateway reference of a VirtualService.
	gatewayRef string
}

func (p *parent) key() string {
	return p.namespace + "/" + p.name
}

// decodeParent decodes raw as the object described by req.
func decodeParent(decoder admission.Decoder, req admission.Request, raw runtime.RawExtension) (*parent, error) {
	kind := parentKindOf(req.Kind)

	p := &parent{
		kind:       kind,
		apiVersion: schema.GroupVersion{Group: req.Kind.Group, Version: req.Kind.Version}.String(),
		kindName:   req.Kind.Kind,
	}

	var (
		meta metav1.ObjectMeta
		err  error
	)

	switch kind {
	case kindIstioGateway:
		meta, err = p.fromIstioGateway(decoder, raw)
	case kindVirtualService:
		meta, err = p.fromVirtualService(decoder, raw)
	case kindGatewayAPIGateway:
		meta, err = p.fromGatewayAPIGateway(decoder, raw)
	default:
		return nil, errors.Newf("unsupported kind %s", req.Kind.String())
	}

	if err != nil {
		return nil, err
	}

	p.namespace = meta.Namespace
	if p.namespace == "" {
		p.namespace = req.Namespace
	}

	p.name = meta.Name
	if p.name == "" {
		p.name = req.Name
	}

	p.uid = meta.UID
	p.annotations = meta.Annotations

	return p, nil
}

func decodeUnstructured(decoder admission.Decoder, raw runtime.RawExtension, into any) error {
	obj := &unstructured.Unstructured{}
	if err := decoder.DecodeRaw(raw, obj); err != nil {
		return errors.Wrap(err, "failed to decode object")
	}

	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, into); err != nil {
		return errors.Wrapf(err, "failed to decode %s", obj.GetKind())
	}

	return nil
}

func (p *parent) fromIstioGateway(decoder admission.Decoder, raw runtime.RawExtension) (metav1.ObjectMeta, error) {
	var gateway istiov1.Gateway
	if err := decodeUnstructured(decoder, raw, &gateway); err != nil {
		return metav1.ObjectMeta{}, err
	}

	server := gateway.Spec.PrimaryServer()

	p.certificateName = server.CredentialName()
	p.secretName = server.CredentialName()

	if server != nil {
		p.hosts = make([]string, 0, len(server.Hosts))
		for _, host := range server.Hosts {
			p.hosts = append(p.hosts, dnsName(host))
		}
	}

	return gateway.ObjectMeta, nil
}

func (p *parent) fromVirtualService(decoder admission.Decoder, raw runtime.RawExtension) (metav1.ObjectMeta, error) {
	var virtualService istiov1.VirtualService
	if err := decodeUnstructured(decoder, raw, &virtualService); err != nil {
		return metav1.ObjectMeta{}, err
	}

	name := virtualService.Name
	if name != "" {
		p.certificateName = name + "-tls"
		p.secretName = name + "-tls"
	}

	p.hosts = append([]string(nil), virtualService.Spec.Hosts...)
	p.gatewayRef = virtualService.Spec.PrimaryGateway()

	return virtualService.ObjectMeta, nil
}

func (p *parent) fromGatewayAPIGateway(decoder admission.Decoder, raw runtime.RawExtension) (metav1.ObjectMeta, error) {
	var gateway gatewayv1.Gateway
	if err := decoder.DecodeRaw(raw, &gateway); err != nil {
		return metav1.ObjectMeta{}, errors.Wrap(err, "failed to decode Gateway")
	}

	var ref *gatewayv1.SecretObjectReference

	for i := range gateway.Spec.Listeners {
		listenerRef := terminatingRef(&gateway.Spec.Listeners[i])
		if listenerRef == nil {
			continue
		}

		if listenerRef.Namespace != nil && string(*listenerRef.Namespace) != gateway.Namespace {
			return metav1.ObjectMeta{}, errors.Wrapf(ErrCrossNamespaceCertificateRef,
				"listener %s references %s/%s", gateway.Spec.Listeners[i].Name,
				*listenerRef.Namespace, listenerRef.Name)
		}

		if ref == nil {
			ref = listenerRef
		}

		if listenerRef.Name != ref.Name {
			continue
		}

		if hostname := gateway.Spec.Listeners[i].Hostname; hostname != nil {
			p.hosts = append(p.hosts, string(*hostname))
		}
	}

	if ref != nil {
		p.certificateName = string(ref.Name)
		p.secretName = string(ref.Name)
	}

	return gateway.ObjectMeta, nil
}

// terminatingRef returns the first certificate of a listener that terminates TLS.
func terminatingRef(listener *gatewayv1.Listener) *gatewayv1.SecretObjectReference {
	if listener.Protocol != gatewayv1.HTTPSProtocolType && listener.Protocol != gatewayv1.TLSProtocolType {
		return nil
	}

	if listener.TLS == nil || len(listener.TLS.CertificateRefs) == 0 {
		return nil
	}

	if listener.TLS.Mode != nil && *listener.TLS.Mode == gatewayv1.TLSModePassthrough {
		return nil
	}

	return &listener.TLS.CertificateRefs[0]
}

// dnsName strips the "<namespace>/" prefix Istio allows in gateway hosts.
func dnsName(host string) string {
	if _, name, found := strings.Cut(host, "/"); found {
		return name
	}

	return host
}
