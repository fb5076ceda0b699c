package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// TLSMode is the TLS mode of a gateway server.
type TLSMode string

// TLS modes used by the webhook.
const (
	TLSModeSimple      TLSMode = "SIMPLE"
	TLSModePassthrough TLSMode = "PASSTHROUGH"
	TLSModeMutual      TLSMode = "MUTUAL"
)

// Port describes the port a gateway server listens on.
type Port struct {
	// Number is the port number.
	Number uint32 `json:"number"`

	// Protocol is one of HTTP, HTTPS, GRPC, HTTP2, MONGO, TCP, TLS.
	Protocol string `json:"protocol"`

	// Name is the port label.
	Name string `json:"name,omitempty"`
}

// ServerTLSSettings configures TLS termination on a gateway server.
type ServerTLSSettings struct {
	// Mode is the TLS mode.
	// +optional
	Mode TLSMode `json:"mode,omitempty"`

	// CredentialName is the Secret holding the serving certificate.
	// +optional
	CredentialName string `json:"credentialName,omitempty"`

	// HTTPSRedirect makes plain HTTP requests redirect to HTTPS.
	// +optional
	HTTPSRedirect bool `json:"httpsRedirect,omitempty"`
}

// Server is a single listener of a gateway.
type Server struct {
	// Port the server listens on.
	Port *Port `json:"port,omitempty"`

	// Hosts exposed by the server.
	Hosts []string `json:"hosts,omitempty"`

	// TLS settings, if the server terminates TLS.
	// +optional
	TLS *ServerTLSSettings `json:"tls,omitempty"`

	// Name is an optional server name.
	// +optional
	Name string `json:"name,omitempty"`
}

// GatewaySpec is the spec of an Istio Gateway.
type GatewaySpec struct {
	// Servers describes the listeners of the gateway.
	Servers []*Server `json:"servers,omitempty"`

	// Selector picks the gateway workload pods.
	Selector map[string]string `json:"selector,omitempty"`
}

// Gateway describes a load balancer at the edge of the mesh.
type Gateway struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec GatewaySpec `json:"spec,omitempty"`
}

// VirtualServiceSpec is the routing-independent part of a VirtualService spec.
type VirtualServiceSpec struct {
	// Hosts the routing rules apply to.
	Hosts []string `json:"hosts,omitempty"`

	// Gateways the routes are bound to, as "<namespace>/<name>" or "<name>".
	Gateways []string `json:"gateways,omitempty"`
}

// VirtualService binds hosts to routing rules.
type VirtualService struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec VirtualServiceSpec `json:"spec,omitempty"`
}

// PrimaryServer returns the first server of the gateway, or nil if there is none.
func (s *GatewaySpec) PrimaryServer() *Server {
	if len(s.Servers) == 0 {
		return nil
	}

	return s.Servers[0]
}

// CredentialName returns the TLS credential of the server, or "" if the
// server does not terminate TLS.
func (s *Server) CredentialName() string {
	if s == nil || s.TLS == nil {
		return ""
	}

	return s.TLS.CredentialName
}

// PrimaryGateway returns the first gateway reference, or "" if there is none.
func (s *VirtualServiceSpec) PrimaryGateway() string {
	if len(s.Gateways) == 0 {
		return ""
	}

	return s.Gateways[0]
}
