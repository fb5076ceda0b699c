// Package v1 contains the subset of the Istio networking.istio.io API that the
// webhook reads and writes. Only the fields used for certificate and shared
// gateway provisioning are modelled; unknown fields are dropped on decode.
package v1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// GroupName is the Istio networking API group.
const GroupName = "networking.istio.io"

// Kinds served by the webhook.
const (
	GatewayKind        = "Gateway"
	VirtualServiceKind = "VirtualService"
)

// GroupVersion is the version used when the webhook writes Istio objects.
//
//nolint:gochecknoglobals // scheme metadata
var GroupVersion = schema.GroupVersion{Group: GroupName, Version: "v1"}

// GatewayGVK is the GroupVersionKind of gateways created by the webhook.
//
//nolint:gochecknoglobals // scheme metadata
var GatewayGVK = GroupVersion.WithKind(GatewayKind)
