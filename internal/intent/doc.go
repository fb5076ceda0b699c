// Package intent derives certificate intent from cert-manager annotations.
//
// Resolution is a pure function of the annotation map and the process-wide
// defaults: no store access happens while resolving. The issuer named by an
// intent is checked separately by VerifyIssuer, which is the only function in
// this package that talks to the resource store.
//
// # Annotations
//
//   - cert-manager.io/issuer: namespaced Issuer in the parent's namespace
//   - cert-manager.io/cluster-issuer: cluster-scoped ClusterIssuer
//   - cert-manager.io/duration: certificate lifetime, defaults to the configured value
//   - cert-manager.io/renew-before: renewal window, defaults to the configured value
//
// Issuer wins over cluster-issuer when both are set. A resource with neither
// annotation yields ErrAnnotationMissing, which callers treat as "nothing to
// provision" rather than as a failure.
package intent
