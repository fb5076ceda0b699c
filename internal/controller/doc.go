// Package controller converges the resources the webhook owns.
//
// The package provides two reconcilers, both single-shot and driven by
// admission requests rather than watches:
//
//   - CertificateReconciler: creates or fully replaces the cert-manager
//     Certificate of a parent resource. The Certificate carries a controller
//     owner reference to the parent, so it is garbage collected with it.
//
//   - GatewayReconciler: creates, updates and deletes the shared Istio Gateway
//     a VirtualService is bound to. Shared gateways live in one fixed namespace
//     and record their owner in an annotation instead of an owner reference.
//
// # Flow
//
//	┌────────────────┐  preflight   ┌───────────────────────┐
//	│ AdmissionReview│─────────────>│ admission.Orchestrator│──> allow / deny
//	└────────────────┘              └───────────┬───────────┘
//	                                            │ tasks (after response)
//	                          ┌─────────────────┴─────────────────┐
//	                          ▼                                   ▼
//	               ┌──────────────────────┐           ┌──────────────────────┐
//	               │ CertificateReconciler│           │ GatewayReconciler    │
//	               └──────────┬───────────┘           └──────────┬───────────┘
//	                          │ store.Store                      │
//	                          ▼                                  ▼
//	                    Certificate (parent ns)      Gateway (gateway namespace)
//
// Both reconcilers write through store.Store and log through the logger found
// in the context.
package controller
