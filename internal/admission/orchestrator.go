// Package admission turns admission requests for Istio and Gateway API
// gateways into an immediate allow/deny decision plus background tasks that
// provision certificates and shared gateways.
//
// Only synchronous preflight checks influence the decision. Reconciliation
// runs after the response has been written and its failures are only logged.
package admission

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	admissionv1 "k8s.io/api/admission/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/lexfrei/gateway-cert-webhook/internal/controller"
	"github.com/lexfrei/gateway-cert-webhook/internal/intent"
	"github.com/lexfrei/gateway-cert-webhook/internal/metrics"
	"github.com/lexfrei/gateway-cert-webhook/internal/ownership"
	"github.com/lexfrei/gateway-cert-webhook/internal/store"
	"github.com/lexfrei/gateway-cert-webhook/internal/tasks"
)

// Status messages of allowed requests.
const (
	MessageValidationPassed  = "Validation passed"
	MessageAnnotationMissing = "Annotation does not exist, skipping certificate creation"
	MessageKindNotHandled    = "Resource kind is not handled, skipping certificate creation"
	MessageNothingToDelete   = "Nothing to clean up"
)

// Task names.
const (
	TaskCertificate   = "certificate"
	TaskGatewayApply  = "gateway-apply"
	TaskGatewayDelete = "gateway-delete"
)

// Outcome is the result class of a preflight.
type Outcome int

const (
	// OutcomeProceed allows the request and schedules its tasks.
	OutcomeProceed Outcome = iota
	// OutcomeSkip allows the request without doing anything.
	OutcomeSkip
	// OutcomeDeny rejects the request.
	OutcomeDeny
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProceed:
		return "proceed"
	case OutcomeSkip:
		return "skip"
	case OutcomeDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Decision is the outcome of reviewing one admission request.
type Decision struct {
	Outcome Outcome
	Message string

	// Tasks run after the response is sent. Only set for OutcomeProceed.
	Tasks []tasks.Task

	// Err is the preflight failure behind OutcomeDeny.
	Err error
}

// Allowed reports whether the request is admitted.
func (d Decision) Allowed() bool {
	return d.Outcome != OutcomeDeny
}

// Response converts the decision to an admission response.
func (d Decision) Response() admission.Response {
	if d.Allowed() {
		return admission.Allowed(d.Message)
	}

	return admission.Denied(d.Message)
}

func proceed(taskList ...tasks.Task) Decision {
	return Decision{Outcome: OutcomeProceed, Message: MessageValidationPassed, Tasks: taskList}
}

func skip(message string) Decision {
	return Decision{Outcome: OutcomeSkip, Message: message}
}

func deny(err error) Decision {
	return Decision{Outcome: OutcomeDeny, Message: err.Error(), Err: err}
}

// Reviewer produces a Decision for an admission request.
type Reviewer interface {
	Review(ctx context.Context, req admission.Request) Decision
}

// Config wires an Orchestrator.
type Config struct {
	Store        store.Store
	Decoder      admission.Decoder
	Defaults     intent.Defaults
	Ownership    *ownership.Resolver
	Certificates *controller.CertificateReconciler
	Gateways     *controller.GatewayReconciler
	Metrics      metrics.Collector
}

// Orchestrator sequences preflight checks and builds the background tasks.
type Orchestrator struct {
	store        store.Store
	decoder      admission.Decoder
	defaults     intent.Defaults
	ownership    *ownership.Resolver
	certificates *controller.CertificateReconciler
	gateways     *controller.GatewayReconciler
	metrics      metrics.Collector
}

var _ Reviewer = (*Orchestrator)(nil)

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopCollector()
	}

	return &Orchestrator{
		store:        cfg.Store,
		decoder:      cfg.Decoder,
		defaults:     cfg.Defaults,
		ownership:    cfg.Ownership,
		certificates: cfg.Certificates,
		gateways:     cfg.Gateways,
		metrics:      cfg.Metrics,
	}
}

// Review decides on req. It never returns tasks for a denied request.
func (o *Orchestrator) Review(ctx context.Context, req admission.Request) Decision {
	kind := parentKindOf(req.Kind)

	var decision Decision

	switch {
	case kind == kindUnsupported:
		decision = skip(MessageKindNotHandled)
	case req.Operation == admissionv1.Delete:
		decision = o.reviewDelete(ctx, req, kind)
	case req.Operation == admissionv1.Create, req.Operation == admissionv1.Update:
		startTime := time.Now()
		decision = o.preflight(ctx, req)
		o.metrics.RecordPreflightDuration(ctx, kind.String(), time.Since(startTime))
	default:
		decision = skip(MessageKindNotHandled)
	}

	o.metrics.RecordAdmission(ctx, kind.String(), string(req.Operation), decision.Outcome.String())

	logger := log.FromContext(ctx)
	if decision.Outcome == OutcomeDeny {
		logger.Info("request denied", "reason", decision.Message)
	} else {
		logger.V(1).Info("request allowed", "outcome", decision.Outcome.String(), "tasks", len(decision.Tasks))
	}

	return decision
}

// reviewDelete schedules removal of the shared gateway of a deleted
// VirtualService. Deletions are never denied.
func (o *Orchestrator) reviewDelete(ctx context.Context, req admission.Request, kind parentKind) Decision {
	if kind != kindVirtualService {
		return skip(MessageNothingToDelete)
	}

	p, err := decodeParent(o.decoder, req, req.OldObject)
	if err != nil {
		log.FromContext(ctx).Error(err, "cannot decode deleted VirtualService, leaving its gateway alone")

		return skip(MessageNothingToDelete)
	}

	ref, err := ownership.ParseGatewayRef(p.gatewayRef, o.ownership.Namespace())
	if err != nil {
		log.FromContext(ctx).V(1).Info("deleted VirtualService has no managed gateway", "reason", err.Error())

		return skip(MessageNothingToDelete)
	}

	return proceed(tasks.Task{
		Name: TaskGatewayDelete,
		Run: func(ctx context.Context) error {
			return o.gateways.Delete(ctx, ref.Name)
		},
	})
}

func (o *Orchestrator) preflight(ctx context.Context, req admission.Request) Decision {
	p, err := decodeParent(o.decoder, req, req.Object)
	if err != nil {
		return deny(err)
	}

	issuance, err := intent.Resolve(p.annotations, o.defaults)
	if errors.Is(err, intent.ErrAnnotationMissing) {
		return skip(MessageAnnotationMissing)
	}

	if err != nil {
		return deny(err)
	}

	certIntent, err := intent.NewCertificateIntent(p.namespace, p.certificateName, p.secretName, p.hosts, issuance)
	if err != nil {
		return deny(err)
	}

	if err := intent.VerifyIssuer(ctx, o.store, certIntent); err != nil {
		return deny(err)
	}

	owner := controller.OwnerReference(p.apiVersion, p.kindName, p.name, p.uid)

	taskList := []tasks.Task{{
		Name: TaskCertificate,
		Run: func(ctx context.Context) error {
			return o.certificates.Reconcile(ctx, certIntent, owner)
		},
	}}

	if p.kind != kindVirtualService {
		return proceed(taskList...)
	}

	requester := ownership.Marker{Namespace: p.namespace, Name: p.name}

	verdict, err := o.ownership.Resolve(ctx, p.gatewayRef, requester)
	if err != nil {
		return deny(err)
	}

	state := controller.GatewayDesiredState{
		Name:           verdict.Ref.Name,
		Hosts:          certIntent.DNSNames,
		CredentialName: certIntent.SecretName,
		Owner:          requester,
	}

	taskList = append(taskList, tasks.Task{
		Name: TaskGatewayApply,
		Run: func(ctx context.Context) error {
			return o.gateways.Apply(ctx, state, verdict)
		},
	})

	log.FromContext(ctx).V(1).Info("preflight passed",
		"parent", p.key(), "gateway", verdict.Ref.String(), "gatewayState", verdict.State.String())

	return proceed(taskList...)
}
