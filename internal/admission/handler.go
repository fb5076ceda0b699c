package admission

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/lexfrei/gateway-cert-webhook/internal/tasks"
)

// maxRequestBytes caps admission request bodies. The API server never sends
// objects larger than etcd accepts, so this is only hit by misbehaving clients.
const maxRequestBytes = 7 * 1024 * 1024

//nolint:gochecknoglobals // immutable codec setup
var reviewCodecs = func() serializer.CodecFactory {
	scheme := runtime.NewScheme()
	utilruntime.Must(admissionv1.AddToScheme(scheme))

	return serializer.NewCodecFactory(scheme)
}()

// Submitter accepts background tasks.
type Submitter interface {
	Submit(requestUID string, tasks ...tasks.Task) error
}

// Handler is the HTTP endpoint of the validating webhook.
type Handler struct {
	reviewer  Reviewer
	submitter Submitter
	logger    logr.Logger
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates a Handler.
func NewHandler(reviewer Reviewer, submitter Submitter, logger logr.Logger) *Handler {
	return &Handler{reviewer: reviewer, submitter: submitter, logger: logger}
}

// ServeHTTP reviews one AdmissionReview. The response is written and flushed
// before any task is submitted.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	review, err := h.readReview(r)
	if err != nil {
		h.logger.Error(err, "rejecting malformed admission request")
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	req := admission.Request{AdmissionRequest: *review.Request}

	logger := h.logger.WithValues(
		"uid", req.UID,
		"kind", req.Kind.Kind,
		"namespace", req.Namespace,
		"name", req.Name,
		"operation", req.Operation,
	)
	ctx := log.IntoContext(r.Context(), logger)

	decision := h.reviewer.Review(ctx, req)

	resp := decision.Response()
	if err := resp.Complete(req); err != nil {
		logger.Error(err, "failed to complete admission response")
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	out := admissionv1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{
			APIVersion: admissionv1.SchemeGroupVersion.String(),
			Kind:       "AdmissionReview",
		},
		Response: &resp.AdmissionResponse,
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(&out); err != nil {
		logger.Error(err, "failed to write admission response, dropping tasks")

		return
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if len(decision.Tasks) == 0 {
		return
	}

	if err := h.submitter.Submit(string(req.UID), decision.Tasks...); err != nil {
		logger.Error(err, "failed to schedule background tasks")
	}
}

func (h *Handler) readReview(r *http.Request) (*admissionv1.AdmissionReview, error) {
	if r.Method != http.MethodPost {
		return nil, errors.Newf("method %s not allowed", r.Method)
	}

	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || contentType != "application/json" {
		return nil, errors.Newf("content type %q is not application/json", r.Header.Get("Content-Type"))
	}

	if r.Body == nil {
		return nil, errors.New("request body is empty")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read request body")
	}

	if len(body) > maxRequestBytes {
		return nil, errors.Newf("request body exceeds %d bytes", maxRequestBytes)
	}

	review := &admissionv1.AdmissionReview{}

	_, gvk, err := reviewCodecs.UniversalDeserializer().Decode(body, nil, review)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode AdmissionReview")
	}

	if gvk == nil || *gvk != admissionv1.SchemeGroupVersion.WithKind("AdmissionReview") {
		return nil, errors.Newf("unsupported review type %v", gvk)
	}

	if review.Request == nil {
		return nil, errors.New("AdmissionReview has no request")
	}

	return review, nil
}
