package controller

import (
	"context"

	"github.com/cert-manager/cert-manager/pkg/apis/certmanager"
	certmanagerv1 "github.com/cert-manager/cert-manager/pkg/apis/certmanager/v1"
	cmmeta "github.com/cert-manager/cert-manager/pkg/apis/meta/v1"
	"github.com/cockroachdb/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/lexfrei/gateway-cert-webhook/internal/intent"
	"github.com/lexfrei/gateway-cert-webhook/internal/store"
)

// CertificateGVK is the GroupVersionKind of certificates written by the webhook.
//
//nolint:gochecknoglobals // scheme metadata
var CertificateGVK = certmanagerv1.SchemeGroupVersion.WithKind(certmanagerv1.CertificateKind)

// OwnerReference returns a controller owner reference so the garbage collector
// removes dependents together with the parent.
func OwnerReference(apiVersion, kind, name string, uid types.UID) metav1.OwnerReference {
	return metav1.OwnerReference{
		APIVersion:         apiVersion,
		Kind:               kind,
		Name:               name,
		UID:                uid,
		Controller:         ptr.To(true),
		BlockOwnerDeletion: ptr.To(true),
	}
}

// CertificateReconciler converges a cert-manager Certificate to a CertificateIntent.
type CertificateReconciler struct {
	store store.Store
}

// NewCertificateReconciler creates a CertificateReconciler writing through s.
func NewCertificateReconciler(s store.Store) *CertificateReconciler {
	return &CertificateReconciler{store: s}
}

// Desired builds the Certificate for certIntent owned by owner.
func (r *CertificateReconciler) Desired(
	certIntent intent.CertificateIntent,
	owner metav1.OwnerReference,
) (*unstructured.Unstructured, error) {
	certificate := &certmanagerv1.Certificate{
		TypeMeta: metav1.TypeMeta{
			APIVersion: certmanagerv1.SchemeGroupVersion.String(),
			Kind:       certmanagerv1.CertificateKind,
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:            certIntent.Name,
			Namespace:       certIntent.Namespace,
			OwnerReferences: []metav1.OwnerReference{owner},
		},
		Spec: certmanagerv1.CertificateSpec{
			SecretName:  certIntent.SecretName,
			Duration:    &metav1.Duration{Duration: certIntent.Duration},
			RenewBefore: &metav1.Duration{Duration: certIntent.RenewBefore},
			DNSNames:    append([]string(nil), certIntent.DNSNames...),
			Usages: []certmanagerv1.KeyUsage{
				certmanagerv1.UsageDigitalSignature,
				certmanagerv1.UsageKeyEncipherment,
			},
			IssuerRef: cmmeta.ObjectReference{
				Name:  certIntent.IssuerName,
				Kind:  string(certIntent.IssuerKind),
				Group: certmanager.GroupName,
			},
		},
	}

	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(certificate)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert certificate")
	}

	obj := &unstructured.Unstructured{Object: content}
	unstructured.RemoveNestedField(obj.Object, "status")
	unstructured.RemoveNestedField(obj.Object, "metadata", "creationTimestamp")

	return obj, nil
}

// Reconcile creates the Certificate or replaces it in full.
func (r *CertificateReconciler) Reconcile(
	ctx context.Context,
	certIntent intent.CertificateIntent,
	owner metav1.OwnerReference,
) error {
	logger := log.FromContext(ctx).WithValues("certificate", certIntent.Namespace+"/"+certIntent.Name)

	desired, err := r.Desired(certIntent, owner)
	if err != nil {
		return err
	}

	current, err := r.store.Get(ctx, CertificateGVK, certIntent.Namespace, certIntent.Name)

	switch {
	case errors.Is(err, store.ErrNotFound):
		if _, err := r.store.Create(ctx, desired); err != nil {
			return errors.Wrap(err, "failed to create certificate")
		}

		logger.Info("created certificate", "issuer", certIntent.IssuerName, "issuerKind", certIntent.IssuerKind)

		return nil
	case err != nil:
		return errors.Wrap(err, "failed to read certificate")
	}

	desired.SetResourceVersion(current.GetResourceVersion())

	if _, err := r.store.Replace(ctx, desired); err != nil {
		return errors.Wrap(err, "failed to update certificate")
	}

	logger.Info("updated certificate", "issuer", certIntent.IssuerName, "issuerKind", certIntent.IssuerKind)

	return nil
}
