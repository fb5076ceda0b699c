package intent

import (
	"context"

	certmanagerv1 "github.com/cert-manager/cert-manager/pkg/apis/certmanager/v1"
	"github.com/cockroachdb/errors"

	"github.com/lexfrei/gateway-cert-webhook/internal/store"
)

var (
	// ErrIssuerNotFound means the referenced Issuer does not exist.
	ErrIssuerNotFound = errors.New("issuer does not exist")

	// ErrClusterIssuerNotFound means the referenced ClusterIssuer does not exist.
	ErrClusterIssuerNotFound = errors.New("cluster issuer does not exist")
)

// VerifyIssuer checks that the issuer referenced by the intent exists.
// Issuers are looked up in the certificate's namespace, ClusterIssuers at
// cluster scope. Store errors other than not-found are returned wrapped.
func VerifyIssuer(ctx context.Context, s store.Store, certificate CertificateIntent) error {
	var (
		namespace string
		missing   error
	)

	switch certificate.IssuerKind {
	case IssuerKindIssuer:
		namespace = certificate.Namespace
		missing = ErrIssuerNotFound
	case IssuerKindClusterIssuer:
		missing = ErrClusterIssuerNotFound
	default:
		return errors.Newf("unsupported issuer kind %q", certificate.IssuerKind)
	}

	gvk := certmanagerv1.SchemeGroupVersion.WithKind(string(certificate.IssuerKind))

	_, err := s.Get(ctx, gvk, namespace, certificate.IssuerName)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		if namespace == "" {
			return errors.Wrapf(missing, "%s %s", certificate.IssuerKind, certificate.IssuerName)
		}

		return errors.Wrapf(missing, "%s %s in namespace %s", certificate.IssuerKind, certificate.IssuerName, namespace)
	default:
		return errors.Wrapf(err, "failed to look up %s %s", certificate.IssuerKind, certificate.IssuerName)
	}
}
