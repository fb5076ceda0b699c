package intent

import (
	"time"

	certmanagerv1 "github.com/cert-manager/cert-manager/pkg/apis/certmanager/v1"
	"github.com/cockroachdb/errors"
)

// Annotation keys read from the parent resource.
const (
	AnnotationIssuer        = "cert-manager.io/issuer"
	AnnotationClusterIssuer = "cert-manager.io/cluster-issuer"
	AnnotationDuration      = "cert-manager.io/duration"
	AnnotationRenewBefore   = "cert-manager.io/renew-before"
)

// IssuerKind is the kind of the referenced cert-manager issuer.
type IssuerKind string

// Supported issuer kinds.
const (
	IssuerKindIssuer        IssuerKind = certmanagerv1.IssuerKind
	IssuerKindClusterIssuer IssuerKind = certmanagerv1.ClusterIssuerKind
)

var (
	// ErrAnnotationMissing means the resource carries neither issuer annotation.
	ErrAnnotationMissing = errors.New(
		"resource must have either '" + AnnotationIssuer + "' or '" + AnnotationClusterIssuer + "' annotation")

	// ErrInvalidAnnotationValue means a duration annotation could not be parsed.
	ErrInvalidAnnotationValue = errors.New("invalid annotation value")

	// ErrNoHosts means no DNS name could be derived for the certificate.
	ErrNoHosts = errors.New("no hosts to issue a certificate for")

	// ErrNoCertificateName means the certificate name could not be derived.
	ErrNoCertificateName = errors.New("certificate name is empty")
)

// Defaults are the process-wide certificate lifetimes used when the
// duration annotations are absent.
type Defaults struct {
	Duration    time.Duration
	RenewBefore time.Duration
}

// Issuance is what the annotations of a single resource ask for.
type Issuance struct {
	IssuerName  string
	IssuerKind  IssuerKind
	Duration    time.Duration
	RenewBefore time.Duration
}

// CertificateIntent is the fully derived desired certificate for one parent.
type CertificateIntent struct {
	Issuance

	Namespace  string
	Name       string
	SecretName string
	DNSNames   []string
}

// Resolve reads the cert-manager annotations and applies defaults.
//
//nolint:wrapcheck // sentinel errors are returned as is
func Resolve(annotations map[string]string, defaults Defaults) (Issuance, error) {
	var issuance Issuance

	switch {
	case annotations[AnnotationIssuer] != "":
		issuance.IssuerName = annotations[AnnotationIssuer]
		issuance.IssuerKind = IssuerKindIssuer
	case annotations[AnnotationClusterIssuer] != "":
		issuance.IssuerName = annotations[AnnotationClusterIssuer]
		issuance.IssuerKind = IssuerKindClusterIssuer
	default:
		return Issuance{}, ErrAnnotationMissing
	}

	var err error

	issuance.Duration, err = durationAnnotation(annotations, AnnotationDuration, defaults.Duration)
	if err != nil {
		return Issuance{}, err
	}

	issuance.RenewBefore, err = durationAnnotation(annotations, AnnotationRenewBefore, defaults.RenewBefore)
	if err != nil {
		return Issuance{}, err
	}

	return issuance, nil
}

func durationAnnotation(annotations map[string]string, key string, fallback time.Duration) (time.Duration, error) {
	value, ok := annotations[key]
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return 0, errors.Wrapf(ErrInvalidAnnotationValue, "%s=%q is not a positive duration", key, value)
	}

	return parsed, nil
}

// NewCertificateIntent combines an Issuance with the names derived from the
// parent resource. Empty and repeated DNS names are dropped, order is kept.
//
//nolint:wrapcheck // sentinel errors are returned as is
func NewCertificateIntent(
	namespace, name, secretName string,
	dnsNames []string,
	issuance Issuance,
) (CertificateIntent, error) {
	if name == "" || secretName == "" {
		return CertificateIntent{}, ErrNoCertificateName
	}

	hosts := make([]string, 0, len(dnsNames))
	seen := make(map[string]struct{}, len(dnsNames))

	for _, host := range dnsNames {
		if host == "" {
			continue
		}

		if _, dup := seen[host]; dup {
			continue
		}

		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}

	if len(hosts) == 0 {
		return CertificateIntent{}, errors.Wrapf(ErrNoHosts, "certificate %s/%s", namespace, name)
	}

	return CertificateIntent{
		Issuance:   issuance,
		Namespace:  namespace,
		Name:       name,
		SecretName: secretName,
		DNSNames:   hosts,
	}, nil
}
