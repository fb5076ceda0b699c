package intent_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexfrei/gateway-cert-webhook/internal/intent"
)

var testDefaults = intent.Defaults{
	Duration:    4320 * time.Hour,
	RenewBefore: 360 * time.Hour,
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		annotations map[string]string
		expected    intent.Issuance
		expectedErr error
	}{
		{
			name:        "nil annotations",
			annotations: nil,
			expectedErr: intent.ErrAnnotationMissing,
		},
		{
			name:        "unrelated annotations only",
			annotations: map[string]string{"kubernetes.io/ingress.class": "istio"},
			expectedErr: intent.ErrAnnotationMissing,
		},
		{
			name:        "empty issuer values",
			annotations: map[string]string{intent.AnnotationIssuer: "", intent.AnnotationClusterIssuer: ""},
			expectedErr: intent.ErrAnnotationMissing,
		},
		{
			name:        "issuer with defaults",
			annotations: map[string]string{intent.AnnotationIssuer: "my-issuer"},
			expected: intent.Issuance{
				IssuerName:  "my-issuer",
				IssuerKind:  intent.IssuerKindIssuer,
				Duration:    4320 * time.Hour,
				RenewBefore: 360 * time.Hour,
			},
		},
		{
			name:        "cluster issuer",
			annotations: map[string]string{intent.AnnotationClusterIssuer: "letsencrypt"},
			expected: intent.Issuance{
				IssuerName:  "letsencrypt",
				IssuerKind:  intent.IssuerKindClusterIssuer,
				Duration:    4320 * time.Hour,
				RenewBefore: 360 * time.Hour,
			},
		},
		{
			name: "issuer wins over cluster issuer",
			annotations: map[string]string{
				intent.AnnotationIssuer:        "my-issuer",
				intent.AnnotationClusterIssuer: "letsencrypt",
			},
			expected: intent.Issuance{
				IssuerName:  "my-issuer",
				IssuerKind:  intent.IssuerKindIssuer,
				Duration:    4320 * time.Hour,
				RenewBefore: 360 * time.Hour,
			},
		},
		{
			name: "explicit durations",
			annotations: map[string]string{
				intent.AnnotationClusterIssuer: "letsencrypt",
				intent.AnnotationDuration:      "2160h",
				intent.AnnotationRenewBefore:   "720h",
			},
			expected: intent.Issuance{
				IssuerName:  "letsencrypt",
				IssuerKind:  intent.IssuerKindClusterIssuer,
				Duration:    2160 * time.Hour,
				RenewBefore: 720 * time.Hour,
			},
		},
		{
			name: "unparsable duration",
			annotations: map[string]string{
				intent.AnnotationIssuer:   "my-issuer",
				intent.AnnotationDuration: "90d",
			},
			expectedErr: intent.ErrInvalidAnnotationValue,
		},
		{
			name: "negative renew before",
			annotations: map[string]string{
				intent.AnnotationIssuer:      "my-issuer",
				intent.AnnotationRenewBefore: "-1h",
			},
			expectedErr: intent.ErrInvalidAnnotationValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			issuance, err := intent.Resolve(tt.annotations, testDefaults)

			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.expectedErr), "got %v", err)
				assert.Equal(t, intent.Issuance{}, issuance)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, issuance)
		})
	}
}

func TestResolve_InvalidValueNamesAnnotation(t *testing.T) {
	t.Parallel()

	_, err := intent.Resolve(map[string]string{
		intent.AnnotationIssuer:   "my-issuer",
		intent.AnnotationDuration: "soon",
	}, testDefaults)

	require.Error(t, err)
	assert.Contains(t, err.Error(), intent.AnnotationDuration)
	assert.Contains(t, err.Error(), `"soon"`)
}

func TestNewCertificateIntent(t *testing.T) {
	t.Parallel()

	issuance := intent.Issuance{IssuerName: "my-issuer", IssuerKind: intent.IssuerKindIssuer}
	hosts := []string{"a.example.com", "", "b.example.com", "a.example.com"}

	certificate, err := intent.NewCertificateIntent("team-a", "vs1-tls", "vs1-tls", hosts, issuance)

	require.NoError(t, err)
	assert.Equal(t, "team-a", certificate.Namespace)
	assert.Equal(t, "vs1-tls", certificate.Name)
	assert.Equal(t, "my-issuer", certificate.IssuerName)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, certificate.DNSNames)

	hosts[0] = "mutated.example.com"
	assert.Equal(t, "a.example.com", certificate.DNSNames[0], "intent must not alias the input slice")
}

func TestNewCertificateIntent_NoHosts(t *testing.T) {
	t.Parallel()

	_, err := intent.NewCertificateIntent("team-a", "vs1-tls", "vs1-tls", []string{""}, intent.Issuance{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, intent.ErrNoHosts))
}

func TestNewCertificateIntent_NoName(t *testing.T) {
	t.Parallel()

	_, err := intent.NewCertificateIntent("default", "", "", []string{"a.example.com"}, intent.Issuance{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, intent.ErrNoCertificateName))
}
