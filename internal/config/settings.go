// Package config holds the process-wide settings of the webhook and validates
// them once at startup.
package config

import (
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/gateway-cert-webhook/internal/intent"
)

// Default values for settings.
const (
	DefaultDuration         = "4320h"
	DefaultRenewBefore      = "360h"
	DefaultGatewayNamespace = "istio-system"
	DefaultWebhookPort      = 8443
	DefaultWebhookPath      = "/validate"
	DefaultCertName         = "tls.crt"
	DefaultKeyName          = "tls.key"
	DefaultMetricsAddr      = ":8080"
	DefaultHealthAddr       = ":8081"
	DefaultShutdownGrace    = 30 * time.Second
)

// ErrInvalidDuration means a default certificate lifetime is not a whole number of hours.
var ErrInvalidDuration = errors.New("duration and renew-before must be a whole number of hours ending in 'h'")

//nolint:gochecknoglobals // compiled once
var hoursPattern = regexp.MustCompile(`^[0-9]+h$`)

// DefaultGatewaySelector returns the selector put on shared gateways by default.
func DefaultGatewaySelector() map[string]string {
	return map[string]string{"istio": "ingressgateway"}
}

// Settings is the complete process configuration.
// Values are typically populated from CLI flags or environment variables.
type Settings struct {
	// DefaultDuration is the certificate lifetime used when the
	// cert-manager.io/duration annotation is absent, e.g. "4320h".
	DefaultDuration string

	// DefaultRenewBefore is the renewal window used when the
	// cert-manager.io/renew-before annotation is absent, e.g. "360h".
	DefaultRenewBefore string

	// GatewayNamespace is the only namespace shared gateways may live in.
	GatewayNamespace string

	// GatewaySelector selects the ingress gateway workload of shared gateways.
	GatewaySelector map[string]string

	// StrictGatewayOwnership makes shared gateway updates fail when the gateway
	// changed between admission and reconciliation.
	StrictGatewayOwnership bool

	// WebhookHost and WebhookPort are where the HTTPS admission endpoint listens.
	WebhookHost string
	WebhookPort int

	// WebhookPath is the URL path of the validating webhook.
	WebhookPath string

	// CertDir, CertName and KeyName locate the serving certificate.
	CertDir  string
	CertName string
	KeyName  string

	// MetricsAddr is the address for the Prometheus metrics endpoint.
	MetricsAddr string

	// HealthAddr is the address for health and readiness probe endpoints.
	HealthAddr string

	// TaskTimeout bounds a single background reconciliation. Zero means no bound.
	TaskTimeout time.Duration

	// ShutdownGrace is how long in-flight background tasks may run after
	// shutdown starts.
	ShutdownGrace time.Duration
}

// Default returns Settings populated with default values.
func Default() Settings {
	return Settings{
		DefaultDuration:    DefaultDuration,
		DefaultRenewBefore: DefaultRenewBefore,
		GatewayNamespace:   DefaultGatewayNamespace,
		GatewaySelector:    DefaultGatewaySelector(),
		WebhookPort:        DefaultWebhookPort,
		WebhookPath:        DefaultWebhookPath,
		CertName:           DefaultCertName,
		KeyName:            DefaultKeyName,
		MetricsAddr:        DefaultMetricsAddr,
		HealthAddr:         DefaultHealthAddr,
		ShutdownGrace:      DefaultShutdownGrace,
	}
}

// Validate checks the settings. It is called once before anything starts.
//
//nolint:wrapcheck // errors.Newf creates new errors
func (s *Settings) Validate() error {
	if _, err := s.CertificateDefaults(); err != nil {
		return err
	}

	if s.GatewayNamespace == "" {
		return errors.New("gateway-namespace must not be empty")
	}

	if len(s.GatewaySelector) == 0 {
		return errors.New("gateway-selector must not be empty")
	}

	if s.WebhookPort <= 0 || s.WebhookPort > 65535 {
		return errors.Newf("webhook-port %d is out of range", s.WebhookPort)
	}

	if s.WebhookPath == "" || s.WebhookPath[0] != '/' {
		return errors.Newf("webhook-path %q must start with '/'", s.WebhookPath)
	}

	if s.TaskTimeout < 0 {
		return errors.New("task-timeout must not be negative")
	}

	if s.ShutdownGrace < 0 {
		return errors.New("shutdown-grace must not be negative")
	}

	return nil
}

// CertificateDefaults parses the default lifetimes.
func (s *Settings) CertificateDefaults() (intent.Defaults, error) {
	duration, err := ParseHours(s.DefaultDuration)
	if err != nil {
		return intent.Defaults{}, errors.Wrap(err, "invalid default-duration")
	}

	renewBefore, err := ParseHours(s.DefaultRenewBefore)
	if err != nil {
		return intent.Defaults{}, errors.Wrap(err, "invalid default-renew-before")
	}

	return intent.Defaults{Duration: duration, RenewBefore: renewBefore}, nil
}

// ParseHours parses values of the form "<integer>h".
func ParseHours(value string) (time.Duration, error) {
	if !hoursPattern.MatchString(value) {
		return 0, errors.Wrapf(ErrInvalidDuration, "got %q", value)
	}

	hours, err := strconv.ParseInt(value[:len(value)-1], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidDuration, "got %q", value)
	}

	return time.Duration(hours) * time.Hour, nil
}
