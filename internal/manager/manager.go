// Package manager assembles the webhook process: the controller-runtime
// manager, the HTTPS admission endpoint, the background task dispatcher and
// the probe and metrics endpoints.
package manager

import (
	"context"

	certmanagerv1 "github.com/cert-manager/cert-manager/pkg/apis/certmanager/v1"
	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	webhookadmission "github.com/lexfrei/gateway-cert-webhook/internal/admission"
	"github.com/lexfrei/gateway-cert-webhook/internal/config"
	"github.com/lexfrei/gateway-cert-webhook/internal/controller"
	"github.com/lexfrei/gateway-cert-webhook/internal/metrics"
	"github.com/lexfrei/gateway-cert-webhook/internal/ownership"
	"github.com/lexfrei/gateway-cert-webhook/internal/store"
	"github.com/lexfrei/gateway-cert-webhook/internal/tasks"
)

// NewScheme returns the scheme with every typed API the webhook decodes or writes.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()

	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, errors.Wrap(err, "failed to add client-go scheme")
	}

	if err := certmanagerv1.AddToScheme(scheme); err != nil {
		return nil, errors.Wrap(err, "failed to add cert-manager scheme")
	}

	if err := gatewayv1.Install(scheme); err != nil {
		return nil, errors.Wrap(err, "failed to add gateway-api scheme")
	}

	return scheme, nil
}

// Run starts the webhook with the given settings and blocks until ctx is
// cancelled or an error occurs.
//
// The function performs the following steps:
//  1. Validates settings and derives certificate defaults
//  2. Creates the controller-runtime manager with webhook, metrics and health endpoints
//  3. Wires the resource store, reconcilers and the admission orchestrator
//  4. Registers the admission handler and the background task dispatcher
//  5. Starts the manager and blocks until shutdown
//
//nolint:funlen // process wiring
func Run(ctx context.Context, settings *config.Settings) error {
	logger := log.FromContext(ctx).WithName("manager")
	logger.Info("initializing webhook manager")

	if err := settings.Validate(); err != nil {
		return errors.Wrap(err, "invalid settings")
	}

	defaults, err := settings.CertificateDefaults()
	if err != nil {
		return err
	}

	scheme, err := NewScheme()
	if err != nil {
		return err
	}

	webhookServer := webhook.NewServer(webhook.Options{
		Host:     settings.WebhookHost,
		Port:     settings.WebhookPort,
		CertDir:  settings.CertDir,
		CertName: settings.CertName,
		KeyName:  settings.KeyName,
	})

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: server.Options{
			BindAddress: settings.MetricsAddr,
		},
		HealthProbeBindAddress: settings.HealthAddr,
		WebhookServer:          webhookServer,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create manager")
	}

	collector := metrics.NewCollector(ctrlmetrics.Registry)
	kubeStore := store.NewKubeStore(mgr.GetClient(), collector)

	dispatcher := tasks.NewDispatcher(tasks.Options{
		Logger:        ctrl.Log.WithName("tasks"),
		Metrics:       collector,
		Timeout:       settings.TaskTimeout,
		ShutdownGrace: settings.ShutdownGrace,
	})

	if err := mgr.Add(dispatcher); err != nil {
		return errors.Wrap(err, "failed to add task dispatcher")
	}

	orchestrator := webhookadmission.NewOrchestrator(webhookadmission.Config{
		Store:        kubeStore,
		Decoder:      admission.NewDecoder(mgr.GetScheme()),
		Defaults:     defaults,
		Ownership:    ownership.NewResolver(kubeStore, settings.GatewayNamespace),
		Certificates: controller.NewCertificateReconciler(kubeStore),
		Gateways: controller.NewGatewayReconciler(kubeStore, controller.GatewayOptions{
			Namespace:       settings.GatewayNamespace,
			Selector:        settings.GatewaySelector,
			StrictOwnership: settings.StrictGatewayOwnership,
		}),
		Metrics: collector,
	})

	mgr.GetWebhookServer().Register(settings.WebhookPath,
		webhookadmission.NewHandler(orchestrator, dispatcher, ctrl.Log.WithName("webhook")))

	logger.Info("admission webhook registered",
		"path", settings.WebhookPath,
		"port", settings.WebhookPort,
		"gatewayNamespace", settings.GatewayNamespace,
		"strictGatewayOwnership", settings.StrictGatewayOwnership,
	)

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return errors.Wrap(err, "failed to set up health check")
	}

	if err := mgr.AddReadyzCheck("readyz", mgr.GetWebhookServer().StartedChecker()); err != nil {
		return errors.Wrap(err, "failed to set up ready check")
	}

	logger.Info("starting manager")

	if err := mgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start manager")
	}

	return nil
}
