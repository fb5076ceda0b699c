package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/lexfrei/gateway-cert-webhook/internal/config"
	"github.com/lexfrei/gateway-cert-webhook/internal/logging"
	"github.com/lexfrei/gateway-cert-webhook/internal/manager"
)

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "gateway-cert-webhook",
	Short: "Admission webhook provisioning cert-manager Certificates for Istio gateways",
	Long: `A validating admission webhook for Istio Gateways, Istio VirtualServices and
Gateway API Gateways. Annotated resources get a cert-manager Certificate, and
VirtualServices additionally get a shared Istio Gateway in the gateway namespace.
Certificates and gateways are reconciled in the background after the admission
response has been sent.`,
	RunE:          runWebhook,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", logging.FormatJSON, "Log format (json, text, console)")

	rootCmd.Flags().String("default-duration", config.DefaultDuration,
		"Certificate duration when cert-manager.io/duration is absent (whole hours, e.g. 4320h)")
	rootCmd.Flags().String("default-renew-before", config.DefaultRenewBefore,
		"Certificate renew-before when cert-manager.io/renew-before is absent (whole hours, e.g. 360h)")
	rootCmd.Flags().String("gateway-namespace", config.DefaultGatewayNamespace,
		"The only namespace shared gateways may be referenced in and created in")
	rootCmd.Flags().StringToString("gateway-selector", config.DefaultGatewaySelector(),
		"Workload selector of created shared gateways")
	rootCmd.Flags().Bool("strict-gateway-ownership", false,
		"Fail shared gateway updates when the gateway changed after admission")

	rootCmd.Flags().String("webhook-host", "", "Address the webhook server binds to (all interfaces if empty)")
	rootCmd.Flags().Int("webhook-port", config.DefaultWebhookPort, "Port of the HTTPS webhook server")
	rootCmd.Flags().String("webhook-path", config.DefaultWebhookPath, "URL path of the validating webhook")
	rootCmd.Flags().String("cert-dir", "", "Directory with the serving certificate (controller-runtime default if empty)")
	rootCmd.Flags().String("cert-name", config.DefaultCertName, "Serving certificate file name in cert-dir")
	rootCmd.Flags().String("key-name", config.DefaultKeyName, "Serving key file name in cert-dir")

	rootCmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "Address for metrics endpoint")
	rootCmd.Flags().String("health-addr", config.DefaultHealthAddr, "Address for health probe endpoint")

	rootCmd.Flags().Duration("task-timeout", 0, "Timeout of a single background reconciliation (0 disables)")
	rootCmd.Flags().Duration("shutdown-grace", config.DefaultShutdownGrace,
		"How long to wait for background reconciliations on shutdown")

	_ = viper.BindPFlags(rootCmd.Flags())
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetEnvPrefix("CERTHOOK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Unprefixed names kept for existing deployments.
	_ = viper.BindEnv("default-duration", "CERTHOOK_DEFAULT_DURATION", "DURATION")
	_ = viper.BindEnv("default-renew-before", "CERTHOOK_DEFAULT_RENEW_BEFORE", "RENEW_BEFORE")

	viper.SetDefault("default-duration", config.DefaultDuration)
	viper.SetDefault("default-renew-before", config.DefaultRenewBefore)
	viper.SetDefault("gateway-namespace", config.DefaultGatewayNamespace)
	viper.SetDefault("webhook-port", config.DefaultWebhookPort)
	viper.SetDefault("webhook-path", config.DefaultWebhookPath)
	viper.SetDefault("cert-name", config.DefaultCertName)
	viper.SetDefault("key-name", config.DefaultKeyName)
	viper.SetDefault("metrics-addr", config.DefaultMetricsAddr)
	viper.SetDefault("health-addr", config.DefaultHealthAddr)
	viper.SetDefault("shutdown-grace", config.DefaultShutdownGrace)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", logging.FormatJSON)
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

// settingsFromViper reads Settings from flags and environment.
func settingsFromViper(v *viper.Viper) config.Settings {
	selector := v.GetStringMapString("gateway-selector")
	if len(selector) == 0 {
		selector = config.DefaultGatewaySelector()
	}

	return config.Settings{
		DefaultDuration:        v.GetString("default-duration"),
		DefaultRenewBefore:     v.GetString("default-renew-before"),
		GatewayNamespace:       v.GetString("gateway-namespace"),
		GatewaySelector:        selector,
		StrictGatewayOwnership: v.GetBool("strict-gateway-ownership"),
		WebhookHost:            v.GetString("webhook-host"),
		WebhookPort:            v.GetInt("webhook-port"),
		WebhookPath:            v.GetString("webhook-path"),
		CertDir:                v.GetString("cert-dir"),
		CertName:               v.GetString("cert-name"),
		KeyName:                v.GetString("key-name"),
		MetricsAddr:            v.GetString("metrics-addr"),
		HealthAddr:             v.GetString("health-addr"),
		TaskTimeout:            v.GetDuration("task-timeout"),
		ShutdownGrace:          v.GetDuration("shutdown-grace"),
	}
}

//nolint:noinlineerr // inline error handling is fine here
func runWebhook(_ *cobra.Command, _ []string) error {
	logger, err := logging.New(os.Stdout, viper.GetString("log-level"), viper.GetString("log-format"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return errors.Wrap(err, "failed to set up logging")
	}

	slog.SetDefault(logger)

	ctrlLogger := logging.Logr(logger)
	ctrl.SetLogger(ctrlLogger)

	logger.Info("starting gateway-cert-webhook",
		"version", version,
		"gitsha", gitsha,
	)

	settings := settingsFromViper(viper.GetViper())

	if err := settings.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)

		return errors.Wrap(err, "invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx = log.IntoContext(ctx, ctrlLogger)

	if err := manager.Run(ctx, &settings); err != nil {
		logger.Error("webhook stopped", "error", err)

		return errors.Wrap(err, "failed to run webhook")
	}

	return nil
}
