package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/castai/volume-autoscaler/cmd/volume-autoscaler/daemon/app"
	"github.com/castai/volume-autoscaler/pkg/autoscaler"
)

func NewRunCommand(version string) *cobra.Command {
	var (
		logLevel        = pflag.String("log-level", slog.LevelInfo.String(), "log level")
		logRateInterval = pflag.Duration("log-rate-interval", 100*time.Millisecond, "Log rate limit interval")
		logRateBurst    = pflag.Int("log-rate-burst", 100, "Log rate burst")

		metricsHTTPListenPort = pflag.Int("metrics-http-listen-port", 6060, "metrics http listen port")

		provider        = pflag.String("provider", "aws", "Cloud provider type (aws, none)")
		awsRegion       = pflag.String("aws-region", "", "AWS region override; defaults to the SDK resolution chain")
		credentialsFile = pflag.String("credentials-file", "", "Path to shared credentials file")
		instanceID      = pflag.String("instance-id", "", "Instance id override; skips the metadata service lookup")
		providerQPS     = pflag.Float64("provider-qps", 5, "Rate limit for outbound provider API calls")
		providerBurst   = pflag.Int("provider-burst", 10, "Burst for outbound provider API calls")

		statePath = pflag.String("state-path", "/var/lib/volume-autoscaler/state.db", "Path to the durable state database")

		pollInterval         = pflag.Duration("poll-interval", 30*time.Second, "Monitoring cycle interval")
		maxConcurrentResizes = pflag.Int64("max-concurrent-resizes", 4, "Maximum volumes resized concurrently")
		resizePollInterval   = pflag.Duration("resize-poll-interval", 5*time.Second, "Provider modification status poll interval")
		resizePollTimeout    = pflag.Duration("resize-poll-timeout", 30*time.Minute, "Maximum wait for one resize attempt")
		dryRun               = pflag.Bool("dry-run", false, "Log grow decisions without executing them")

		utilizationThreshold = pflag.Float64("utilization-threshold", 0.8, "Used/total fraction that triggers growth")
		growthFraction       = pflag.Float64("growth-fraction", 0.2, "Growth increment as a fraction of current size")
		minIncrementGiB      = pflag.Int64("min-increment-gib", 10, "Minimum growth increment in GiB")
		maxSizeGiB           = pflag.Int64("max-size-gib", 1000, "Maximum volume size in GiB")
		cooldown             = pflag.Duration("cooldown", 10*time.Minute, "Minimum time between successful resizes of one volume")
	)

	command := &cobra.Command{
		Use: "run",
		Run: func(cmd *cobra.Command, args []string) {
			pflag.Parse()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			const gib = int64(1024 * 1024 * 1024)
			err := app.New(&app.Config{
				LogLevel:              *logLevel,
				LogRateInterval:       *logRateInterval,
				LogRateBurst:          *logRateBurst,
				Version:               version,
				MetricsHTTPListenPort: *metricsHTTPListenPort,
				Provider:              *provider,
				AWSRegion:             *awsRegion,
				CredentialsFile:       *credentialsFile,
				InstanceIDOverride:    *instanceID,
				ProviderQPS:           *providerQPS,
				ProviderBurst:         *providerBurst,
				StatePath:             *statePath,
				Autoscaler: autoscaler.Config{
					PollInterval:         *pollInterval,
					MaxConcurrentResizes: *maxConcurrentResizes,
					ResizePollInterval:   *resizePollInterval,
					ResizePollTimeout:    *resizePollTimeout,
					DryRun:               *dryRun,
					Policy: autoscaler.Policy{
						UtilizationThreshold: *utilizationThreshold,
						GrowthFraction:       *growthFraction,
						MinIncrementBytes:    *minIncrementGiB * gib,
						MaxSizeBytes:         *maxSizeGiB * gib,
						Cooldown:             *cooldown,
					},
				},
			}).Run(ctx)

			switch {
			case errors.Is(err, autoscaler.ErrAttemptsLeftNonTerminal):
				// Informational: attempts stay persisted and resume on the
				// next start.
				slog.Warn(err.Error())
			case err != nil && !errors.Is(err, context.Canceled):
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}
	return command
}
