package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/castai/volume-autoscaler/pkg/autoscaler"
	"github.com/castai/volume-autoscaler/pkg/cloudprovider"
	"github.com/castai/volume-autoscaler/pkg/cloudprovider/types"
	"github.com/castai/volume-autoscaler/pkg/hostfs"
	"github.com/castai/volume-autoscaler/pkg/logging"
	"github.com/castai/volume-autoscaler/pkg/statestore"
)

type Config struct {
	LogLevel              string        `json:"logLevel"`
	LogRateInterval       time.Duration `json:"logRateInterval"`
	LogRateBurst          int           `json:"logRateBurst"`
	Version               string        `json:"version"`
	MetricsHTTPListenPort int           `validate:"required" json:"metricsHTTPListenPort"`

	Provider           string  `validate:"required" json:"provider"`
	AWSRegion          string  `json:"awsRegion"`
	CredentialsFile    string  `json:"credentialsFile"`
	InstanceIDOverride string  `json:"instanceIDOverride"`
	ProviderQPS        float64 `validate:"required" json:"providerQPS"`
	ProviderBurst      int     `validate:"required" json:"providerBurst"`

	StatePath string `validate:"required" json:"statePath"`

	Autoscaler autoscaler.Config `json:"autoscaler"`
}

func New(cfg *Config) *App {
	if err := validator.New().Struct(cfg); err != nil {
		panic(fmt.Errorf("invalid config: %w", err).Error())
	}
	return &App{cfg: cfg}
}

type App struct {
	cfg *Config
}

func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg
	log := logging.New(&logging.Config{
		Ctx:       ctx,
		Level:     logging.MustParseLevel(cfg.LogLevel),
		AddSource: true,
		RateLimiter: logging.RateLimiterConfig{
			Limit:  rate.Every(cfg.LogRateInterval),
			Burst:  cfg.LogRateBurst,
			Inform: true,
		},
	})

	log.Infof("running volume-autoscaler, version=%s", cfg.Version)
	defer log.Infof("stopping volume-autoscaler, version=%s", cfg.Version)

	providerLimiter := rate.NewLimiter(rate.Limit(cfg.ProviderQPS), cfg.ProviderBurst)
	provider, err := cloudprovider.NewProvider(ctx, log, types.Config{
		Type:               types.Type(cfg.Provider),
		AWSRegion:          cfg.AWSRegion,
		CredentialsFile:    cfg.CredentialsFile,
		InstanceIDOverride: cfg.InstanceIDOverride,
	}, providerLimiter)
	if err != nil {
		return fmt.Errorf("setting up cloud provider: %w", err)
	}
	defer provider.Close()

	store, err := statestore.NewBoltStore(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("setting up state store: %w", err)
	}
	defer store.Close()

	host := hostfs.NewClient(log)
	resizer := hostfs.NewResizer(log)
	ctrl := autoscaler.NewController(log, cfg.Autoscaler, provider, store, host, resizer)

	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		return ctrl.Run(ctx)
	})
	errg.Go(func() error {
		return a.runHTTPServer(ctx, log)
	})
	return errg.Wait()
}

func (a *App) runHTTPServer(ctx context.Context, log *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.MetricsHTTPListenPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("serving metrics on :%d", a.cfg.MetricsHTTPListenPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
