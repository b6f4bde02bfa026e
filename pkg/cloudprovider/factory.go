package cloudprovider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/castai/volume-autoscaler/pkg/cloudprovider/aws"
	"github.com/castai/volume-autoscaler/pkg/cloudprovider/noop"
	"github.com/castai/volume-autoscaler/pkg/cloudprovider/types"
	"github.com/castai/volume-autoscaler/pkg/logging"
)

// NewProvider creates a cloud provider instance based on config.
func NewProvider(ctx context.Context, log *logging.Logger, cfg types.Config, limiter *rate.Limiter) (types.Provider, error) {
	switch cfg.Type {
	case types.TypeAWS:
		return aws.NewProvider(ctx, log, cfg, limiter)
	case types.TypeNone:
		return noop.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported cloud provider type: %s", cfg.Type)
	}
}
