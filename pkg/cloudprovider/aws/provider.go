package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"golang.org/x/time/rate"

	"github.com/castai/volume-autoscaler/pkg/cloudprovider/types"
	"github.com/castai/volume-autoscaler/pkg/logging"
)

type Provider struct {
	log     *logging.Logger
	cfg     types.Config
	limiter *rate.Limiter

	// AWS clients
	ec2Client  *ec2.Client
	imdsClient *imds.Client
}

// NewProvider creates a new AWS provider instance. All outbound EC2 calls
// share the given rate limiter.
func NewProvider(ctx context.Context, log *logging.Logger, cfg types.Config, limiter *rate.Limiter) (*Provider, error) {
	awsConfig, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building aws config: %w", err)
	}

	return &Provider{
		log:        log.WithField("cloudprovider", "aws"),
		cfg:        cfg,
		limiter:    limiter,
		ec2Client:  ec2.NewFromConfig(awsConfig),
		imdsClient: imds.NewFromConfig(awsConfig),
	}, nil
}

func (p *Provider) Type() types.Type {
	return types.TypeAWS
}

func (p *Provider) InstanceID(ctx context.Context) (string, error) {
	if p.cfg.InstanceIDOverride != "" {
		return p.cfg.InstanceIDOverride, nil
	}
	doc, err := p.imdsClient.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return "", fmt.Errorf("fetching instance identity: %w", err)
	}
	return doc.InstanceID, nil
}

func (p *Provider) Close() error {
	// AWS SDK v2 clients don't need explicit cleanup
	p.log.Info("AWS provider closed")
	return nil
}
