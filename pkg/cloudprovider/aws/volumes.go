package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/castai/volume-autoscaler/pkg/cloudprovider/types"
)

const gib = int64(1024 * 1024 * 1024)

// ListAttachedVolumes retrieves volumes from https://docs.aws.amazon.com/AWSEC2/latest/APIReference/API_Volume.html
func (p *Provider) ListAttachedVolumes(ctx context.Context, instanceID string) ([]types.Volume, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	input := &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{
			{
				Name:   aws.String("attachment.instance-id"),
				Values: []string{instanceID},
			},
		},
	}

	result, err := p.ec2Client.DescribeVolumes(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("describing volumes: %w", mapError(err))
	}

	var volumes []types.Volume
	for _, vol := range result.Volumes {
		if vol.VolumeId == nil {
			continue
		}

		volume := types.Volume{
			VolumeID:         aws.ToString(vol.VolumeId),
			VolumeType:       string(vol.VolumeType),
			VolumeState:      string(vol.State),
			Encrypted:        aws.ToBool(vol.Encrypted),
			AvailabilityZone: aws.ToString(vol.AvailabilityZone),
		}

		// Size is in GiB, convert to bytes
		if vol.Size != nil && *vol.Size > 0 {
			volume.SizeBytes = int64(*vol.Size) * gib
		}

		for _, attachment := range vol.Attachments {
			if aws.ToString(attachment.InstanceId) == instanceID {
				volume.Device = aws.ToString(attachment.Device)
			}
		}

		volumes = append(volumes, volume)
	}

	return volumes, nil
}
