package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/castai/volume-autoscaler/pkg/cloudprovider/types"
)

// ModifyVolumeSize submits an in-place grow of the volume. EC2 sizes are whole
// GiB; the target is rounded up to the next GiB boundary.
func (p *Provider) ModifyVolumeSize(ctx context.Context, volumeID string, targetSizeBytes int64) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	targetGiB := (targetSizeBytes + gib - 1) / gib
	p.log.Infof("modifying volume %s to %d GiB", volumeID, targetGiB)

	_, err := p.ec2Client.ModifyVolume(ctx, &ec2.ModifyVolumeInput{
		VolumeId: aws.String(volumeID),
		Size:     aws.Int32(int32(targetGiB)),
	})
	if err != nil {
		return fmt.Errorf("modifying volume %s: %w", volumeID, mapError(err))
	}
	return nil
}

// ModificationStatus reports the most recent modification of the volume as
// seen by https://docs.aws.amazon.com/AWSEC2/latest/APIReference/API_DescribeVolumesModifications.html
func (p *Provider) ModificationStatus(ctx context.Context, volumeID string) (*types.Modification, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := p.ec2Client.DescribeVolumesModifications(ctx, &ec2.DescribeVolumesModificationsInput{
		VolumeIds: []string{volumeID},
	})
	if err != nil {
		// EC2 reports a volume with no modification history as a not found
		// error rather than an empty list.
		mapped := mapError(err)
		if isAPIErrorCode(err, "InvalidVolumeModification.NotFound") {
			return nil, types.ErrModificationNotFound
		}
		return nil, fmt.Errorf("describing volume modifications for %s: %w", volumeID, mapped)
	}

	mods := result.VolumesModifications
	if len(mods) == 0 {
		return nil, types.ErrModificationNotFound
	}
	sort.Slice(mods, func(i, j int) bool {
		return aws.ToTime(mods[i].StartTime).After(aws.ToTime(mods[j].StartTime))
	})
	latest := mods[0]

	mod := &types.Modification{
		VolumeID:      aws.ToString(latest.VolumeId),
		State:         mapModificationState(latest.ModificationState),
		Progress:      int64(aws.ToInt64(latest.Progress)),
		StatusMessage: aws.ToString(latest.StatusMessage),
		StartTime:     aws.ToTime(latest.StartTime),
	}
	if latest.TargetSize != nil {
		mod.TargetSizeBytes = int64(*latest.TargetSize) * gib
	}
	return mod, nil
}

func mapModificationState(state ec2types.VolumeModificationState) types.ModificationState {
	switch state {
	case ec2types.VolumeModificationStateModifying:
		return types.ModificationProvisioning
	case ec2types.VolumeModificationStateOptimizing:
		return types.ModificationOptimizing
	case ec2types.VolumeModificationStateCompleted:
		return types.ModificationCompleted
	case ec2types.VolumeModificationStateFailed:
		return types.ModificationFailed
	default:
		return types.ModificationProvisioning
	}
}
