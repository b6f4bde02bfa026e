package noop

import (
	"context"

	"github.com/castai/volume-autoscaler/pkg/cloudprovider/types"
)

type noOpProvider struct{}

// NewProvider returns a provider that does nothing. Used when the daemon runs
// without cloud credentials, e.g. in local development.
func NewProvider() types.Provider {
	return &noOpProvider{}
}

func (n *noOpProvider) Type() types.Type {
	return types.TypeNone
}

func (n *noOpProvider) InstanceID(ctx context.Context) (string, error) {
	return "local", nil
}

func (n *noOpProvider) ListAttachedVolumes(ctx context.Context, instanceID string) ([]types.Volume, error) {
	return nil, nil
}

func (n *noOpProvider) ModifyVolumeSize(ctx context.Context, volumeID string, targetSizeBytes int64) error {
	return nil
}

func (n *noOpProvider) ModificationStatus(ctx context.Context, volumeID string) (*types.Modification, error) {
	return nil, types.ErrModificationNotFound
}

func (n *noOpProvider) Close() error {
	return nil
}
