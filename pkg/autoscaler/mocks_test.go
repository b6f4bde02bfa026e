package autoscaler

import (
	"context"
	"fmt"
	"sync"

	"github.com/castai/volume-autoscaler/pkg/cloudprovider/types"
	"github.com/castai/volume-autoscaler/pkg/hostfs"
)

type mockProvider struct {
	mu          sync.Mutex
	instanceID  string
	volumes     []types.Volume
	listErr     error
	modifyErr   error
	modifyCalls map[string][]int64
	// statusQueue holds per-volume modification reports returned in order;
	// the last one repeats. An empty queue or a nil entry means no
	// modification record.
	statusQueue map[string][]*types.Modification
}

func (p *mockProvider) Type() types.Type { return types.TypeNone }
func (p *mockProvider) Close() error     { return nil }

func (p *mockProvider) InstanceID(ctx context.Context) (string, error) {
	return p.instanceID, nil
}

func (p *mockProvider) ListAttachedVolumes(ctx context.Context, instanceID string) ([]types.Volume, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.volumes, nil
}

func (p *mockProvider) ModifyVolumeSize(ctx context.Context, volumeID string, targetSizeBytes int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.modifyErr != nil {
		return p.modifyErr
	}
	if p.modifyCalls == nil {
		p.modifyCalls = map[string][]int64{}
	}
	p.modifyCalls[volumeID] = append(p.modifyCalls[volumeID], targetSizeBytes)
	return nil
}

func (p *mockProvider) ModificationStatus(ctx context.Context, volumeID string) (*types.Modification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.statusQueue[volumeID]
	if len(queue) == 0 {
		return nil, types.ErrModificationNotFound
	}
	status := queue[0]
	if len(queue) > 1 {
		p.statusQueue[volumeID] = queue[1:]
	}
	if status == nil {
		return nil, types.ErrModificationNotFound
	}
	return status, nil
}

func (p *mockProvider) modifyCount(volumeID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.modifyCalls[volumeID])
}

func modificationSteps(volumeID string, targetSizeBytes int64, states ...types.ModificationState) []*types.Modification {
	var steps []*types.Modification
	for _, s := range states {
		steps = append(steps, &types.Modification{
			VolumeID:        volumeID,
			State:           s,
			TargetSizeBytes: targetSizeBytes,
		})
	}
	return steps
}

type mockHost struct {
	mu     sync.Mutex
	mounts []hostfs.Mount
	usage  map[string]hostfs.Usage
}

func (h *mockHost) Mounts(ctx context.Context) ([]hostfs.Mount, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mounts, nil
}

func (h *mockHost) Usage(ctx context.Context, mountpoint string) (hostfs.Usage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.usage[mountpoint]
	if !ok {
		return hostfs.Usage{}, fmt.Errorf("%w: %s", hostfs.ErrMountPointGone, mountpoint)
	}
	return u, nil
}

func (h *mockHost) setUsage(mountpoint string, u hostfs.Usage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.usage == nil {
		h.usage = map[string]hostfs.Usage{}
	}
	h.usage[mountpoint] = u
}

type mockResizer struct {
	mu      sync.Mutex
	growErr error
	calls   []string
}

func (r *mockResizer) Grow(ctx context.Context, device, mountpoint, fstype string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.growErr != nil {
		return r.growErr
	}
	r.calls = append(r.calls, device)
	return nil
}

func (r *mockResizer) growCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
