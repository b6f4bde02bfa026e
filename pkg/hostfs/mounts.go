package hostfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/castai/volume-autoscaler/pkg/logging"
)

// ErrMountPointGone marks a mount point that disappeared between discovery
// and sampling. Callers skip the volume for the current cycle.
var ErrMountPointGone = errors.New("mount point no longer present")

type Mount struct {
	Device     string
	Mountpoint string
	Fstype     string
}

type Usage struct {
	UsedBytes  int64
	TotalBytes int64
	SampledAt  time.Time
}

func (u Usage) Fraction() float64 {
	if u.TotalBytes == 0 {
		return 0
	}
	return float64(u.UsedBytes) / float64(u.TotalBytes)
}

func NewClient(log *logging.Logger) *Client {
	return &Client{log: log.WithField("component", "hostfs")}
}

type Client struct {
	log *logging.Logger
}

// Mounts returns the host mount table restricted to physical block devices.
func (c *Client) Mounts(ctx context.Context) ([]Mount, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	mounts := make([]Mount, 0, len(parts))
	for _, p := range parts {
		mounts = append(mounts, Mount{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			Fstype:     p.Fstype,
		})
	}
	return mounts, nil
}

// Usage samples used and total bytes for the mount point.
func (c *Client) Usage(ctx context.Context, mountpoint string) (Usage, error) {
	mounts, err := c.Mounts(ctx)
	if err != nil {
		return Usage{}, err
	}
	found := false
	for _, m := range mounts {
		if m.Mountpoint == mountpoint {
			found = true
			break
		}
	}
	if !found {
		return Usage{}, fmt.Errorf("%w: %s", ErrMountPointGone, mountpoint)
	}

	stat, err := disk.UsageWithContext(ctx, mountpoint)
	if err != nil {
		return Usage{}, fmt.Errorf("sampling usage of %s: %w", mountpoint, err)
	}
	return Usage{
		UsedBytes:  int64(stat.Used),
		TotalBytes: int64(stat.Total),
		SampledAt:  time.Now().UTC(),
	}, nil
}
