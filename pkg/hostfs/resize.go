package hostfs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/castai/volume-autoscaler/pkg/logging"
)

// ErrUnsupportedFilesystem marks a filesystem kind outside the closed set of
// grow commands. Surfaced for operator attention, never retried.
var ErrUnsupportedFilesystem = errors.New("unsupported filesystem")

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

func NewResizer(log *logging.Logger) *Resizer {
	return &Resizer{
		log:    log.WithField("component", "resizer"),
		runner: execRunner{},
	}
}

// Resizer grows a partition entry and its filesystem in place, while the
// filesystem stays mounted. Safe to invoke on an already-grown volume: both
// the partition and filesystem steps degrade to no-ops.
type Resizer struct {
	log    *logging.Logger
	runner commandRunner
}

// Grow extends device to fill its block device and then grows the filesystem
// mounted at mountpoint. The cloud-side resize must already be visible to the
// OS when this is called.
func (r *Resizer) Grow(ctx context.Context, device, mountpoint, fstype string) error {
	if parent, part, ok := SplitPartition(device); ok {
		if err := r.growPartition(ctx, parent, part); err != nil {
			return err
		}
	}
	return r.growFilesystem(ctx, device, mountpoint, fstype)
}

func (r *Resizer) growPartition(ctx context.Context, disk string, part int) error {
	out, err := r.runner.Run(ctx, "growpart", disk, strconv.Itoa(part))
	if err != nil {
		// growpart exits 1 with NOCHANGE when the partition already fills
		// the disk.
		if strings.Contains(out, "NOCHANGE") {
			r.log.Debugf("partition %s%d already at full size", disk, part)
			return nil
		}
		return fmt.Errorf("growing partition %d of %s: %w: %s", part, disk, err, strings.TrimSpace(out))
	}
	r.log.Infof("grew partition %d of %s", part, disk)
	return nil
}

func (r *Resizer) growFilesystem(ctx context.Context, device, mountpoint, fstype string) error {
	var (
		out string
		err error
	)
	switch fstype {
	case "ext2", "ext3", "ext4":
		out, err = r.runner.Run(ctx, "resize2fs", device)
	case "xfs":
		out, err = r.runner.Run(ctx, "xfs_growfs", "-d", mountpoint)
	case "btrfs":
		out, err = r.runner.Run(ctx, "btrfs", "filesystem", "resize", "max", mountpoint)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFilesystem, fstype)
	}
	if err != nil {
		return fmt.Errorf("growing %s filesystem on %s: %w: %s", fstype, device, err, strings.TrimSpace(out))
	}
	r.log.Infof("grew %s filesystem at %s", fstype, mountpoint)
	return nil
}
