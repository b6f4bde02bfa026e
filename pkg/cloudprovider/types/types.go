package types

import (
	"context"
	"errors"
	"time"
)

// Provider defines cloud-agnostic operations for inspecting and growing
// block storage volumes attached to this host.
type Provider interface {
	// InstanceID returns the provider identity of the host the daemon runs on.
	InstanceID(ctx context.Context) (string, error)

	// ListAttachedVolumes returns volumes currently attached to the given instance.
	ListAttachedVolumes(ctx context.Context, instanceID string) ([]Volume, error)

	// ModifyVolumeSize submits a resize of the volume to the target size.
	// The provider applies the change asynchronously; progress is observed
	// through ModificationStatus.
	ModifyVolumeSize(ctx context.Context, volumeID string, targetSizeBytes int64) error

	// ModificationStatus reports the most recent size modification of the volume.
	// Returns ErrModificationNotFound if the provider has no record of one.
	ModificationStatus(ctx context.Context, volumeID string) (*Modification, error)

	// Type returns the cloud provider type.
	Type() Type

	// Close cleans up resources.
	Close() error
}

type Type string

const (
	TypeAWS  Type = "aws"
	TypeNone Type = "none"
)

// Volume represents a cloud storage volume attached to an instance.
type Volume struct {
	VolumeID         string
	Device           string // device name from the provider attachment, e.g. /dev/xvdf
	VolumeType       string
	VolumeState      string
	SizeBytes        int64
	Encrypted        bool
	AvailabilityZone string
}

type ModificationState string

const (
	ModificationProvisioning ModificationState = "provisioning"
	ModificationOptimizing   ModificationState = "optimizing"
	ModificationCompleted    ModificationState = "completed"
	ModificationFailed       ModificationState = "failed"
)

// Terminal reports whether the provider will make no further progress.
func (s ModificationState) Terminal() bool {
	return s == ModificationCompleted || s == ModificationFailed
}

// SizeVisible reports whether the device already exposes the new size to the
// OS. Providers apply the size before internal rebalancing finishes, so
// optimizing is safe for the OS-level grow.
func (s ModificationState) SizeVisible() bool {
	return s == ModificationOptimizing || s == ModificationCompleted
}

// Modification is a point-in-time view of a provider-side volume resize.
type Modification struct {
	VolumeID        string
	State           ModificationState
	TargetSizeBytes int64
	Progress        int64 // percent, 0-100
	StatusMessage   string
	StartTime       time.Time
}

// Config contains cloud provider configuration.
type Config struct {
	Type Type

	// AWS specific
	AWSRegion       string
	CredentialsFile string // path to shared credentials file (fallback)

	// InstanceIDOverride skips the metadata service lookup when set.
	InstanceIDOverride string
}

var (
	// ErrThrottled is returned when the provider rate limits the call.
	// Callers retry with backoff.
	ErrThrottled = errors.New("provider request throttled")

	// ErrUnauthorized is returned on credential or permission failures.
	// Treated as fatal for new resize attempts.
	ErrUnauthorized = errors.New("provider authorization failed")

	// ErrVolumeNotFound marks a volume the provider no longer knows about.
	ErrVolumeNotFound = errors.New("volume not found")

	// ErrModificationNotFound means the provider has no modification record
	// for the volume.
	ErrModificationNotFound = errors.New("volume modification not found")
)
