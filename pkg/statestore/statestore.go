package statestore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for the volume id.
	ErrNotFound = errors.New("volume record not found")

	// ErrAttemptInFlight rejects a write that would leave two different
	// non-terminal attempts recorded for the same volume.
	ErrAttemptInFlight = errors.New("another resize attempt is in flight")
)

type AttemptState string

const (
	AttemptRequested    AttemptState = "requested"
	AttemptProvisioning AttemptState = "provisioning"
	AttemptOptimizing   AttemptState = "optimizing"
	AttemptCompleted    AttemptState = "completed"
	AttemptFailed       AttemptState = "failed"
)

func (s AttemptState) Terminal() bool {
	return s == AttemptCompleted || s == AttemptFailed
}

type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeFailed         Outcome = "failed"
	OutcomeOSResizeFailed Outcome = "os-resize-failed"
	OutcomeAbandoned      Outcome = "abandoned"
)

// ResizeAttempt is one lifecycle instance of growing a volume to a target
// size. Attempts are never deleted, only marked terminal; the latest one is
// kept on the volume record as history and cooldown evidence.
type ResizeAttempt struct {
	ID              string       `json:"id"`
	VolumeID        string       `json:"volumeID"`
	Seq             uint64       `json:"seq"`
	TargetSizeBytes int64        `json:"targetSizeBytes"`
	State           AttemptState `json:"state"`
	Outcome         Outcome      `json:"outcome,omitempty"`
	OSResized       bool         `json:"osResized,omitempty"`
	SubmittedAt     time.Time    `json:"submittedAt"`
	LastPolledAt    time.Time    `json:"lastPolledAt,omitempty"`
	FailureMessage  string       `json:"failureMessage,omitempty"`
}

func (a *ResizeAttempt) Terminal() bool {
	return a != nil && a.State.Terminal()
}

// VolumeRecord is the single durable record per volume id.
type VolumeRecord struct {
	VolumeID      string         `json:"volumeID"`
	Device        string         `json:"device"`
	Mountpoint    string         `json:"mountpoint"`
	Fstype        string         `json:"fstype"`
	SizeBytes     int64          `json:"sizeBytes"`
	CooldownUntil time.Time      `json:"cooldownUntil,omitempty"`
	Attempt       *ResizeAttempt `json:"attempt,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// InFlight reports whether the volume has a non-terminal resize attempt.
func (r *VolumeRecord) InFlight() bool {
	return r.Attempt != nil && !r.Attempt.Terminal()
}

// NextAttemptSeq returns the sequence number for a fresh attempt.
func (r *VolumeRecord) NextAttemptSeq() uint64 {
	if r.Attempt == nil {
		return 1
	}
	return r.Attempt.Seq + 1
}

// Store persists volume records. Writes are applied with write-ahead
// discipline: state transitions are stored before being acted upon.
type Store interface {
	// LoadAll returns every stored record. Read once at startup.
	LoadAll(ctx context.Context) ([]*VolumeRecord, error)
	Get(ctx context.Context, volumeID string) (*VolumeRecord, error)
	Put(ctx context.Context, record *VolumeRecord) error
	// NonTerminal returns records whose attempt has not reached a terminal
	// state, for startup reconciliation.
	NonTerminal(ctx context.Context) ([]*VolumeRecord, error)
	Close() error
}

// guardAttempt enforces the per-volume mutual exclusion invariant shared by
// both store implementations.
func guardAttempt(existing, updated *VolumeRecord) error {
	if existing == nil || existing.Attempt == nil || existing.Attempt.Terminal() {
		return nil
	}
	if updated.Attempt == nil {
		return ErrAttemptInFlight
	}
	if updated.Attempt.ID != existing.Attempt.ID && !updated.Attempt.Terminal() {
		return ErrAttemptInFlight
	}
	return nil
}
