package autoscaler

import (
	"time"

	"github.com/castai/volume-autoscaler/pkg/hostfs"
	"github.com/castai/volume-autoscaler/pkg/statestore"
)

const gib = int64(1024 * 1024 * 1024)

// Policy is the scaling configuration. Immutable at runtime.
type Policy struct {
	// UtilizationThreshold is the used/total fraction above which a volume
	// grows.
	UtilizationThreshold float64 `validate:"gt=0,lte=1"`
	// GrowthFraction sizes the increment relative to the current size.
	GrowthFraction float64 `validate:"gt=0"`
	// MinIncrementBytes floors the increment for small volumes.
	MinIncrementBytes int64 `validate:"gte=0"`
	// MaxSizeBytes caps the volume. Never grown past this.
	MaxSizeBytes int64 `validate:"required"`
	// Cooldown is the minimum time between successive successful resizes of
	// one volume.
	Cooldown time.Duration `validate:"required"`
}

type DecisionKind string

const (
	DecisionNoAction   DecisionKind = "no-action"
	DecisionGrow       DecisionKind = "grow"
	DecisionSuppressed DecisionKind = "suppressed"
)

type SuppressReason string

const (
	ReasonAtCap      SuppressReason = "at-cap"
	ReasonCooldown   SuppressReason = "cooldown"
	ReasonInFlight   SuppressReason = "in-flight"
	ReasonNoHeadroom SuppressReason = "no-headroom"
)

type Decision struct {
	Kind            DecisionKind
	TargetSizeBytes int64
	Reason          SuppressReason
}

// Decide evaluates one volume against the policy. The check order matters:
// cap and cooldown short-circuit before a new attempt is considered, so a hot
// volume at its ceiling never produces a modification call.
func (p Policy) Decide(rec *statestore.VolumeRecord, usage hostfs.Usage, now time.Time) Decision {
	if usage.Fraction() < p.UtilizationThreshold {
		return Decision{Kind: DecisionNoAction}
	}
	if rec.SizeBytes >= p.MaxSizeBytes {
		return Decision{Kind: DecisionSuppressed, Reason: ReasonAtCap}
	}
	if rec.CooldownUntil.After(now) {
		return Decision{Kind: DecisionSuppressed, Reason: ReasonCooldown}
	}
	if rec.InFlight() {
		return Decision{Kind: DecisionSuppressed, Reason: ReasonInFlight}
	}

	increment := int64(float64(rec.SizeBytes) * p.GrowthFraction)
	if increment < p.MinIncrementBytes {
		increment = p.MinIncrementBytes
	}
	// The provider resizes in whole GiB: the target rounds up, the cap rounds
	// down so a clamped target can never overshoot the configured maximum.
	newSize := alignUpGiB(rec.SizeBytes + increment)
	if cap := alignDownGiB(p.MaxSizeBytes); newSize > cap {
		newSize = cap
	}
	if newSize <= rec.SizeBytes {
		return Decision{Kind: DecisionSuppressed, Reason: ReasonNoHeadroom}
	}
	return Decision{Kind: DecisionGrow, TargetSizeBytes: newSize}
}

func alignUpGiB(size int64) int64 {
	return (size + gib - 1) / gib * gib
}

func alignDownGiB(size int64) int64 {
	return size / gib * gib
}
