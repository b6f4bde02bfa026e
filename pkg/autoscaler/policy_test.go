package autoscaler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castai/volume-autoscaler/pkg/hostfs"
	"github.com/castai/volume-autoscaler/pkg/statestore"
)

func testPolicy() Policy {
	return Policy{
		UtilizationThreshold: 0.8,
		GrowthFraction:       0.2,
		MinIncrementBytes:    1 * gib,
		MaxSizeBytes:         500 * gib,
		Cooldown:             10 * time.Minute,
	}
}

func usageAt(fraction float64, total int64) hostfs.Usage {
	return hostfs.Usage{
		UsedBytes:  int64(fraction * float64(total)),
		TotalBytes: total,
		SampledAt:  time.Now().UTC(),
	}
}

func TestPolicyDecide(t *testing.T) {
	now := time.Now().UTC()

	t.Run("below threshold is no action", func(t *testing.T) {
		r := require.New(t)
		rec := &statestore.VolumeRecord{VolumeID: "vol-1", SizeBytes: 100 * gib}
		d := testPolicy().Decide(rec, usageAt(0.5, 100*gib), now)
		r.Equal(DecisionNoAction, d.Kind)
	})

	t.Run("grows by fraction of current size", func(t *testing.T) {
		r := require.New(t)
		rec := &statestore.VolumeRecord{VolumeID: "vol-1", SizeBytes: 100 * gib}
		d := testPolicy().Decide(rec, usageAt(0.85, 100*gib), now)
		r.Equal(DecisionGrow, d.Kind)
		r.Equal(120*gib, d.TargetSizeBytes)
	})

	t.Run("minimum increment floors small volumes", func(t *testing.T) {
		r := require.New(t)
		p := testPolicy()
		p.MinIncrementBytes = 10 * gib
		rec := &statestore.VolumeRecord{VolumeID: "vol-1", SizeBytes: 20 * gib}
		d := p.Decide(rec, usageAt(0.9, 20*gib), now)
		r.Equal(DecisionGrow, d.Kind)
		r.Equal(30*gib, d.TargetSizeBytes)
	})

	t.Run("at cap suppressed even when utilization is high", func(t *testing.T) {
		r := require.New(t)
		rec := &statestore.VolumeRecord{VolumeID: "vol-1", SizeBytes: 500 * gib}
		d := testPolicy().Decide(rec, usageAt(0.95, 500*gib), now)
		r.Equal(DecisionSuppressed, d.Kind)
		r.Equal(ReasonAtCap, d.Reason)
	})

	t.Run("cooldown suppresses before in-flight check", func(t *testing.T) {
		r := require.New(t)
		rec := &statestore.VolumeRecord{
			VolumeID:      "vol-1",
			SizeBytes:     120 * gib,
			CooldownUntil: now.Add(5 * time.Minute),
			Attempt: &statestore.ResizeAttempt{
				State: statestore.AttemptProvisioning,
			},
		}
		d := testPolicy().Decide(rec, usageAt(0.9, 120*gib), now)
		r.Equal(DecisionSuppressed, d.Kind)
		r.Equal(ReasonCooldown, d.Reason)
	})

	t.Run("cooldown expiry allows growth again", func(t *testing.T) {
		r := require.New(t)
		rec := &statestore.VolumeRecord{
			VolumeID:      "vol-1",
			SizeBytes:     120 * gib,
			CooldownUntil: now.Add(-time.Minute),
		}
		d := testPolicy().Decide(rec, usageAt(0.9, 120*gib), now)
		r.Equal(DecisionGrow, d.Kind)
	})

	t.Run("in-flight attempt suppresses new growth", func(t *testing.T) {
		r := require.New(t)
		rec := &statestore.VolumeRecord{
			VolumeID:  "vol-1",
			SizeBytes: 100 * gib,
			Attempt: &statestore.ResizeAttempt{
				State: statestore.AttemptProvisioning,
			},
		}
		d := testPolicy().Decide(rec, usageAt(0.9, 100*gib), now)
		r.Equal(DecisionSuppressed, d.Kind)
		r.Equal(ReasonInFlight, d.Reason)
	})

	t.Run("terminal attempt does not suppress", func(t *testing.T) {
		r := require.New(t)
		rec := &statestore.VolumeRecord{
			VolumeID:  "vol-1",
			SizeBytes: 100 * gib,
			Attempt: &statestore.ResizeAttempt{
				State:   statestore.AttemptFailed,
				Outcome: statestore.OutcomeFailed,
			},
		}
		d := testPolicy().Decide(rec, usageAt(0.9, 100*gib), now)
		r.Equal(DecisionGrow, d.Kind)
	})

	t.Run("growth clamps to cap", func(t *testing.T) {
		r := require.New(t)
		rec := &statestore.VolumeRecord{VolumeID: "vol-1", SizeBytes: 450 * gib}
		d := testPolicy().Decide(rec, usageAt(0.9, 450*gib), now)
		r.Equal(DecisionGrow, d.Kind)
		r.Equal(500*gib, d.TargetSizeBytes)
	})

	t.Run("no headroom when rounding meets the cap", func(t *testing.T) {
		r := require.New(t)
		p := testPolicy()
		p.MaxSizeBytes = 100*gib + 100 // not a whole GiB past current
		rec := &statestore.VolumeRecord{VolumeID: "vol-1", SizeBytes: 100 * gib}
		d := p.Decide(rec, usageAt(0.9, 100*gib), now)
		r.Equal(DecisionSuppressed, d.Kind)
		r.Equal(ReasonNoHeadroom, d.Reason)
	})
}
