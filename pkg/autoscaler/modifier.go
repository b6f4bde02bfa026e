package autoscaler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/castai/volume-autoscaler/pkg/cloudprovider/types"
	"github.com/castai/volume-autoscaler/pkg/logging"
	"github.com/castai/volume-autoscaler/pkg/metrics"
	"github.com/castai/volume-autoscaler/pkg/statestore"
)

// errShutdown aborts an attempt's polling loop without touching its persisted
// state, so a restart can pick it up where it stopped.
var errShutdown = errors.New("shutdown requested")

const submitMaxTries = 4

type volumeProvider interface {
	ModifyVolumeSize(ctx context.Context, volumeID string, targetSizeBytes int64) error
	ModificationStatus(ctx context.Context, volumeID string) (*types.Modification, error)
}

type osResizer interface {
	Grow(ctx context.Context, device, mountpoint, fstype string) error
}

// modifier owns ResizeAttempt records and drives them through the resize
// state machine: requested -> provisioning -> optimizing -> completed, or
// -> failed. Every transition is persisted before the next step runs.
type modifier struct {
	log          *logging.Logger
	provider     volumeProvider
	store        statestore.Store
	resizer      osResizer
	pollInterval time.Duration
	pollTimeout  time.Duration
	cooldown     time.Duration
	timeGetter   func() time.Time
	stopping     func() bool
}

// execute starts a fresh attempt for the volume and drives it to a terminal
// state or to shutdown.
func (m *modifier) execute(ctx context.Context, rec *statestore.VolumeRecord, targetSizeBytes int64) error {
	rec.Attempt = &statestore.ResizeAttempt{
		ID:              uuid.NewString(),
		VolumeID:        rec.VolumeID,
		Seq:             rec.NextAttemptSeq(),
		TargetSizeBytes: targetSizeBytes,
		State:           statestore.AttemptRequested,
		SubmittedAt:     m.timeGetter(),
	}
	// Write-ahead: the requested record lands on disk before the provider
	// call, so a crash in between leaves a recoverable attempt.
	if err := m.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("persisting requested attempt: %w", err)
	}
	return m.drive(ctx, rec)
}

// resume reconciles a persisted non-terminal attempt against live provider
// state, then continues driving it. Called at startup and never duplicates a
// submission the provider already acknowledged.
func (m *modifier) resume(ctx context.Context, rec *statestore.VolumeRecord) error {
	attempt := rec.Attempt
	log := m.log.WithField("volume_id", rec.VolumeID)

	status, err := m.provider.ModificationStatus(ctx, rec.VolumeID)
	switch {
	case errors.Is(err, types.ErrModificationNotFound):
		if attempt.State == statestore.AttemptRequested {
			// Crash between submission and acknowledgment; the provider
			// never saw the call, so submitting now is safe.
			log.Info("resuming requested attempt, re-submitting")
			return m.drive(ctx, rec)
		}
		log.Warnf("provider has no record of attempt seq=%d, abandoning", attempt.Seq)
		return m.finalize(ctx, rec, statestore.AttemptFailed, statestore.OutcomeAbandoned, "provider lost track of modification")
	case err != nil:
		return fmt.Errorf("checking modification status for resume: %w", err)
	}

	if status.TargetSizeBytes != attempt.TargetSizeBytes || staleModification(status, attempt) {
		// The latest provider modification belongs to an earlier attempt.
		if attempt.State == statestore.AttemptRequested {
			log.Info("resuming requested attempt, re-submitting")
			return m.drive(ctx, rec)
		}
		log.Warnf("provider modification targets %d bytes, attempt seq=%d wants %d, abandoning",
			status.TargetSizeBytes, attempt.Seq, attempt.TargetSizeBytes)
		return m.finalize(ctx, rec, statestore.AttemptFailed, statestore.OutcomeAbandoned, "provider modification mismatch")
	}

	// The provider acknowledged this attempt; sync our record and keep going.
	if attempt.State == statestore.AttemptRequested {
		attempt.State = statestore.AttemptProvisioning
		if err := m.store.Put(ctx, rec); err != nil {
			return fmt.Errorf("persisting provisioning state: %w", err)
		}
	}
	log.Infof("resuming attempt seq=%d in state %s", attempt.Seq, attempt.State)
	return m.drive(ctx, rec)
}

// staleModification reports whether the provider modification predates this
// attempt. SubmittedAt is persisted before the provider call, so a
// modification belonging to the attempt cannot start earlier; an old attempt
// with the same target size can. The slack absorbs clock skew between the
// provider and this host.
func staleModification(status *types.Modification, attempt *statestore.ResizeAttempt) bool {
	return !status.StartTime.IsZero() && status.StartTime.Before(attempt.SubmittedAt.Add(-time.Minute))
}

func (m *modifier) drive(ctx context.Context, rec *statestore.VolumeRecord) error {
	attempt := rec.Attempt

	if attempt.State == statestore.AttemptRequested {
		if err := m.submit(ctx, rec); err != nil {
			metrics.ProviderErrorsTotal.Inc()
			return m.finalize(ctx, rec, statestore.AttemptFailed, statestore.OutcomeFailed, fmt.Sprintf("submit failed: %v", err))
		}
		attempt.State = statestore.AttemptProvisioning
		if err := m.store.Put(ctx, rec); err != nil {
			return fmt.Errorf("persisting provisioning state: %w", err)
		}
	}

	return m.poll(ctx, rec)
}

// submit issues the provider resize call, retrying throttled responses with a
// bounded backoff.
func (m *modifier) submit(ctx context.Context, rec *statestore.VolumeRecord) error {
	_, err := backoff.Retry(
		ctx,
		func() (struct{}, error) {
			err := m.provider.ModifyVolumeSize(ctx, rec.VolumeID, rec.Attempt.TargetSizeBytes)
			if err == nil {
				return struct{}{}, nil
			}
			metrics.ProviderErrorsTotal.Inc()
			if errors.Is(err, types.ErrThrottled) {
				metrics.ProviderThrottledTotal.Inc()
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		},
		backoff.WithMaxTries(submitMaxTries),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, d time.Duration) {
			m.log.Warnf("resize submit for %s throttled, retrying in %s: %v", rec.VolumeID, d, err)
		}),
	)
	return err
}

// poll watches the provider modification until the new size is visible to the
// OS, runs the online grow, then waits for full provider completion within
// the remaining polling window.
func (m *modifier) poll(ctx context.Context, rec *statestore.VolumeRecord) error {
	attempt := rec.Attempt
	log := m.log.WithField("volume_id", rec.VolumeID)
	deadline := attempt.SubmittedAt.Add(m.pollTimeout)

	for {
		if m.stopping() {
			log.Warnf("shutdown requested, leaving attempt seq=%d in state %s", attempt.Seq, attempt.State)
			return errShutdown
		}

		status, err := m.provider.ModificationStatus(ctx, rec.VolumeID)
		if err != nil {
			metrics.ProviderErrorsTotal.Inc()
			if errors.Is(err, types.ErrThrottled) {
				metrics.ProviderThrottledTotal.Inc()
			} else if !errors.Is(err, types.ErrModificationNotFound) {
				log.Warnf("polling modification status: %v", err)
			}
			// Transient poll failures ride on the polling window; the
			// deadline below bounds them.
		} else {
			if err := m.observe(ctx, rec, status); err != nil {
				return err
			}
			if attempt.State.Terminal() {
				return nil
			}
		}

		now := m.timeGetter()
		if now.After(deadline) {
			if attempt.OSResized {
				// The size was applied and the filesystem is grown; the
				// provider is merely slow to leave optimizing.
				log.Warnf("poll window ended while optimizing, treating resize as complete")
				return m.finishSuccess(ctx, rec)
			}
			return m.finalize(ctx, rec, statestore.AttemptFailed, statestore.OutcomeFailed, "polling exceeded maximum wait")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// observe folds one provider status report into the attempt.
func (m *modifier) observe(ctx context.Context, rec *statestore.VolumeRecord, status *types.Modification) error {
	attempt := rec.Attempt
	attempt.LastPolledAt = m.timeGetter()

	if status.State == types.ModificationFailed {
		return m.finalize(ctx, rec, statestore.AttemptFailed, statestore.OutcomeFailed,
			fmt.Sprintf("provider reported failure: %s", status.StatusMessage))
	}

	if status.State.SizeVisible() && attempt.State == statestore.AttemptProvisioning {
		attempt.State = statestore.AttemptOptimizing
		if err := m.store.Put(ctx, rec); err != nil {
			return fmt.Errorf("persisting optimizing state: %w", err)
		}
	}

	if status.State.SizeVisible() && !attempt.OSResized {
		if err := m.resizer.Grow(ctx, rec.Device, rec.Mountpoint, rec.Fstype); err != nil {
			return m.finalize(ctx, rec, statestore.AttemptFailed, statestore.OutcomeOSResizeFailed,
				fmt.Sprintf("os-level grow failed: %v", err))
		}
		attempt.OSResized = true
		if err := m.store.Put(ctx, rec); err != nil {
			return fmt.Errorf("persisting os resize progress: %w", err)
		}
	}

	if status.State == types.ModificationCompleted && attempt.OSResized {
		return m.finishSuccess(ctx, rec)
	}
	return m.store.Put(ctx, rec)
}

func (m *modifier) finishSuccess(ctx context.Context, rec *statestore.VolumeRecord) error {
	return m.finalize(ctx, rec, statestore.AttemptCompleted, statestore.OutcomeSuccess, "")
}

// finalize persists the terminal state. Success ratchets the recorded size
// and arms the cooldown; failures leave both untouched so the next tick can
// re-evaluate.
func (m *modifier) finalize(ctx context.Context, rec *statestore.VolumeRecord, state statestore.AttemptState, outcome statestore.Outcome, msg string) error {
	attempt := rec.Attempt
	attempt.State = state
	attempt.Outcome = outcome
	attempt.FailureMessage = msg

	now := m.timeGetter()
	if outcome == statestore.OutcomeSuccess {
		rec.SizeBytes = attempt.TargetSizeBytes
		rec.CooldownUntil = now.Add(m.cooldown)
	}

	metrics.IncResizeAttempt(string(outcome))
	metrics.ResizeDuration.Observe(now.Sub(attempt.SubmittedAt).Seconds())

	log := m.log.WithField("volume_id", rec.VolumeID)
	if outcome == statestore.OutcomeSuccess {
		log.Infof("resize attempt seq=%d completed, volume now %d bytes", attempt.Seq, rec.SizeBytes)
	} else {
		log.Errorf("resize attempt seq=%d finished with outcome %s: %s", attempt.Seq, outcome, msg)
	}

	if err := m.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("persisting terminal attempt state: %w", err)
	}
	return nil
}
