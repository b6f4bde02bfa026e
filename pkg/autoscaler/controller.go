package autoscaler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"github.com/castai/volume-autoscaler/pkg/cloudprovider/types"
	"github.com/castai/volume-autoscaler/pkg/hostfs"
	"github.com/castai/volume-autoscaler/pkg/logging"
	"github.com/castai/volume-autoscaler/pkg/metrics"
	"github.com/castai/volume-autoscaler/pkg/statestore"
)

// ErrAttemptsLeftNonTerminal is returned from Run when shutdown interrupted
// one or more resize attempts. Informational: the attempts are persisted and
// resumed on the next start.
var ErrAttemptsLeftNonTerminal = errors.New("resize attempts left non-terminal at exit")

type Config struct {
	PollInterval         time.Duration `validate:"required"`
	MaxConcurrentResizes int64         `validate:"required"`
	ResizePollInterval   time.Duration `validate:"required"`
	ResizePollTimeout    time.Duration `validate:"required"`
	DryRun               bool
	Policy               Policy
}

type hostClient interface {
	Mounts(ctx context.Context) ([]hostfs.Mount, error)
	Usage(ctx context.Context, mountpoint string) (hostfs.Usage, error)
}

func NewController(
	log *logging.Logger,
	cfg Config,
	provider types.Provider,
	store statestore.Store,
	host hostClient,
	resizer osResizer,
) *Controller {
	c := &Controller{
		log:        log.WithField("component", "autoscaler"),
		cfg:        cfg,
		provider:   provider,
		store:      store,
		host:       host,
		timeGetter: timeGetter(),
		tracked:    map[string]trackedVolume{},
		busy:       map[string]struct{}{},
		sem:        semaphore.NewWeighted(cfg.MaxConcurrentResizes),
	}
	c.modifier = &modifier{
		log:          c.log,
		provider:     provider,
		store:        store,
		resizer:      resizer,
		pollInterval: cfg.ResizePollInterval,
		pollTimeout:  cfg.ResizePollTimeout,
		cooldown:     cfg.Policy.Cooldown,
		timeGetter:   c.timeGetter,
		stopping:     func() bool { return c.stop.Load() },
	}
	return c
}

func timeGetter() func() time.Time {
	return func() time.Time {
		return time.Now().UTC()
	}
}

// trackedVolume is the in-memory pairing of a provider volume with its local
// mount, rebuilt on every discovery pass.
type trackedVolume struct {
	VolumeID   string
	Device     string
	Mountpoint string
	Fstype     string
}

type Controller struct {
	log        *logging.Logger
	cfg        Config
	provider   types.Provider
	store      statestore.Store
	host       hostClient
	modifier   *modifier
	timeGetter func() time.Time

	mu      sync.Mutex
	tracked map[string]trackedVolume
	busy    map[string]struct{}

	instanceID string
	authFailed atomic.Bool
	stop       atomic.Bool
	wg         sync.WaitGroup
	sem        *semaphore.Weighted
}

// Run drives the fixed-cadence monitoring cycle until the context is
// canceled. Before the first tick, non-terminal attempts found in the store
// are reconciled against live provider state.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.reconcile(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return c.drain(ctx)
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

// drain lets in-flight per-volume work finish its current step. Attempts
// interrupted mid-flight stay persisted in their last state.
func (c *Controller) drain(ctx context.Context) error {
	c.stop.Store(true)
	c.log.Info("shutting down, waiting for in-flight volume work")
	c.wg.Wait()

	records, err := c.store.NonTerminal(context.WithoutCancel(ctx))
	if err != nil {
		c.log.Errorf("checking for non-terminal attempts at exit: %v", err)
		return ctx.Err()
	}
	if len(records) > 0 {
		ids := lo.Map(records, func(r *statestore.VolumeRecord, _ int) string { return r.VolumeID })
		c.log.Warnf("exiting with non-terminal resize attempts for volumes %v", ids)
		return ErrAttemptsLeftNonTerminal
	}
	return ctx.Err()
}

// reconcile resolves attempts that were in flight when the previous process
// stopped. Failing to read the store is fatal: running against an unknown
// volume set risks double resizes.
func (c *Controller) reconcile(ctx context.Context) error {
	records, err := c.store.NonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("reading persisted state: %w", err)
	}
	for _, rec := range records {
		c.log.Infof("reconciling in-flight attempt seq=%d for volume %s, state %s",
			rec.Attempt.Seq, rec.VolumeID, rec.Attempt.State)
		if err := c.modifier.resume(ctx, rec); err != nil && !errors.Is(err, errShutdown) {
			c.log.Errorf("reconciling volume %s: %v", rec.VolumeID, err)
		}
	}
	return nil
}

func (c *Controller) runCycle(ctx context.Context) {
	if err := c.discover(ctx); err != nil {
		c.log.Errorf("discovery pass failed: %v", err)
	}

	for _, vol := range c.claimIdle() {
		if !c.sem.TryAcquire(1) {
			// At the concurrency limit; the volume is re-evaluated next tick.
			c.release(vol.VolumeID)
			continue
		}
		c.wg.Add(1)
		go func(vol trackedVolume) {
			defer c.wg.Done()
			defer c.sem.Release(1)
			defer c.release(vol.VolumeID)
			// Detached from the run context: a shutdown lets the current
			// step finish instead of aborting a provider call mid-flight.
			workCtx := context.WithoutCancel(ctx)
			if err := c.processVolume(workCtx, vol); err != nil && !errors.Is(err, errShutdown) {
				c.log.Errorf("processing volume %s: %v", vol.VolumeID, err)
			}
		}(vol)
	}
}

// discover cross-references provider attachments with the local mount table
// and upserts volume records. Re-discovery is idempotent: cooldown, size
// history and in-flight attempts survive. On provider failure the previous
// known set is retained.
func (c *Controller) discover(ctx context.Context) error {
	if c.instanceID == "" {
		id, err := c.provider.InstanceID(ctx)
		if err != nil {
			return fmt.Errorf("resolving instance identity: %w", err)
		}
		c.instanceID = id
	}

	vols, err := c.provider.ListAttachedVolumes(ctx, c.instanceID)
	if err != nil {
		if errors.Is(err, types.ErrUnauthorized) {
			c.authFailed.Store(true)
			c.log.Errorf("provider authorization failed, halting new resize attempts: %v", err)
		}
		return fmt.Errorf("listing attached volumes, keeping previous volume set: %w", err)
	}
	c.authFailed.Store(false)

	mounts, err := c.host.Mounts(ctx)
	if err != nil {
		return err
	}

	tracked := map[string]trackedVolume{}
	for _, vol := range vols {
		mount, ok := matchMount(vol, mounts)
		if !ok {
			continue
		}
		tracked[vol.VolumeID] = trackedVolume{
			VolumeID:   vol.VolumeID,
			Device:     mount.Device,
			Mountpoint: mount.Mountpoint,
			Fstype:     mount.Fstype,
		}
		if c.isBusy(vol.VolumeID) {
			// The running worker owns this record's writes; an upsert from a
			// stale read here could overwrite a transition it just persisted.
			// The record refreshes on a later pass.
			continue
		}
		if err := c.upsertRecord(ctx, vol, mount); err != nil {
			c.log.Errorf("upserting record for volume %s: %v", vol.VolumeID, err)
			delete(tracked, vol.VolumeID)
		}
	}

	c.mu.Lock()
	c.tracked = tracked
	c.mu.Unlock()
	metrics.TrackedVolumes.Set(float64(len(tracked)))
	return nil
}

func (c *Controller) upsertRecord(ctx context.Context, vol types.Volume, mount hostfs.Mount) error {
	rec, err := c.store.Get(ctx, vol.VolumeID)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		rec = &statestore.VolumeRecord{VolumeID: vol.VolumeID, SizeBytes: vol.SizeBytes}
	case err != nil:
		return err
	}
	// Size only ratchets up: a stale provider read never shrinks the record.
	if vol.SizeBytes > rec.SizeBytes {
		rec.SizeBytes = vol.SizeBytes
	}
	rec.Device = mount.Device
	rec.Mountpoint = mount.Mountpoint
	rec.Fstype = mount.Fstype
	return c.store.Put(ctx, rec)
}

// matchMount pairs a provider volume with its local mount, by NVMe volume
// serial first and the provider attachment device name second.
func matchMount(vol types.Volume, mounts []hostfs.Mount) (hostfs.Mount, bool) {
	for _, m := range mounts {
		if id := hostfs.VolumeIDForDevice(m.Device); id != "" && id == vol.VolumeID {
			return m, true
		}
		localDisk := m.Device
		if parent, _, ok := hostfs.SplitPartition(m.Device); ok {
			localDisk = parent
		}
		if vol.Device != "" && hostfs.SameAttachmentDevice(localDisk, vol.Device) {
			return m, true
		}
	}
	return hostfs.Mount{}, false
}

// claimIdle returns tracked volumes that have no worker running and marks
// them busy, serializing work per volume id across ticks.
func (c *Controller) claimIdle() []trackedVolume {
	c.mu.Lock()
	defer c.mu.Unlock()
	var idle []trackedVolume
	for id, vol := range c.tracked {
		if _, running := c.busy[id]; running {
			continue
		}
		c.busy[id] = struct{}{}
		idle = append(idle, vol)
	}
	return idle
}

func (c *Controller) isBusy(volumeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.busy[volumeID]
	return busy
}

func (c *Controller) release(volumeID string) {
	c.mu.Lock()
	delete(c.busy, volumeID)
	c.mu.Unlock()
}

func (c *Controller) forget(volumeID string) {
	c.mu.Lock()
	delete(c.tracked, volumeID)
	c.mu.Unlock()
}

// processVolume runs one sample -> decide -> act cycle for a single volume.
func (c *Controller) processVolume(ctx context.Context, vol trackedVolume) error {
	rec, err := c.store.Get(ctx, vol.VolumeID)
	if err != nil {
		return err
	}

	if rec.InFlight() {
		// A previous cycle (or process) left the attempt mid-flight.
		return c.modifier.resume(ctx, rec)
	}

	usage, err := c.host.Usage(ctx, vol.Mountpoint)
	if err != nil {
		if errors.Is(err, hostfs.ErrMountPointGone) {
			c.log.Infof("mount point %s gone, dropping volume %s from tracking", vol.Mountpoint, vol.VolumeID)
			c.forget(vol.VolumeID)
			return nil
		}
		return err
	}
	metrics.VolumeUtilization.WithLabelValues(vol.Mountpoint).Set(usage.Fraction())

	if rec.Attempt != nil && rec.Attempt.Outcome == statestore.OutcomeOSResizeFailed &&
		usage.TotalBytes < rec.Attempt.TargetSizeBytes {
		// The provider-side grow landed but the OS-level grow failed; blind
		// retries risk data loss, so wait for an operator to resolve it.
		// Clears itself once the filesystem reports the grown size.
		c.log.Errorf("volume %s has a failed os-level resize, operator attention required", vol.VolumeID)
		return nil
	}

	now := c.timeGetter()
	decision := c.cfg.Policy.Decide(rec, usage, now)
	metrics.IncDecision(string(decision.Kind), string(decision.Reason))

	switch decision.Kind {
	case DecisionNoAction:
		c.log.Debugf("volume %s at %.0f%% utilization, no action", vol.VolumeID, usage.Fraction()*100)
	case DecisionSuppressed:
		c.log.Debugf("volume %s growth suppressed: %s", vol.VolumeID, decision.Reason)
	case DecisionGrow:
		if c.authFailed.Load() {
			c.log.Warnf("skipping resize of volume %s: provider authorization failed", vol.VolumeID)
			return nil
		}
		if c.cfg.DryRun {
			c.log.Infof("dry run: would grow volume %s from %d to %d bytes",
				vol.VolumeID, rec.SizeBytes, decision.TargetSizeBytes)
			return nil
		}
		c.log.Infof("growing volume %s from %d to %d bytes", vol.VolumeID, rec.SizeBytes, decision.TargetSizeBytes)
		return c.modifier.execute(ctx, rec, decision.TargetSizeBytes)
	}
	return nil
}
