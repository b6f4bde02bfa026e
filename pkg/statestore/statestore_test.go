package statestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(volumeID string) *VolumeRecord {
	return &VolumeRecord{
		VolumeID:   volumeID,
		Device:     "/dev/xvdf",
		Mountpoint: "/data",
		Fstype:     "ext4",
		SizeBytes:  100 << 30,
	}
}

func TestBoltStore(t *testing.T) {
	ctx := context.Background()

	t.Run("get missing record", func(t *testing.T) {
		r := require.New(t)
		store := openTestStore(t)
		_, err := store.Get(ctx, "vol-missing")
		r.ErrorIs(err, ErrNotFound)
	})

	t.Run("put and get roundtrip", func(t *testing.T) {
		r := require.New(t)
		store := openTestStore(t)
		rec := testRecord("vol-1")
		rec.Attempt = &ResizeAttempt{
			ID:              "attempt-1",
			VolumeID:        "vol-1",
			Seq:             1,
			TargetSizeBytes: 120 << 30,
			State:           AttemptProvisioning,
			SubmittedAt:     time.Now().UTC(),
		}
		r.NoError(store.Put(ctx, rec))

		got, err := store.Get(ctx, "vol-1")
		r.NoError(err)
		r.Equal(rec.VolumeID, got.VolumeID)
		r.Equal(rec.SizeBytes, got.SizeBytes)
		r.Equal(rec.Attempt.ID, got.Attempt.ID)
		r.Equal(AttemptProvisioning, got.Attempt.State)
		r.False(got.UpdatedAt.IsZero())
	})

	t.Run("survives reopen", func(t *testing.T) {
		r := require.New(t)
		path := filepath.Join(t.TempDir(), "state.db")
		store, err := NewBoltStore(path)
		r.NoError(err)
		r.NoError(store.Put(ctx, testRecord("vol-1")))
		r.NoError(store.Close())

		reopened, err := NewBoltStore(path)
		r.NoError(err)
		defer reopened.Close()
		got, err := reopened.Get(ctx, "vol-1")
		r.NoError(err)
		r.Equal(int64(100<<30), got.SizeBytes)
	})

	t.Run("rejects a second in-flight attempt", func(t *testing.T) {
		r := require.New(t)
		store := openTestStore(t)
		rec := testRecord("vol-1")
		rec.Attempt = &ResizeAttempt{ID: "attempt-1", Seq: 1, State: AttemptProvisioning}
		r.NoError(store.Put(ctx, rec))

		conflicting := testRecord("vol-1")
		conflicting.Attempt = &ResizeAttempt{ID: "attempt-2", Seq: 2, State: AttemptRequested}
		r.ErrorIs(store.Put(ctx, conflicting), ErrAttemptInFlight)

		// Dropping an in-flight attempt silently is also rejected.
		bare := testRecord("vol-1")
		r.ErrorIs(store.Put(ctx, bare), ErrAttemptInFlight)

		// Updating the same attempt is fine.
		rec.Attempt.State = AttemptOptimizing
		r.NoError(store.Put(ctx, rec))

		// Once terminal, a fresh attempt is accepted.
		rec.Attempt.State = AttemptFailed
		rec.Attempt.Outcome = OutcomeFailed
		r.NoError(store.Put(ctx, rec))
		next := testRecord("vol-1")
		next.Attempt = &ResizeAttempt{ID: "attempt-2", Seq: 2, State: AttemptRequested}
		r.NoError(store.Put(ctx, next))
	})

	t.Run("non-terminal filters by attempt state", func(t *testing.T) {
		r := require.New(t)
		store := openTestStore(t)

		inFlight := testRecord("vol-1")
		inFlight.Attempt = &ResizeAttempt{ID: "a1", Seq: 1, State: AttemptOptimizing}
		r.NoError(store.Put(ctx, inFlight))

		done := testRecord("vol-2")
		done.Attempt = &ResizeAttempt{ID: "a2", Seq: 1, State: AttemptCompleted, Outcome: OutcomeSuccess}
		r.NoError(store.Put(ctx, done))

		r.NoError(store.Put(ctx, testRecord("vol-3")))

		records, err := store.NonTerminal(ctx)
		r.NoError(err)
		r.Len(records, 1)
		r.Equal("vol-1", records[0].VolumeID)

		all, err := store.LoadAll(ctx)
		r.NoError(err)
		r.Len(all, 3)
	})
}

func TestMemoryStoreGuard(t *testing.T) {
	ctx := context.Background()
	r := require.New(t)
	store := NewMemoryStore()

	rec := testRecord("vol-1")
	rec.Attempt = &ResizeAttempt{ID: "attempt-1", Seq: 1, State: AttemptProvisioning}
	r.NoError(store.Put(ctx, rec))

	conflicting := testRecord("vol-1")
	conflicting.Attempt = &ResizeAttempt{ID: "attempt-2", Seq: 2, State: AttemptRequested}
	r.ErrorIs(store.Put(ctx, conflicting), ErrAttemptInFlight)

	// Returned records are copies; mutating them must not affect the store.
	got, err := store.Get(ctx, "vol-1")
	r.NoError(err)
	got.SizeBytes = 0
	again, err := store.Get(ctx, "vol-1")
	r.NoError(err)
	r.Equal(int64(100<<30), again.SizeBytes)
}

func TestVolumeRecord(t *testing.T) {
	r := require.New(t)

	rec := testRecord("vol-1")
	r.False(rec.InFlight())
	r.Equal(uint64(1), rec.NextAttemptSeq())

	rec.Attempt = &ResizeAttempt{ID: "a1", Seq: 3, State: AttemptProvisioning}
	r.True(rec.InFlight())
	r.Equal(uint64(4), rec.NextAttemptSeq())

	rec.Attempt.State = AttemptCompleted
	r.False(rec.InFlight())
}
