package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var volumesBucket = []byte("volumes")

// NewBoltStore opens (or creates) the state database at path. Failing to open
// the store is fatal for the daemon: operating on an unknown volume set is
// worse than not starting.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening state db at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(volumesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating state bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

type BoltStore struct {
	db *bolt.DB
}

func (s *BoltStore) LoadAll(ctx context.Context) ([]*VolumeRecord, error) {
	var records []*VolumeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(volumesBucket).ForEach(func(k, v []byte) error {
			var rec VolumeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding record %s: %w", k, err)
			}
			records = append(records, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BoltStore) Get(ctx context.Context, volumeID string) (*VolumeRecord, error) {
	var rec *VolumeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(volumesBucket).Get([]byte(volumeID))
		if v == nil {
			return ErrNotFound
		}
		rec = &VolumeRecord{}
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BoltStore) Put(ctx context.Context, record *VolumeRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(volumesBucket)
		if v := bucket.Get([]byte(record.VolumeID)); v != nil {
			var existing VolumeRecord
			if err := json.Unmarshal(v, &existing); err != nil {
				return fmt.Errorf("decoding record %s: %w", record.VolumeID, err)
			}
			if err := guardAttempt(&existing, record); err != nil {
				return err
			}
		}
		record.UpdatedAt = time.Now().UTC()
		encoded, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", record.VolumeID, err)
		}
		return bucket.Put([]byte(record.VolumeID), encoded)
	})
}

func (s *BoltStore) NonTerminal(ctx context.Context) ([]*VolumeRecord, error) {
	records, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	var inFlight []*VolumeRecord
	for _, rec := range records {
		if rec.InFlight() {
			inFlight = append(inFlight, rec)
		}
	}
	return inFlight, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
