package statestore

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// NewMemoryStore returns a non-durable Store used in tests and by the noop
// provider mode.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string][]byte{}}
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]*VolumeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]*VolumeRecord, 0, len(s.records))
	for _, v := range s.records {
		var rec VolumeRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, nil
}

func (s *MemoryStore) Get(ctx context.Context, volumeID string) (*VolumeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[volumeID]
	if !ok {
		return nil, ErrNotFound
	}
	var rec VolumeRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MemoryStore) Put(ctx context.Context, record *VolumeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.records[record.VolumeID]; ok {
		var existing VolumeRecord
		if err := json.Unmarshal(v, &existing); err != nil {
			return err
		}
		if err := guardAttempt(&existing, record); err != nil {
			return err
		}
	}
	record.UpdatedAt = time.Now().UTC()
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.records[record.VolumeID] = encoded
	return nil
}

func (s *MemoryStore) NonTerminal(ctx context.Context) ([]*VolumeRecord, error) {
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

func (s *MemoryStore) Close() error {
	return nil
}
