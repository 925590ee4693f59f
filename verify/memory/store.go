// Package memory is the in-memory verify.Store, used in tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bivex/iap-bridge/verify"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]*verify.Record // keyed by receipt hash
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]*verify.Record)}
}

// Reset drops all records. Test helper.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*verify.Record)
}

func (s *Store) CreateRecord(ctx context.Context, record *verify.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ReceiptHash]; ok {
		return verify.ErrExists
	}
	s.records[record.ReceiptHash] = record.Clone()
	return nil
}

func (s *Store) GetByReceiptHash(ctx context.Context, hash string) (*verify.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[hash]
	if !ok {
		return nil, verify.ErrNotFound
	}
	return record.Clone(), nil
}

func (s *Store) GetByUser(ctx context.Context, userID string) ([]*verify.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*verify.Record
	for _, record := range s.records {
		if record.UserID == userID {
			out = append(out, record.Clone())
		}
	}
	if len(out) == 0 {
		return nil, verify.ErrNotFound
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateRecord(ctx context.Context, record *verify.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ReceiptHash]; !ok {
		return verify.ErrNotFound
	}
	s.records[record.ReceiptHash] = record.Clone()
	return nil
}

func (s *Store) ListRenewing(ctx context.Context, cutoff time.Time, limit int) ([]*verify.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*verify.Record
	for _, record := range s.records {
		if record.State != verify.RecordStateActive || !record.AutoRenewing {
			continue
		}
		if record.ExpiresAt.IsZero() || record.ExpiresAt.After(cutoff) {
			continue
		}
		out = append(out, record.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
