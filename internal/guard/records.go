package guard

import (
	"context"
	"sync"

	"github.com/rcliao/memvault/internal/model"
	"github.com/rcliao/memvault/internal/store"
)

// MemoryRecords keeps passphrase records in process memory.
type MemoryRecords struct {
	mu   sync.Mutex
	recs map[string]model.PassphraseRecord
}

// NewMemoryRecords returns an empty MemoryRecords.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{recs: make(map[string]model.PassphraseRecord)}
}

func (m *MemoryRecords) GetRecord(_ context.Context, userID string) (*model.PassphraseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryRecords) PutRecord(_ context.Context, rec *model.PassphraseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.UserID] = *rec
	return nil
}

func (m *MemoryRecords) DeleteRecord(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, userID)
	return nil
}
