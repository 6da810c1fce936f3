package feedback

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/feedbackd/pkg/types"
)

// MemoryStore keeps records in memory. It backs the "memory" store option and
// tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []types.FeedbackRecord
	seq     int
	err     error
}

var _ Store = (*MemoryStore)(nil)

// Save implements [Store].
func (m *MemoryStore) Save(ctx context.Context, rec types.FeedbackRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.seq++
	rec.ID = strconv.Itoa(m.seq)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records = append(m.records, rec)
	return rec.ID, nil
}

// FailWith makes every later Save return err. Nil restores normal operation.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Records returns a copy of the saved records in save order.
func (m *MemoryStore) Records() []types.FeedbackRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.FeedbackRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }
