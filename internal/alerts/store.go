package alerts

import (
	"sync"

	"firewatch/internal/model"
)

// Store keeps the most recent alerts in memory for the status API.
type Store struct {
	mu    sync.RWMutex
	buf   []model.AlertRecord
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(rec model.AlertRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rec)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = rec
}

func (s *Store) List(limit int) []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.AlertRecord, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts int64) []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AlertRecord, 0)
	for _, rec := range s.buf {
		if rec.Timestamp >= ts {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
