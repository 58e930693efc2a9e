package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"ranked-queue-service/models"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. Used for local development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	profiles map[string]models.PlayerProfile
	elo      map[string]models.PlayerElo
	queue    map[string]models.QueueEntry
	seq      map[string]int64 // insertion order of queue entries
	nextSeq  int64
	history  []models.TournamentHistory
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]models.PlayerProfile),
		elo:      make(map[string]models.PlayerElo),
		queue:    make(map[string]models.QueueEntry),
		seq:      make(map[string]int64),
	}
}

// PutProfile seeds a profile row; the ranked pipeline itself never writes profiles.
func (m *MemoryStore) PutProfile(p models.PlayerProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.profiles[p.PlayerName] = p
}

// History returns a copy of every history row ever inserted.
func (m *MemoryStore) History() []models.TournamentHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

func (m *MemoryStore) GetProfile(_ context.Context, name string) (*models.PlayerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetBannedFlags(_ context.Context, names []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(names))
	for _, n := range names {
		if p, ok := m.profiles[n]; ok {
			out[n] = p.IsBanned
		}
	}
	return out, nil
}

func (m *MemoryStore) GetEloRecord(_ context.Context, name string) (*models.PlayerElo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.elo[name]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneElo(rec), nil
}

func (m *MemoryStore) GetEloRecords(_ context.Context, names []string) (map[string]*models.PlayerElo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*models.PlayerElo, len(names))
	for _, n := range names {
		if rec, ok := m.elo[n]; ok {
			out[n] = cloneElo(rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateEloRecord(_ context.Context, rec *models.PlayerElo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.elo[rec.PlayerName]; ok {
		return &DuplicateError{Table: "player_elo", Key: rec.PlayerName}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.elo[rec.PlayerName] = *cloneElo(*rec)
	return nil
}

func (m *MemoryStore) UpdateEloRecord(_ context.Context, rec *models.PlayerElo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.elo[rec.PlayerName]; !ok {
		return ErrNotFound
	}
	rec.UpdatedAt = time.Now()
	m.elo[rec.PlayerName] = *cloneElo(*rec)
	return nil
}

func (m *MemoryStore) ListQueueEntries(_ context.Context) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedEntries(func(models.QueueEntry) bool { return true }), nil
}

func (m *MemoryStore) ListQueue(_ context.Context, queueID string) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedEntries(func(e models.QueueEntry) bool { return e.QueueID == queueID }), nil
}

func (m *MemoryStore) CreateQueueEntry(_ context.Context, entry *models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.queue {
		if e.PlayerName == entry.PlayerName && e.QueueID == entry.QueueID {
			return &DuplicateError{Table: "ranked_queue", Key: entry.PlayerName + "/" + entry.QueueID}
		}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.nextSeq++
	m.seq[entry.ID] = m.nextSeq
	m.queue[entry.ID] = *entry
	return nil
}

func (m *MemoryStore) UpdateQueueEntry(_ context.Context, entry *models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queue[entry.ID]; !ok {
		return ErrNotFound
	}
	m.queue[entry.ID] = *entry
	return nil
}

func (m *MemoryStore) DeleteQueue(_ context.Context, queueID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.queue {
		if e.QueueID == queueID {
			delete(m.queue, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) InsertHistory(_ context.Context, rows []models.TournamentHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, r := range rows {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		m.history = append(m.history, r)
	}
	return nil
}

func (m *MemoryStore) ListHistory(_ context.Context, name string, limit int) ([]models.TournamentHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TournamentHistory
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].PlayerName != name {
			continue
		}
		out = append(out, m.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// WithinTx serialises transactions and restores the previous state when fn fails.
func (m *MemoryStore) WithinTx(_ context.Context, fn func(tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	elo     map[string]models.PlayerElo
	queue   map[string]models.QueueEntry
	history []models.TournamentHistory
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memorySnapshot{
		elo:     make(map[string]models.PlayerElo, len(m.elo)),
		queue:   make(map[string]models.QueueEntry, len(m.queue)),
		history: slices.Clone(m.history),
	}
	for k, v := range m.elo {
		s.elo[k] = *cloneElo(v)
	}
	for k, v := range m.queue {
		s.queue[k] = v
	}
	return s
}

func (m *MemoryStore) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elo, m.queue, m.history = s.elo, s.queue, s.history
}

func (m *MemoryStore) sortedEntries(keep func(models.QueueEntry) bool) []models.QueueEntry {
	out := make([]models.QueueEntry, 0, len(m.queue))
	for _, e := range m.queue {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return m.seq[out[i].ID] < m.seq[out[j].ID]
	})
	return out
}

func cloneElo(rec models.PlayerElo) *models.PlayerElo {
	c := rec
	if rec.LastOpponentName != nil {
		name := *rec.LastOpponentName
		c.LastOpponentName = &name
	}
	return &c
}
