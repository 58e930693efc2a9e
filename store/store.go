// Package store is the only I/O path of the ranked pipeline. Every component reads and
// writes profiles, ELO records, queue entries and history through the Store interface.
package store

import (
	"context"
	"errors"
	"fmt"

	"ranked-queue-service/models"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("record not found")

// DuplicateError reports a unique-key violation on insert.
type DuplicateError struct {
	Table string
	Key   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s row for %s", e.Table, e.Key)
}

type Store interface {
	// GetProfile returns the leaderboard profile for name or ErrNotFound.
	GetProfile(ctx context.Context, name string) (*models.PlayerProfile, error)
	// GetBannedFlags returns name -> banned for every known name in one round trip.
	// Unknown names are absent from the map.
	GetBannedFlags(ctx context.Context, names []string) (map[string]bool, error)

	GetEloRecord(ctx context.Context, name string) (*models.PlayerElo, error)
	GetEloRecords(ctx context.Context, names []string) (map[string]*models.PlayerElo, error)
	CreateEloRecord(ctx context.Context, rec *models.PlayerElo) error
	UpdateEloRecord(ctx context.Context, rec *models.PlayerElo) error

	// ListQueueEntries returns every live entry across all pools ordered by submitted_at.
	ListQueueEntries(ctx context.Context) ([]models.QueueEntry, error)
	// ListQueue returns the entries of one pool ordered by submitted_at.
	ListQueue(ctx context.Context, queueID string) ([]models.QueueEntry, error)
	CreateQueueEntry(ctx context.Context, entry *models.QueueEntry) error
	UpdateQueueEntry(ctx context.Context, entry *models.QueueEntry) error
	// DeleteQueue removes every entry of a pool and reports how many rows went away.
	DeleteQueue(ctx context.Context, queueID string) (int64, error)

	InsertHistory(ctx context.Context, rows []models.TournamentHistory) error
	ListHistory(ctx context.Context, name string, limit int) ([]models.TournamentHistory, error)

	// WithinTx runs fn against a transactional view of the store. Drivers without
	// transactions run fn directly.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
