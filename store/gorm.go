package store

import (
	"context"
	"errors"
	"fmt"

	"ranked-queue-service/models"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore is the Postgres-backed Store.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// OpenPostgres connects with the same settings main uses for the service.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table the ranked pipeline touches.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.PlayerProfile{},
		&models.PlayerElo{},
		&models.QueueEntry{},
		&models.TournamentHistory{},
	)
}

func (s *GormStore) GetProfile(ctx context.Context, name string) (*models.PlayerProfile, error) {
	var p models.PlayerProfile
	if err := s.DB.WithContext(ctx).Where("player_name = ?", name).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormStore) GetBannedFlags(ctx context.Context, names []string) (map[string]bool, error) {
	out := make(map[string]bool, len(names))
	if len(names) == 0 {
		return out, nil
	}
	var rows []models.PlayerProfile
	err := s.DB.WithContext(ctx).
		Select("player_name", "is_banned").
		Where("player_name IN ?", names).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.PlayerName] = r.IsBanned
	}
	return out, nil
}

func (s *GormStore) GetEloRecord(ctx context.Context, name string) (*models.PlayerElo, error) {
	var rec models.PlayerElo
	if err := s.DB.WithContext(ctx).Where("player_name = ?", name).First(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

func (s *GormStore) GetEloRecords(ctx context.Context, names []string) (map[string]*models.PlayerElo, error) {
	out := make(map[string]*models.PlayerElo, len(names))
	if len(names) == 0 {
		return out, nil
	}
	var rows []models.PlayerElo
	if err := s.DB.WithContext(ctx).Where("player_name IN ?", names).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].PlayerName] = &rows[i]
	}
	return out, nil
}

func (s *GormStore) CreateEloRecord(ctx context.Context, rec *models.PlayerElo) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return translate(s.DB.WithContext(ctx).Create(rec).Error)
}

func (s *GormStore) UpdateEloRecord(ctx context.Context, rec *models.PlayerElo) error {
	res := s.DB.WithContext(ctx).
		Model(&models.PlayerElo{}).
		Where("player_name = ?", rec.PlayerName).
		Updates(map[string]interface{}{
			"elo_rating":                 rec.EloRating,
			"games_played":               rec.GamesPlayed,
			"wins":                       rec.Wins,
			"last_opponent_name":         rec.LastOpponentName,
			"consecutive_opponent_count": rec.ConsecutiveOpponentCount,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListQueueEntries(ctx context.Context) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := s.DB.WithContext(ctx).Order("submitted_at ASC, id ASC").Find(&entries).Error
	return entries, err
}

func (s *GormStore) ListQueue(ctx context.Context, queueID string) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := s.DB.WithContext(ctx).
		Where("queue_id = ?", queueID).
		Order("submitted_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (s *GormStore) CreateQueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return translate(s.DB.WithContext(ctx).Create(entry).Error)
}

func (s *GormStore) UpdateQueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	res := s.DB.WithContext(ctx).
		Model(&models.QueueEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"score":       entry.Score,
			"kills":       entry.Kills,
			"best_streak": entry.BestStreak,
			"attempts":    entry.Attempts,
			"updated_at":  entry.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteQueue(ctx context.Context, queueID string) (int64, error) {
	res := s.DB.WithContext(ctx).Where("queue_id = ?", queueID).Delete(&models.QueueEntry{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) InsertHistory(ctx context.Context, rows []models.TournamentHistory) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
	}
	// history is append-only; a replayed resolution must not fail on an existing id
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (s *GormStore) ListHistory(ctx context.Context, name string, limit int) ([]models.TournamentHistory, error) {
	var rows []models.TournamentHistory
	q := s.DB.WithContext(ctx).Where("player_name = ?", name).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{DB: tx})
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &DuplicateError{Table: "unknown", Key: err.Error()}
	default:
		return err
	}
}
