package models

import "time"

// QueueEntry is one player's live submission state inside one ranked pool.
// A pool is every row sharing QueueID; it is never persisted on its own.
type QueueEntry struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	PlayerName  string    `gorm:"not null;uniqueIndex:idx_queue_player" json:"player_name"`
	QueueID     string    `gorm:"not null;index;uniqueIndex:idx_queue_player" json:"queue_id"`
	Score       int64     `gorm:"not null;default:0" json:"score"`
	Kills       int64     `gorm:"not null;default:0" json:"kills"`
	BestStreak  int64     `gorm:"not null;default:0" json:"best_streak"`
	Attempts    int       `gorm:"not null;default:1" json:"attempts"`
	SubmittedAt time.Time `gorm:"not null;index" json:"submitted_at"` // set once, anchors timeouts
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (QueueEntry) TableName() string {
	return "ranked_queue"
}
