package models

import "time"

// TournamentHistory is written once per (tournament, player) at resolution time.
type TournamentHistory struct {
	ID                string    `gorm:"primaryKey;type:uuid" json:"id"`
	TournamentID      string    `gorm:"not null;index" json:"tournament_id"`
	PlayerName        string    `gorm:"not null;index" json:"player_name"`
	Score             int64     `gorm:"not null" json:"score"`
	Kills             int64     `gorm:"default:0" json:"kills"`
	BestStreak        int64     `gorm:"default:0" json:"best_streak"`
	Placement         int       `gorm:"not null" json:"placement"`
	PlayerCount       int       `gorm:"not null" json:"player_count"`
	EloBefore         int       `gorm:"not null" json:"elo_before"`
	EloAfter          int       `gorm:"not null" json:"elo_after"`
	EloChange         int       `gorm:"not null" json:"elo_change"`
	OpponentName      *string   `json:"opponent_name,omitempty"` // 2-player tournaments only
	OpponentScore     *int64    `json:"opponent_score,omitempty"`
	ScoresSynthesized bool      `gorm:"default:false" json:"scores_synthesized"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (TournamentHistory) TableName() string {
	return "tournament_history"
}
