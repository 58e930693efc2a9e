package models

import "time"

// PlayerElo is the per-player ranked record. Created lazily, never deleted.
type PlayerElo struct {
	ID                       string    `gorm:"primaryKey;type:uuid" json:"id"`
	PlayerName               string    `gorm:"uniqueIndex;not null" json:"player_name"`
	EloRating                int       `gorm:"not null;default:1000" json:"elo_rating"`
	GamesPlayed              int       `gorm:"not null;default:0" json:"games_played"`
	Wins                     int       `gorm:"not null;default:0" json:"wins"`
	LastOpponentName         *string   `json:"last_opponent_name,omitempty"`
	ConsecutiveOpponentCount int       `gorm:"not null;default:0" json:"consecutive_opponent_count"`
	CreatedAt                time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PlayerElo) TableName() string {
	return "player_elo"
}

// HasFaced reports how many times in a row this player last faced opponent.
func (p *PlayerElo) HasFaced(opponent string) int {
	if p == nil || p.LastOpponentName == nil || *p.LastOpponentName != opponent {
		return 0
	}
	return p.ConsecutiveOpponentCount
}

// RecordOpponent bumps the streak when opponent repeats, otherwise restarts it at 1.
func (p *PlayerElo) RecordOpponent(opponent string) {
	if p.LastOpponentName != nil && *p.LastOpponentName == opponent {
		p.ConsecutiveOpponentCount++
		return
	}
	name := opponent
	p.LastOpponentName = &name
	p.ConsecutiveOpponentCount = 1
}
