package models

import "time"

// PlayerProfile is the leaderboard/profile row owned by the game's account system.
// The ranked service only reads it: the sealed password hash and the ban flag.
type PlayerProfile struct {
	ID           string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	PlayerName   string    `gorm:"uniqueIndex;not null" json:"player_name"`
	PasswordHash string    `gorm:"type:text;not null" json:"-"` // encrypted copy of the one-way hash
	IsBanned     bool      `gorm:"default:false" json:"is_banned"`
	HighScore    int64     `gorm:"default:0" json:"high_score"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PlayerProfile) TableName() string {
	return "leaderboard"
}
