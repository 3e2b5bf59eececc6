package db

import "time"

type Participant struct {
	ID              int64   `gorm:"primaryKey"`
	GameID          int64   `gorm:"index;not null;uniqueIndex:idx_participants_game_user"`
	UserID          string  `gorm:"size:36;not null;uniqueIndex:idx_participants_game_user"`
	Name            string  `gorm:"size:64;not null"`
	IsReady         bool    `gorm:"not null;default:false"`
	IsCurrentMaster bool    `gorm:"not null;default:false"`
	CurrentPrompt   *string `gorm:"size:280"`
	PromptRound     int     `gorm:"not null;default:0"`
	Score           int     `gorm:"not null;default:0"`
	Similarity      *float64
	LastScoredRound int       `gorm:"not null;default:0"`
	Version         int64     `gorm:"not null;default:1"`
	JoinedAt        time.Time `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}
