package db

import "time"

type RoundSubmission struct {
	ID          int64  `gorm:"primaryKey"`
	GameID      int64  `gorm:"index;not null;uniqueIndex:idx_submissions_game_user_round"`
	UserID      string `gorm:"size:36;not null;uniqueIndex:idx_submissions_game_user_round"`
	Round       int    `gorm:"not null;uniqueIndex:idx_submissions_game_user_round"`
	Text        string `gorm:"size:280;not null"`
	Sentinel    bool   `gorm:"not null;default:false"`
	Similarity  *float64
	Winning     bool      `gorm:"not null;default:false"`
	SubmittedAt time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}
