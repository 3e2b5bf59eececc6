package db

import "time"

type Game struct {
	ID             int64   `gorm:"primaryKey"`
	Code           string  `gorm:"size:8;uniqueIndex;not null"`
	Name           string  `gorm:"size:64;not null"`
	IsPublic       bool    `gorm:"not null"`
	Status         string  `gorm:"size:32;not null;default:waiting;index"`
	CurrentRound   int     `gorm:"not null;default:0"`
	TotalRounds    int     `gorm:"not null;default:5"`
	TargetScore    int     `gorm:"not null;default:5"`
	MasterID       *string `gorm:"size:36"`
	CreatorID      string  `gorm:"size:36;not null"`
	MasterPrompt   *string `gorm:"size:280"`
	MasterImageURL *string `gorm:"type:text"`
	LastError      *string `gorm:"size:280"`
	RoundStartedAt *time.Time
	RoundEndedAt   *time.Time
	EndedAt        *time.Time
	Version        int64     `gorm:"not null;default:1"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
	Participants   []Participant
	Submissions    []RoundSubmission
	Events         []Event
}
