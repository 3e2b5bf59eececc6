// Package store holds the game entities and the persistence contract the
// phase machine writes through. Every status transition is a conditional
// update on the game row; participant and submission writes are idempotent.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateCode = errors.New("join code already in use")
)

type Status string

const (
	StatusWaiting        Status = "waiting"
	StatusMasterWriting  Status = "masterWriting"
	StatusGenerating     Status = "generating"
	StatusPlayersWriting Status = "playersWriting"
	StatusComparing      Status = "comparing"
	StatusScoring        Status = "scoring"
	StatusFinished       Status = "finished"
)

// Awaited reports whether the phase waits on player input under a deadline.
func (s Status) Awaited() bool {
	return s == StatusMasterWriting || s == StatusPlayersWriting
}

// Automatic reports whether the phase is driven by the server without input.
func (s Status) Automatic() bool {
	return s == StatusGenerating || s == StatusComparing || s == StatusScoring
}

type Game struct {
	ID             int64      `json:"id"`
	Code           string     `json:"code"`
	Name           string     `json:"name"`
	IsPublic       bool       `json:"isPublic"`
	Status         Status     `json:"status"`
	CurrentRound   int        `json:"currentRound"`
	TotalRounds    int        `json:"totalRounds"`
	TargetScore    int        `json:"targetScore"`
	MasterID       string     `json:"masterId,omitempty"`
	CreatorID      string     `json:"creatorId"`
	MasterPrompt   string     `json:"masterPrompt,omitempty"`
	MasterImageURL string     `json:"masterImageUrl,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	RoundStartedAt *time.Time `json:"roundStartedAt,omitempty"`
	RoundEndedAt   *time.Time `json:"roundEndedAt,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type Participant struct {
	ID              int64     `json:"id"`
	GameID          int64     `json:"gameId"`
	UserID          string    `json:"userId"`
	Name            string    `json:"name"`
	IsReady         bool      `json:"isReady"`
	IsCurrentMaster bool      `json:"isCurrentMaster"`
	CurrentPrompt   string    `json:"currentPrompt,omitempty"`
	PromptRound     int       `json:"promptRound"`
	Score           int       `json:"score"`
	Similarity      *float64  `json:"similarity,omitempty"`
	LastScoredRound int       `json:"lastScoredRound"`
	Version         int64     `json:"version"`
	JoinedAt        time.Time `json:"joinedAt"`
}

type Submission struct {
	ID          int64     `json:"id"`
	GameID      int64     `json:"gameId"`
	UserID      string    `json:"userId"`
	Round       int       `json:"round"`
	Text        string    `json:"text"`
	Sentinel    bool      `json:"sentinel"`
	Similarity  *float64  `json:"similarity,omitempty"`
	Winning     bool      `json:"winning"`
	SubmittedAt time.Time `json:"submittedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Event struct {
	ID        int64           `json:"id"`
	GameID    int64           `json:"gameId"`
	Round     int             `json:"round"`
	UserID    string          `json:"userId,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Guard is the expected state a conditional game update must observe.
// Status is always compared; Round and MasterID only when non-zero.
type Guard struct {
	Status   Status
	Round    int
	MasterID string
}

func (g Guard) Matches(game Game) bool {
	if game.Status != g.Status {
		return false
	}
	if g.Round != 0 && game.CurrentRound != g.Round {
		return false
	}
	if g.MasterID != "" && game.MasterID != g.MasterID {
		return false
	}
	return true
}

// GameChanges lists the columns a conditional update writes. Nil fields are
// left untouched. An empty string or a zero time clears the column.
type GameChanges struct {
	Status         *Status
	CurrentRound   *int
	MasterID       *string
	MasterPrompt   *string
	MasterImageURL *string
	LastError      *string
	RoundStartedAt *time.Time
	RoundEndedAt   *time.Time
	EndedAt        *time.Time
}

// Apply copies the changes onto game. Version and UpdatedAt are the caller's.
func (c GameChanges) Apply(game *Game) {
	if c.Status != nil {
		game.Status = *c.Status
	}
	if c.CurrentRound != nil {
		game.CurrentRound = *c.CurrentRound
	}
	if c.MasterID != nil {
		game.MasterID = *c.MasterID
	}
	if c.MasterPrompt != nil {
		game.MasterPrompt = *c.MasterPrompt
	}
	if c.MasterImageURL != nil {
		game.MasterImageURL = *c.MasterImageURL
	}
	if c.LastError != nil {
		game.LastError = *c.LastError
	}
	if c.RoundStartedAt != nil {
		game.RoundStartedAt = timeOrNil(*c.RoundStartedAt)
	}
	if c.RoundEndedAt != nil {
		game.RoundEndedAt = timeOrNil(*c.RoundEndedAt)
	}
	if c.EndedAt != nil {
		game.EndedAt = timeOrNil(*c.EndedAt)
	}
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	value := t
	return &value
}

// Ptr returns a pointer to v, for building GameChanges.
func Ptr[T any](v T) *T {
	return &v
}

// Store is the persistence contract. Implementations must make UpdateGameIf
// atomic with respect to concurrent callers.
type Store interface {
	CreateGame(ctx context.Context, game Game) (Game, error)
	GetGame(ctx context.Context, id int64) (Game, error)
	GetGameByCode(ctx context.Context, code string) (Game, error)
	// UpdateGameIf applies changes only when the stored row matches guard.
	// It returns the current row and whether the update applied.
	UpdateGameIf(ctx context.Context, id int64, guard Guard, changes GameChanges) (Game, bool, error)

	ListParticipants(ctx context.Context, gameID int64) ([]Participant, error)
	GetParticipant(ctx context.Context, gameID int64, userID string) (Participant, error)
	// AddParticipant inserts the row unless (game, user) already exists, in
	// which case the existing row is returned with created=false.
	AddParticipant(ctx context.Context, p Participant) (Participant, bool, error)
	SetReady(ctx context.Context, gameID int64, userID string, ready bool) (Participant, error)
	SetGuess(ctx context.Context, gameID int64, userID string, round int, text string) (Participant, error)
	SetSimilarities(ctx context.Context, gameID int64, round int, scores map[string]float64) ([]Participant, error)
	// AwardPoints adds points once per round; a second call for the same
	// round is a no-op and reports false.
	AwardPoints(ctx context.Context, gameID int64, userID string, round, points int) (Participant, bool, error)
	// ResetParticipants marks master as the only current master when the
	// game row still names it for round, and clears the guess state of rows
	// whose promptRound is older than round. Safe to repeat. It returns
	// every participant row after the reset.
	ResetParticipants(ctx context.Context, gameID int64, masterID string, round int) ([]Participant, error)
	RemoveParticipant(ctx context.Context, gameID int64, userID string) (Participant, bool, error)

	// UpsertSubmission writes a guess only while the game is collecting
	// guesses for s.Round, and never replaces a sentinel row. It reports
	// false when either condition fails.
	UpsertSubmission(ctx context.Context, s Submission) (Submission, bool, error)
	// InsertSubmissionIfAbsent never overwrites an existing submission.
	InsertSubmissionIfAbsent(ctx context.Context, s Submission) (Submission, bool, error)
	ListSubmissions(ctx context.Context, gameID int64, round int) ([]Submission, error)
	RecordJudgement(ctx context.Context, gameID int64, round int, scores map[string]float64, winnerID string) error

	AppendEvent(ctx context.Context, e Event) error
	ListEvents(ctx context.Context, gameID int64, limit int) ([]Event, error)
}
