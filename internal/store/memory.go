package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

type submissionKey struct {
	gameID int64
	userID string
	round  int
}

// Memory is an in-process Store used by tests and single-node development.
type Memory struct {
	mu           sync.Mutex
	now          func() time.Time
	nextID       int64
	games        map[int64]Game
	codes        map[string]int64
	participants map[int64][]Participant
	submissions  map[submissionKey]Submission
	events       map[int64][]Event
}

func NewMemory() *Memory {
	return &Memory{
		now:          func() time.Time { return time.Now().UTC() },
		games:        make(map[int64]Game),
		codes:        make(map[string]int64),
		participants: make(map[int64][]Participant),
		submissions:  make(map[submissionKey]Submission),
		events:       make(map[int64][]Event),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateGame(_ context.Context, game Game) (Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	game.Code = strings.ToUpper(game.Code)
	if _, exists := m.codes[game.Code]; exists {
		return Game{}, ErrDuplicateCode
	}
	now := m.now()
	game.ID = m.id()
	game.Version = 1
	game.CreatedAt = now
	game.UpdatedAt = now
	if game.Status == "" {
		game.Status = StatusWaiting
	}
	m.games[game.ID] = game
	m.codes[game.Code] = game.ID
	return cloneGame(game), nil
}

func (m *Memory) GetGame(_ context.Context, id int64) (Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	game, ok := m.games[id]
	if !ok {
		return Game{}, ErrNotFound
	}
	return cloneGame(game), nil
}

func (m *Memory) GetGameByCode(_ context.Context, code string) (Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.codes[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Game{}, ErrNotFound
	}
	return cloneGame(m.games[id]), nil
}

func (m *Memory) UpdateGameIf(_ context.Context, id int64, guard Guard, changes GameChanges) (Game, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	game, ok := m.games[id]
	if !ok {
		return Game{}, false, ErrNotFound
	}
	if !guard.Matches(game) {
		return cloneGame(game), false, nil
	}
	changes.Apply(&game)
	game.Version++
	game.UpdatedAt = m.now()
	m.games[id] = game
	return cloneGame(game), true, nil
}

func (m *Memory) ListParticipants(_ context.Context, gameID int64) ([]Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneParticipants(m.participants[gameID]), nil
}

func (m *Memory) GetParticipant(_ context.Context, gameID int64, userID string) (Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.findParticipant(gameID, userID)
	if idx < 0 {
		return Participant{}, ErrNotFound
	}
	return cloneParticipant(m.participants[gameID][idx]), nil
}

func (m *Memory) findParticipant(gameID int64, userID string) int {
	for i, p := range m.participants[gameID] {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func (m *Memory) AddParticipant(_ context.Context, p Participant) (Participant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[p.GameID]; !ok {
		return Participant{}, false, ErrNotFound
	}
	if idx := m.findParticipant(p.GameID, p.UserID); idx >= 0 {
		return cloneParticipant(m.participants[p.GameID][idx]), false, nil
	}
	p.ID = m.id()
	p.Version = 1
	if p.JoinedAt.IsZero() {
		p.JoinedAt = m.now()
	}
	m.participants[p.GameID] = append(m.participants[p.GameID], p)
	return cloneParticipant(p), true, nil
}

func (m *Memory) mutateParticipant(gameID int64, userID string, fn func(*Participant) bool) (Participant, bool, error) {
	idx := m.findParticipant(gameID, userID)
	if idx < 0 {
		return Participant{}, false, ErrNotFound
	}
	p := &m.participants[gameID][idx]
	if !fn(p) {
		return cloneParticipant(*p), false, nil
	}
	p.Version++
	return cloneParticipant(*p), true, nil
}

func (m *Memory) SetReady(_ context.Context, gameID int64, userID string, ready bool) (Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, _, err := m.mutateParticipant(gameID, userID, func(p *Participant) bool {
		if p.IsReady == ready {
			return false
		}
		p.IsReady = ready
		return true
	})
	return p, err
}

func (m *Memory) SetGuess(_ context.Context, gameID int64, userID string, round int, text string) (Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, _, err := m.mutateParticipant(gameID, userID, func(p *Participant) bool {
		if p.PromptRound > round {
			return false
		}
		p.CurrentPrompt = text
		p.PromptRound = round
		return true
	})
	return p, err
}

func (m *Memory) SetSimilarities(_ context.Context, gameID int64, round int, scores map[string]float64) ([]Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated := make([]Participant, 0, len(scores))
	for userID, score := range scores {
		value := score
		p, changed, err := m.mutateParticipant(gameID, userID, func(p *Participant) bool {
			if p.PromptRound > round {
				return false
			}
			p.Similarity = &value
			p.PromptRound = round
			return true
		})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if changed {
			updated = append(updated, p)
		}
	}
	return updated, nil
}

func (m *Memory) AwardPoints(_ context.Context, gameID int64, userID string, round, points int) (Participant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateParticipant(gameID, userID, func(p *Participant) bool {
		if p.LastScoredRound >= round {
			return false
		}
		p.Score += points
		p.LastScoredRound = round
		return true
	})
}

func (m *Memory) ResetParticipants(_ context.Context, gameID int64, masterID string, round int) ([]Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	game, ok := m.games[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	masterCurrent := game.CurrentRound == round && game.MasterID == masterID
	rows := m.participants[gameID]
	for i := range rows {
		p := &rows[i]
		changed := false
		if masterCurrent && p.IsCurrentMaster != (p.UserID == masterID) {
			p.IsCurrentMaster = p.UserID == masterID
			changed = true
		}
		if p.PromptRound < round {
			p.CurrentPrompt = ""
			p.Similarity = nil
			p.PromptRound = round
			changed = true
		}
		if changed {
			p.Version++
		}
	}
	return cloneParticipants(rows), nil
}

func (m *Memory) RemoveParticipant(_ context.Context, gameID int64, userID string) (Participant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.findParticipant(gameID, userID)
	if idx < 0 {
		return Participant{}, false, nil
	}
	rows := m.participants[gameID]
	removed := rows[idx]
	m.participants[gameID] = append(rows[:idx:idx], rows[idx+1:]...)
	return cloneParticipant(removed), true, nil
}

func (m *Memory) UpsertSubmission(_ context.Context, s Submission) (Submission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	game, ok := m.games[s.GameID]
	if !ok {
		return Submission{}, false, ErrNotFound
	}
	key := submissionKey{s.GameID, s.UserID, s.Round}
	existing, found := m.submissions[key]
	if game.Status != StatusPlayersWriting || game.CurrentRound != s.Round || (found && existing.Sentinel) {
		if found {
			return cloneSubmission(existing), false, nil
		}
		return Submission{}, false, nil
	}
	now := m.now()
	if found {
		existing.Text = s.Text
		existing.Sentinel = s.Sentinel
		existing.UpdatedAt = now
		m.submissions[key] = existing
		return cloneSubmission(existing), true, nil
	}
	s.ID = m.id()
	s.SubmittedAt = now
	s.UpdatedAt = now
	m.submissions[key] = s
	return cloneSubmission(s), true, nil
}

func (m *Memory) InsertSubmissionIfAbsent(_ context.Context, s Submission) (Submission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := submissionKey{s.GameID, s.UserID, s.Round}
	if existing, ok := m.submissions[key]; ok {
		return cloneSubmission(existing), false, nil
	}
	now := m.now()
	s.ID = m.id()
	s.SubmittedAt = now
	s.UpdatedAt = now
	m.submissions[key] = s
	return cloneSubmission(s), true, nil
}

func (m *Memory) ListSubmissions(_ context.Context, gameID int64, round int) ([]Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Submission, 0)
	for key, s := range m.submissions {
		if key.gameID == gameID && key.round == round {
			out = append(out, cloneSubmission(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (m *Memory) RecordJudgement(_ context.Context, gameID int64, round int, scores map[string]float64, winnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, s := range m.submissions {
		if key.gameID != gameID || key.round != round {
			continue
		}
		if score, ok := scores[key.userID]; ok {
			value := score
			s.Similarity = &value
		}
		s.Winning = key.userID == winnerID && !s.Sentinel
		s.UpdatedAt = now
		m.submissions[key] = s
	}
	return nil
}

func (m *Memory) AppendEvent(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.id()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	m.events[e.GameID] = append(m.events[e.GameID], e)
	return nil
}

func (m *Memory) ListEvents(_ context.Context, gameID int64, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events[gameID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out, nil
}

func cloneGame(g Game) Game {
	g.RoundStartedAt = cloneTime(g.RoundStartedAt)
	g.RoundEndedAt = cloneTime(g.RoundEndedAt)
	g.EndedAt = cloneTime(g.EndedAt)
	return g
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	value := *f
	return &value
}

func cloneParticipant(p Participant) Participant {
	p.Similarity = cloneFloat(p.Similarity)
	return p
}

func cloneParticipants(rows []Participant) []Participant {
	out := make([]Participant, len(rows))
	for i, p := range rows {
		out[i] = cloneParticipant(p)
	}
	return out
}

func cloneSubmission(s Submission) Submission {
	s.Similarity = cloneFloat(s.Similarity)
	return s
}
