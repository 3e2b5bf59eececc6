package game

import (
	"context"

	"prompt-master/internal/store"
)

const maxEventPage = 200

// Judged reports whether round has been scored by the judge, after which
// its prompt and guesses are public.
func Judged(game store.Game, round int) bool {
	if round < game.CurrentRound {
		return true
	}
	if round > game.CurrentRound {
		return false
	}
	return game.Status == store.StatusScoring || game.Status == store.StatusFinished
}

// Submissions lists a round's guesses. Before the round is judged a
// participant only sees their own.
func (m *Machine) Submissions(ctx context.Context, gameID int64, userID string, round int) ([]store.Submission, error) {
	game, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if round < 1 || round > game.CurrentRound {
		return nil, badInput("no such round")
	}
	rows, err := m.store.ListSubmissions(ctx, gameID, round)
	if err != nil {
		return nil, err
	}
	if Judged(game, round) {
		return rows, nil
	}
	own := make([]store.Submission, 0, 1)
	for _, row := range rows {
		if row.UserID == userID {
			own = append(own, row)
		}
	}
	return own, nil
}

// Events returns up to limit of the game's most recent audit events,
// oldest first.
func (m *Machine) Events(ctx context.Context, gameID int64, limit int) ([]store.Event, error) {
	if _, err := m.store.GetGame(ctx, gameID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxEventPage {
		limit = maxEventPage
	}
	return m.store.ListEvents(ctx, gameID, limit)
}
