package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prompt-master/internal/judge"
	"prompt-master/internal/store"

	log "github.com/sirupsen/logrus"
)

// Drive runs the automatic phases (generating, comparing, scoring) until the
// game waits on players again, finishes, or a step makes no progress.
func (m *Machine) Drive(ctx context.Context, gameID int64) error {
	for {
		game, err := m.store.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		switch game.Status {
		case store.StatusGenerating:
			err = m.generate(ctx, game)
		case store.StatusComparing:
			if game.LastError != "" {
				return nil
			}
			err = m.compare(ctx, game)
		case store.StatusScoring:
			err = m.score(ctx, game)
		default:
			return nil
		}
		if errors.Is(err, ErrConflict) {
			// another peer moved the game; re-read and continue from there
			continue
		}
		if err != nil {
			return err
		}
	}
}

// Timeout handles an elapsed round deadline. status and startedAt are what the
// caller's clock observed; a stale observation is ignored.
func (m *Machine) Timeout(ctx context.Context, gameID int64, status store.Status, startedAt time.Time) error {
	game, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if game.Status != status || game.RoundStartedAt == nil || !game.RoundStartedAt.Equal(startedAt) {
		return nil
	}
	if Remaining(game, m.opts.RoundDuration, m.opts.Now()) > 0 {
		return nil
	}
	switch status {
	case store.StatusMasterWriting:
		_, err = m.rerollMaster(ctx, game)
	case store.StatusPlayersWriting:
		err = m.fillAndClose(ctx, game)
	}
	return ignoreConflict(err)
}

// rerollMaster hands the round to a different random participant. With fewer
// than two players left the game ends.
func (m *Machine) rerollMaster(ctx context.Context, game store.Game) (store.Game, error) {
	participants, err := m.store.ListParticipants(ctx, game.ID)
	if err != nil {
		return store.Game{}, err
	}
	guard := store.Guard{Status: store.StatusMasterWriting, Round: game.CurrentRound, MasterID: game.MasterID}
	if len(participants) < 2 {
		return m.finish(ctx, game, guard, "not_enough_players")
	}
	candidates := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.UserID != game.MasterID {
			candidates = append(candidates, p.UserID)
		}
	}
	next := m.pick(candidates)
	updated, err := m.transition(ctx, game.ID, guard, store.GameChanges{
		MasterID:       store.Ptr(next),
		MasterPrompt:   store.Ptr(""),
		MasterImageURL: store.Ptr(""),
		RoundStartedAt: store.Ptr(m.opts.Now()),
	})
	if err != nil {
		return updated, err
	}
	m.resetParticipants(ctx, updated)
	m.record(ctx, updated, next, "master_rerolled", map[string]any{"previous": game.MasterID})
	log.Infof("master re-rolled game_id=%d round=%d from=%s to=%s", game.ID, game.CurrentRound, game.MasterID, next)
	return updated, nil
}

// fillAndClose records the sentinel guess for each non-master who did not
// answer, then closes guessing.
func (m *Machine) fillAndClose(ctx context.Context, game store.Game) error {
	participants, err := m.store.ListParticipants(ctx, game.ID)
	if err != nil {
		return err
	}
	filled := 0
	for _, p := range participants {
		if p.UserID == game.MasterID {
			continue
		}
		_, inserted, err := m.store.InsertSubmissionIfAbsent(ctx, store.Submission{
			GameID:   game.ID,
			UserID:   p.UserID,
			Round:    game.CurrentRound,
			Text:     sentinelText,
			Sentinel: true,
		})
		if err != nil {
			return err
		}
		if inserted {
			filled++
		}
	}
	if filled > 0 {
		log.Infof("timeout auto-filled guesses game_id=%d round=%d filled=%d", game.ID, game.CurrentRound, filled)
	}
	return m.beginComparing(ctx, game, "timeout")
}

func (m *Machine) generate(ctx context.Context, game store.Game) error {
	guard := store.Guard{Status: store.StatusGenerating, Round: game.CurrentRound, MasterID: game.MasterID}
	var url string
	err := m.retry(ctx, m.opts.GenerateRetries, func(ctx context.Context) error {
		var genErr error
		url, genErr = m.images.GenerateImage(ctx, game.MasterPrompt)
		return genErr
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		log.Warnf("image generation failed game_id=%d round=%d error=%v", game.ID, game.CurrentRound, err)
		updated, terr := m.transition(ctx, game.ID, guard, store.GameChanges{
			Status:         store.Ptr(store.StatusMasterWriting),
			MasterPrompt:   store.Ptr(""),
			MasterImageURL: store.Ptr(""),
			LastError:      store.Ptr(truncate("image generation failed: "+err.Error(), maxPromptLength)),
			RoundStartedAt: store.Ptr(m.opts.Now()),
		})
		if terr != nil {
			return terr
		}
		m.record(ctx, updated, "", "generation_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	updated, err := m.transition(ctx, game.ID, guard, store.GameChanges{
		Status:         store.Ptr(store.StatusPlayersWriting),
		MasterImageURL: store.Ptr(url),
		LastError:      store.Ptr(""),
		RoundStartedAt: store.Ptr(m.opts.Now()),
	})
	if err != nil {
		return err
	}
	m.record(ctx, updated, "", "image_generated", map[string]any{"url": url})
	log.Infof("image generated game_id=%d round=%d", updated.ID, updated.CurrentRound)
	return nil
}

func (m *Machine) compare(ctx context.Context, game store.Game) error {
	guard := store.Guard{Status: store.StatusComparing, Round: game.CurrentRound}
	participants, err := m.store.ListParticipants(ctx, game.ID)
	if err != nil {
		return err
	}
	seated := make(map[string]bool, len(participants))
	for _, p := range participants {
		seated[p.UserID] = true
	}
	submissions, err := m.store.ListSubmissions(ctx, game.ID, game.CurrentRound)
	if err != nil {
		return err
	}
	entries := make([]judge.Entry, 0, len(submissions))
	for _, s := range submissions {
		if !seated[s.UserID] || s.UserID == game.MasterID {
			continue
		}
		entries = append(entries, judge.Entry{
			UserID:      s.UserID,
			Text:        s.Text,
			SubmittedAt: s.SubmittedAt,
			Sentinel:    s.Sentinel,
		})
	}

	var result judge.Result
	err = m.retry(ctx, m.opts.JudgeRetries, func(ctx context.Context) error {
		var judgeErr error
		result, judgeErr = m.judge.Judge(ctx, game.MasterPrompt, entries)
		return judgeErr
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		log.Warnf("judging failed game_id=%d round=%d error=%v", game.ID, game.CurrentRound, err)
		updated, terr := m.transition(ctx, game.ID, guard, store.GameChanges{
			LastError: store.Ptr(truncate("scoring service unavailable: "+err.Error(), maxPromptLength)),
		})
		if terr != nil {
			return terr
		}
		m.record(ctx, updated, "", "judge_failed", map[string]any{"error": err.Error()})
		if errors.Is(err, ErrJudgeUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrJudgeUnavailable, err)
	}

	if err := m.store.RecordJudgement(ctx, game.ID, game.CurrentRound, result.Scores, result.WinnerID); err != nil {
		return err
	}
	if _, err := m.store.SetSimilarities(ctx, game.ID, game.CurrentRound, result.Scores); err != nil {
		return err
	}
	updated, err := m.transition(ctx, game.ID, guard, store.GameChanges{
		Status:    store.Ptr(store.StatusScoring),
		LastError: store.Ptr(""),
	})
	if err != nil {
		return err
	}
	m.record(ctx, updated, result.WinnerID, "round_judged", map[string]any{"winnerId": result.WinnerID, "scores": result.Scores})
	log.Infof("round judged game_id=%d round=%d winner=%s", updated.ID, updated.CurrentRound, result.WinnerID)
	return nil
}

func (m *Machine) score(ctx context.Context, game store.Game) error {
	participants, err := m.store.ListParticipants(ctx, game.ID)
	if err != nil {
		return err
	}
	submissions, err := m.store.ListSubmissions(ctx, game.ID, game.CurrentRound)
	if err != nil {
		return err
	}
	outcome := Score(game, participants, submissions, m.opts.Threshold)
	for userID, points := range outcome.Awards {
		if _, _, err := m.store.AwardPoints(ctx, game.ID, userID, game.CurrentRound, points); err != nil {
			return err
		}
	}
	guard := store.Guard{Status: store.StatusScoring, Round: game.CurrentRound}
	if outcome.Finished {
		_, err := m.finish(ctx, game, guard, outcome.Reason)
		return err
	}
	nextRound := game.CurrentRound + 1
	updated, err := m.transition(ctx, game.ID, guard, store.GameChanges{
		Status:         store.Ptr(store.StatusMasterWriting),
		CurrentRound:   store.Ptr(nextRound),
		MasterID:       store.Ptr(outcome.NextMasterID),
		MasterPrompt:   store.Ptr(""),
		MasterImageURL: store.Ptr(""),
		LastError:      store.Ptr(""),
		RoundStartedAt: store.Ptr(m.opts.Now()),
		RoundEndedAt:   store.Ptr(time.Time{}),
	})
	if err != nil {
		return err
	}
	m.resetParticipants(ctx, updated)
	m.record(ctx, game, "", "round_scored", map[string]any{"awards": outcome.Awards, "nextMasterId": outcome.NextMasterID})
	log.Infof("round scored game_id=%d round=%d next_master=%s", game.ID, game.CurrentRound, outcome.NextMasterID)
	return nil
}

func (m *Machine) finish(ctx context.Context, game store.Game, guard store.Guard, reason string) (store.Game, error) {
	now := m.opts.Now()
	updated, err := m.transition(ctx, game.ID, guard, store.GameChanges{
		Status:       store.Ptr(store.StatusFinished),
		EndedAt:      store.Ptr(now),
		RoundEndedAt: store.Ptr(now),
		LastError:    store.Ptr(""),
	})
	if err != nil {
		return updated, err
	}
	m.record(ctx, updated, "", "game_finished", map[string]any{"reason": reason})
	log.Infof("game finished game_id=%d round=%d reason=%s", updated.ID, updated.CurrentRound, reason)
	return updated, nil
}

// Repair re-applies the participant half of a round advance when the rows
// disagree with the game row. It is idempotent.
func (m *Machine) Repair(ctx context.Context, gameID int64) (bool, error) {
	game, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return false, err
	}
	participants, err := m.store.ListParticipants(ctx, gameID)
	if err != nil {
		return false, err
	}
	if !NeedsRepair(game, participants) {
		return false, nil
	}
	if _, err := m.store.ResetParticipants(ctx, game.ID, game.MasterID, game.CurrentRound); err != nil {
		return false, err
	}
	log.Infof("participants repaired game_id=%d round=%d master=%s", game.ID, game.CurrentRound, game.MasterID)
	return true, nil
}

// NeedsRepair reports whether participant rows lag the game row: a wrong
// master flag or a guess marker from an earlier round.
func NeedsRepair(game store.Game, participants []store.Participant) bool {
	if game.Status == store.StatusWaiting || game.Status == store.StatusFinished || game.MasterID == "" {
		return false
	}
	for _, p := range participants {
		if p.IsCurrentMaster != (p.UserID == game.MasterID) {
			return true
		}
		if p.PromptRound < game.CurrentRound {
			return true
		}
	}
	return false
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
