package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"prompt-master/internal/store"

	log "github.com/sirupsen/logrus"
)

type Player struct {
	UserID string
	Name   string
}

type CreateParams struct {
	Name        string
	IsPublic    bool
	TotalRounds int
	TargetScore int
}

// CreateGame opens a new game in the waiting room with the creator seated.
func (m *Machine) CreateGame(ctx context.Context, creator Player, params CreateParams) (store.Game, error) {
	if strings.TrimSpace(creator.UserID) == "" {
		return store.Game{}, forbidden("sign in to create a game")
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = strings.TrimSpace(creator.Name) + "'s game"
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return store.Game{}, badInput("game name is too long")
	}
	if params.TotalRounds == 0 {
		params.TotalRounds = m.opts.DefaultTotalRounds
	}
	if params.TargetScore == 0 {
		params.TargetScore = m.opts.DefaultTargetScore
	}
	if params.TotalRounds < 1 {
		return store.Game{}, badInput("totalRounds must be at least 1")
	}
	if params.TargetScore < 1 {
		return store.Game{}, badInput("targetScore must be at least 1")
	}

	var (
		game store.Game
		err  error
	)
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		game, err = m.store.CreateGame(ctx, store.Game{
			Code:        m.newJoinCode(),
			Name:        name,
			IsPublic:    params.IsPublic,
			Status:      store.StatusWaiting,
			TotalRounds: params.TotalRounds,
			TargetScore: params.TargetScore,
			CreatorID:   creator.UserID,
		})
		if !errors.Is(err, store.ErrDuplicateCode) {
			break
		}
	}
	if err != nil {
		return store.Game{}, fmt.Errorf("create game: %w", err)
	}
	if _, _, err := m.store.AddParticipant(ctx, store.Participant{
		GameID: game.ID,
		UserID: creator.UserID,
		Name:   displayName(creator),
	}); err != nil {
		return store.Game{}, fmt.Errorf("seat creator: %w", err)
	}
	m.record(ctx, game, creator.UserID, "game_created", map[string]any{
		"code":        game.Code,
		"totalRounds": game.TotalRounds,
		"targetScore": game.TargetScore,
	})
	log.Infof("game created game_id=%d code=%s creator=%s", game.ID, game.Code, creator.UserID)
	return game, nil
}

// JoinGame seats the player. Joining twice returns the existing seat; new
// players are only admitted while the game is waiting.
func (m *Machine) JoinGame(ctx context.Context, code string, player Player) (store.Game, store.Participant, error) {
	if strings.TrimSpace(player.UserID) == "" {
		return store.Game{}, store.Participant{}, forbidden("sign in to join a game")
	}
	code = NormalizeCode(code)
	if code == "" {
		return store.Game{}, store.Participant{}, badInput("join code is required")
	}
	game, err := m.store.GetGameByCode(ctx, code)
	if err != nil {
		return store.Game{}, store.Participant{}, err
	}
	if existing, err := m.store.GetParticipant(ctx, game.ID, player.UserID); err == nil {
		return game, existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Game{}, store.Participant{}, err
	}
	if game.Status != store.StatusWaiting {
		return store.Game{}, store.Participant{}, wrongPhase("game already started")
	}
	participant, created, err := m.store.AddParticipant(ctx, store.Participant{
		GameID: game.ID,
		UserID: player.UserID,
		Name:   displayName(player),
	})
	if err != nil {
		return store.Game{}, store.Participant{}, err
	}
	if created {
		m.record(ctx, game, player.UserID, "player_joined", map[string]any{"name": participant.Name})
		log.Infof("player joined game_id=%d user_id=%s", game.ID, player.UserID)
	}
	return game, participant, nil
}

func (m *Machine) ToggleReady(ctx context.Context, gameID int64, userID string) (store.Participant, error) {
	game, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return store.Participant{}, err
	}
	if game.Status != store.StatusWaiting {
		return store.Participant{}, wrongPhase("ready can only change before the game starts")
	}
	participant, err := m.participant(ctx, gameID, userID)
	if err != nil {
		return store.Participant{}, err
	}
	return m.store.SetReady(ctx, gameID, userID, !participant.IsReady)
}

// StartGame moves a waiting game into round 1 with a random master.
func (m *Machine) StartGame(ctx context.Context, gameID int64, userID string) (store.Game, error) {
	game, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return store.Game{}, err
	}
	if game.CreatorID != userID {
		return store.Game{}, forbidden("only the creator can start the game")
	}
	if game.Status != store.StatusWaiting {
		return store.Game{}, wrongPhase("game already started")
	}
	participants, err := m.store.ListParticipants(ctx, gameID)
	if err != nil {
		return store.Game{}, err
	}
	if len(participants) < 2 {
		return store.Game{}, wrongPhase("at least two players are needed to start")
	}
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		if !p.IsReady {
			return store.Game{}, wrongPhase("every player must be ready")
		}
		ids = append(ids, p.UserID)
	}
	master := m.pick(ids)
	now := m.opts.Now()
	game, err = m.transition(ctx, gameID, store.Guard{Status: store.StatusWaiting}, store.GameChanges{
		Status:         store.Ptr(store.StatusMasterWriting),
		CurrentRound:   store.Ptr(1),
		MasterID:       store.Ptr(master),
		MasterPrompt:   store.Ptr(""),
		MasterImageURL: store.Ptr(""),
		LastError:      store.Ptr(""),
		RoundStartedAt: store.Ptr(now),
	})
	if err != nil {
		return swallowConflict(game, err)
	}
	m.resetParticipants(ctx, game)
	m.record(ctx, game, userID, "game_started", map[string]any{"masterId": master})
	log.Infof("game started game_id=%d master=%s players=%d", game.ID, master, len(participants))
	return game, nil
}

// SubmitMasterPrompt records the master's secret prompt and starts image
// generation in the background.
func (m *Machine) SubmitMasterPrompt(ctx context.Context, gameID int64, userID, prompt string) (store.Game, error) {
	game, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return store.Game{}, err
	}
	if game.Status != store.StatusMasterWriting {
		return store.Game{}, wrongPhase("the master prompt is not being collected")
	}
	if game.MasterID != userID {
		return store.Game{}, forbidden("only the master can write the prompt")
	}
	prompt, err = cleanText(prompt, "prompt")
	if err != nil {
		return store.Game{}, err
	}
	game, err = m.transition(ctx, gameID, store.Guard{
		Status:   store.StatusMasterWriting,
		Round:    game.CurrentRound,
		MasterID: userID,
	}, store.GameChanges{
		Status:         store.Ptr(store.StatusGenerating),
		MasterPrompt:   store.Ptr(prompt),
		MasterImageURL: store.Ptr(""),
		LastError:      store.Ptr(""),
		RoundStartedAt: store.Ptr(m.opts.Now()),
	})
	if err != nil {
		return swallowConflict(game, err)
	}
	m.record(ctx, game, userID, "master_prompt_submitted", nil)
	log.Infof("master prompt submitted game_id=%d round=%d", game.ID, game.CurrentRound)
	m.Kick(game.ID)
	return game, nil
}

// SubmitGuess stores the player's guess for round. The last missing guess
// closes the round.
func (m *Machine) SubmitGuess(ctx context.Context, gameID int64, userID string, round int, text string) (store.Submission, error) {
	game, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return store.Submission{}, err
	}
	if game.Status != store.StatusPlayersWriting {
		return store.Submission{}, wrongPhase("guesses are not being collected")
	}
	if round != game.CurrentRound {
		return store.Submission{}, wrongPhase(fmt.Sprintf("round %d is not open", round))
	}
	if game.MasterID == userID {
		return store.Submission{}, forbidden("the master cannot guess")
	}
	if _, err := m.participant(ctx, gameID, userID); err != nil {
		return store.Submission{}, err
	}
	text, err = cleanText(text, "guess")
	if err != nil {
		return store.Submission{}, err
	}
	submission, applied, err := m.store.UpsertSubmission(ctx, store.Submission{
		GameID: gameID,
		UserID: userID,
		Round:  round,
		Text:   text,
	})
	if err != nil {
		return store.Submission{}, err
	}
	if !applied {
		return store.Submission{}, wrongPhase(fmt.Sprintf("round %d closed before the guess landed", round))
	}
	if _, err := m.store.SetGuess(ctx, gameID, userID, round, text); err != nil {
		return store.Submission{}, err
	}
	if err := m.closeIfComplete(ctx, game); err != nil {
		return submission, err
	}
	return submission, nil
}

// LeaveGame removes the caller. A round in progress continues without them.
func (m *Machine) LeaveGame(ctx context.Context, gameID int64, userID string) error {
	removed, ok, err := m.store.RemoveParticipant(ctx, gameID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	game, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	m.record(ctx, game, userID, "player_left", map[string]any{"name": removed.Name})
	log.Infof("player left game_id=%d user_id=%s status=%s", gameID, userID, game.Status)

	switch game.Status {
	case store.StatusMasterWriting:
		if game.MasterID == userID {
			_, err = m.rerollMaster(ctx, game)
			return ignoreConflict(err)
		}
	case store.StatusPlayersWriting:
		return m.closeIfComplete(ctx, game)
	}
	return nil
}

// RetryGame re-runs an automatic phase after a backend failure.
func (m *Machine) RetryGame(ctx context.Context, gameID int64, userID string) (store.Game, error) {
	game, err := m.store.GetGame(ctx, gameID)
	if err != nil {
		return store.Game{}, err
	}
	if _, err := m.participant(ctx, gameID, userID); err != nil {
		return store.Game{}, err
	}
	if !game.Status.Automatic() {
		return store.Game{}, wrongPhase("nothing to retry")
	}
	if game.LastError != "" {
		game, err = m.transition(ctx, gameID, store.Guard{Status: game.Status, Round: game.CurrentRound}, store.GameChanges{
			LastError: store.Ptr(""),
		})
		if err != nil {
			return swallowConflict(game, err)
		}
	}
	m.record(ctx, game, userID, "retry_requested", map[string]any{"status": game.Status})
	m.Kick(game.ID)
	return game, nil
}

// closeIfComplete moves playersWriting to comparing once every current
// non-master has a submission for the round.
func (m *Machine) closeIfComplete(ctx context.Context, game store.Game) error {
	participants, err := m.store.ListParticipants(ctx, game.ID)
	if err != nil {
		return err
	}
	submissions, err := m.store.ListSubmissions(ctx, game.ID, game.CurrentRound)
	if err != nil {
		return err
	}
	submitted := make(map[string]bool, len(submissions))
	for _, s := range submissions {
		submitted[s.UserID] = true
	}
	guessers := 0
	for _, p := range participants {
		if p.UserID == game.MasterID {
			continue
		}
		guessers++
		if !submitted[p.UserID] {
			return nil
		}
	}
	if guessers == 0 {
		return nil
	}
	return ignoreConflict(m.beginComparing(ctx, game, "all_submitted"))
}

func (m *Machine) beginComparing(ctx context.Context, game store.Game, reason string) error {
	updated, err := m.transition(ctx, game.ID, store.Guard{
		Status: store.StatusPlayersWriting,
		Round:  game.CurrentRound,
	}, store.GameChanges{
		Status:       store.Ptr(store.StatusComparing),
		RoundEndedAt: store.Ptr(m.opts.Now()),
		LastError:    store.Ptr(""),
	})
	if err != nil {
		return err
	}
	m.record(ctx, updated, "", "guessing_closed", map[string]any{"reason": reason})
	log.Infof("guessing closed game_id=%d round=%d reason=%s", updated.ID, updated.CurrentRound, reason)
	m.Kick(updated.ID)
	return nil
}

func (m *Machine) participant(ctx context.Context, gameID int64, userID string) (store.Participant, error) {
	p, err := m.store.GetParticipant(ctx, gameID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Participant{}, forbidden("you are not in this game")
	}
	return p, err
}

func (m *Machine) resetParticipants(ctx context.Context, game store.Game) {
	if _, err := m.store.ResetParticipants(ctx, game.ID, game.MasterID, game.CurrentRound); err != nil {
		// the sync layer repairs stale rows on the next notification
		log.Warnf("participant reset failed game_id=%d round=%d error=%v", game.ID, game.CurrentRound, err)
	}
}

func cleanText(text, what string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", badInput(what + " cannot be empty")
	}
	if utf8.RuneCountInString(text) > maxPromptLength {
		return "", badInput(fmt.Sprintf("%s must be %d characters or fewer", what, maxPromptLength))
	}
	return text, nil
}

func displayName(p Player) string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "Player"
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	return name
}

func ignoreConflict(err error) error {
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}
