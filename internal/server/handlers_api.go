package server

import (
	"context"
	"net/http"

	"prompt-master/internal/auth"
	"prompt-master/internal/game"
	"prompt-master/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type sessionRequest struct {
	Name string `json:"name" binding:"required,name"`
}

type createGameRequest struct {
	Name        string `json:"name" binding:"omitempty,name"`
	IsPublic    bool   `json:"is_public"`
	TotalRounds int    `json:"total_rounds" binding:"omitempty,min=1,max=20"`
	TargetScore int    `json:"target_score" binding:"omitempty,min=1,max=50"`
}

type joinRequest struct {
	Code string `json:"code" binding:"required,min=4,max=12"`
}

type promptRequest struct {
	Prompt string `json:"prompt" binding:"required,prompt"`
}

type guessRequest struct {
	Round int    `json:"round" binding:"required,min=1"`
	Guess string `json:"guess" binding:"required,guess"`
}

type gameURI struct {
	ID int64 `uri:"id" binding:"required,min=1"`
}

type codeURI struct {
	Code string `uri:"code" binding:"required,min=4,max=12"`
}

type roundURI struct {
	ID    int64 `uri:"id" binding:"required,min=1"`
	Round int   `uri:"round" binding:"required,min=1"`
}

type eventsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"replicas": len(s.replicas.Active()),
		"sockets":  s.ws.Count(),
	})
}

// handleSession issues a guest identity. Without a signing secret the
// client sends the returned id in X-User-ID instead of a token.
func (s *Server) handleSession(c *gin.Context) {
	if !s.enforceRateLimit(c, "session") {
		return
	}
	var req sessionRequest
	if !bindJSON(c, &req, bindMessages{
		"Name": {"required": "name is required", "name": "name must be 1-40 printable characters"},
	}, "invalid session request") {
		return
	}
	name, _ := validateName(req.Name)
	id := auth.Identity{UserID: uuid.NewString(), Name: name}
	resp := gin.H{"user_id": id.UserID, "name": id.Name}
	if s.auth.Enabled() {
		token, err := s.auth.Issue(id)
		if err != nil {
			writeError(c, err)
			return
		}
		resp["token"] = token
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleCreateGame(c *gin.Context) {
	if !s.enforceRateLimit(c, "create") {
		return
	}
	var req createGameRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req, bindMessages{
			"Name":        {"name": "game name must be 1-40 printable characters"},
			"TotalRounds": {"min": "total_rounds must be at least 1", "max": "total_rounds must be 20 or fewer"},
			"TargetScore": {"min": "target_score must be at least 1", "max": "target_score must be 50 or fewer"},
		}, "invalid game settings") {
			return
		}
	}
	name := ""
	if req.Name != "" {
		name, _ = validateName(req.Name)
	}
	created, err := s.machine.CreateGame(c.Request.Context(), player(c), game.CreateParams{
		Name:        name,
		IsPublic:    req.IsPublic,
		TotalRounds: req.TotalRounds,
		TargetScore: req.TargetScore,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"game_id": created.ID, "join_code": created.Code})
}

func (s *Server) handleJoin(c *gin.Context) {
	if !s.enforceRateLimit(c, "join") {
		return
	}
	var req joinRequest
	if !bindJSON(c, &req, bindMessages{
		"Code": {"required": "join code is required", "min": "join code is too short", "max": "join code is too long"},
	}, "invalid join request") {
		return
	}
	joined, participant, err := s.machine.JoinGame(c.Request.Context(), req.Code, player(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"game_id":   joined.ID,
		"join_code": joined.Code,
		"user_id":   participant.UserID,
		"name":      participant.Name,
	})
}

func (s *Server) handleLookupCode(c *gin.Context) {
	var uri codeURI
	if !bindURI(c, &uri) {
		return
	}
	ctx := c.Request.Context()
	g, err := s.store.GetGameByCode(ctx, game.NormalizeCode(uri.Code))
	if err != nil {
		writeError(c, err)
		return
	}
	participants, err := s.store.ListParticipants(ctx, g.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"game_id":      g.ID,
		"join_code":    g.Code,
		"name":         g.Name,
		"status":       g.Status,
		"player_count": len(participants),
		"joinable":     g.Status == store.StatusWaiting,
	})
}

func (s *Server) handleGetGame(c *gin.Context) {
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	payload, err := s.gameSnapshot(c.Request.Context(), uri.ID, identity(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) gameSnapshot(ctx context.Context, gameID int64, viewerID string) (map[string]any, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return snapshot(g, participants, viewerID, game.Remaining(g, s.machine.RoundDuration(), s.now())), nil
}

func (s *Server) handleToggleReady(c *gin.Context) {
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	participant, err := s.machine.ToggleReady(c.Request.Context(), uri.ID, identity(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": participant.UserID, "is_ready": participant.IsReady})
}

func (s *Server) handleStart(c *gin.Context) {
	if !s.enforceRateLimit(c, "start") {
		return
	}
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	started, err := s.machine.StartGame(c.Request.Context(), uri.ID, identity(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": started.Status, "round": started.CurrentRound, "master_id": started.MasterID})
}

func (s *Server) handleMasterPrompt(c *gin.Context) {
	if !s.enforceRateLimit(c, "master-prompt") {
		return
	}
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	var req promptRequest
	if !bindJSON(c, &req, bindMessages{
		"Prompt": {"required": "prompt is required", "prompt": "prompt must be 1-280 printable characters"},
	}, "invalid prompt") {
		return
	}
	prompt, _ := validatePrompt(req.Prompt)
	updated, err := s.machine.SubmitMasterPrompt(c.Request.Context(), uri.ID, identity(c).UserID, prompt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": updated.Status, "round": updated.CurrentRound})
}

func (s *Server) handleGuess(c *gin.Context) {
	if !s.enforceRateLimit(c, "guess") {
		return
	}
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	var req guessRequest
	if !bindJSON(c, &req, bindMessages{
		"Round": {"required": "round is required", "min": "round is required"},
		"Guess": {"required": "guess is required", "guess": "guess must be 1-280 printable characters"},
	}, "invalid guess") {
		return
	}
	guess, _ := validateGuess(req.Guess)
	submission, err := s.machine.SubmitGuess(c.Request.Context(), uri.ID, identity(c).UserID, req.Round, guess)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": submission.Round, "guess": submission.Text})
}

func (s *Server) handleLeave(c *gin.Context) {
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	if err := s.machine.LeaveGame(c.Request.Context(), uri.ID, identity(c).UserID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRetry(c *gin.Context) {
	if !s.enforceRateLimit(c, "retry") {
		return
	}
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	updated, err := s.machine.RetryGame(c.Request.Context(), uri.ID, identity(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Infof("retry requested game_id=%d status=%s", updated.ID, updated.Status)
	c.JSON(http.StatusAccepted, gin.H{"status": updated.Status, "round": updated.CurrentRound})
}

func (s *Server) handleSubmissions(c *gin.Context) {
	var uri roundURI
	if !bindURI(c, &uri) {
		return
	}
	rows, err := s.machine.Submissions(c.Request.Context(), uri.ID, identity(c).UserID, uri.Round)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": uri.Round, "submissions": submissionPayload(rows)})
}

func (s *Server) handleEvents(c *gin.Context) {
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	var query eventsQuery
	if !bindQuery(c, &query, bindMessages{
		"Limit": {"min": "limit must be at least 1", "max": "limit must be 200 or fewer"},
	}) {
		return
	}
	rows, err := s.machine.Events(c.Request.Context(), uri.ID, query.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": eventPayload(rows)})
}
