package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"prompt-master/internal/db"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm is the Postgres-backed Store.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(conn *gorm.DB) *Gorm {
	return &Gorm{db: conn}
}

func (s *Gorm) CreateGame(ctx context.Context, game Game) (Game, error) {
	record := db.Game{
		Code:        strings.ToUpper(game.Code),
		Name:        game.Name,
		IsPublic:    game.IsPublic,
		Status:      string(StatusWaiting),
		TotalRounds: game.TotalRounds,
		TargetScore: game.TargetScore,
		CreatorID:   game.CreatorID,
		Version:     1,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return Game{}, ErrDuplicateCode
		}
		return Game{}, err
	}
	return gameFromRecord(record), nil
}

func (s *Gorm) GetGame(ctx context.Context, id int64) (Game, error) {
	var record db.Game
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return Game{}, mapNotFound(err)
	}
	return gameFromRecord(record), nil
}

func (s *Gorm) GetGameByCode(ctx context.Context, code string) (Game, error) {
	var record db.Game
	err := s.db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&record).Error
	if err != nil {
		return Game{}, mapNotFound(err)
	}
	return gameFromRecord(record), nil
}

func (s *Gorm) UpdateGameIf(ctx context.Context, id int64, guard Guard, changes GameChanges) (Game, bool, error) {
	updates := gameUpdates(changes)
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = time.Now().UTC()

	query := s.db.WithContext(ctx).Model(&db.Game{}).
		Where("id = ? AND status = ?", id, string(guard.Status))
	if guard.Round != 0 {
		query = query.Where("current_round = ?", guard.Round)
	}
	if guard.MasterID != "" {
		query = query.Where("master_id = ?", guard.MasterID)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return Game{}, false, result.Error
	}
	game, err := s.GetGame(ctx, id)
	if err != nil {
		return Game{}, false, err
	}
	return game, result.RowsAffected == 1, nil
}

func gameUpdates(c GameChanges) map[string]any {
	updates := make(map[string]any)
	if c.Status != nil {
		updates["status"] = string(*c.Status)
	}
	if c.CurrentRound != nil {
		updates["current_round"] = *c.CurrentRound
	}
	if c.MasterID != nil {
		updates["master_id"] = nullString(*c.MasterID)
	}
	if c.MasterPrompt != nil {
		updates["master_prompt"] = nullString(*c.MasterPrompt)
	}
	if c.MasterImageURL != nil {
		updates["master_image_url"] = nullString(*c.MasterImageURL)
	}
	if c.LastError != nil {
		updates["last_error"] = nullString(*c.LastError)
	}
	if c.RoundStartedAt != nil {
		updates["round_started_at"] = nullTime(*c.RoundStartedAt)
	}
	if c.RoundEndedAt != nil {
		updates["round_ended_at"] = nullTime(*c.RoundEndedAt)
	}
	if c.EndedAt != nil {
		updates["ended_at"] = nullTime(*c.EndedAt)
	}
	return updates
}

func (s *Gorm) ListParticipants(ctx context.Context, gameID int64) ([]Participant, error) {
	var records []db.Participant
	err := s.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("joined_at asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	out := make([]Participant, 0, len(records))
	for _, record := range records {
		out = append(out, participantFromRecord(record))
	}
	return out, nil
}

func (s *Gorm) GetParticipant(ctx context.Context, gameID int64, userID string) (Participant, error) {
	var record db.Participant
	err := s.db.WithContext(ctx).
		Where("game_id = ? AND user_id = ?", gameID, userID).
		First(&record).Error
	if err != nil {
		return Participant{}, mapNotFound(err)
	}
	return participantFromRecord(record), nil
}

func (s *Gorm) AddParticipant(ctx context.Context, p Participant) (Participant, bool, error) {
	now := time.Now().UTC()
	record := db.Participant{
		GameID:   p.GameID,
		UserID:   p.UserID,
		Name:     p.Name,
		Version:  1,
		JoinedAt: now,
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&record)
	if result.Error != nil {
		if isForeignKeyViolation(result.Error) {
			return Participant{}, false, ErrNotFound
		}
		return Participant{}, false, result.Error
	}
	existing, err := s.GetParticipant(ctx, p.GameID, p.UserID)
	if err != nil {
		return Participant{}, false, err
	}
	return existing, result.RowsAffected == 1, nil
}

func (s *Gorm) updateParticipant(ctx context.Context, gameID int64, userID string, extra string, args []any, updates map[string]any) (Participant, bool, error) {
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = time.Now().UTC()
	query := s.db.WithContext(ctx).Model(&db.Participant{}).
		Where("game_id = ? AND user_id = ?", gameID, userID)
	if extra != "" {
		query = query.Where(extra, args...)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return Participant{}, false, result.Error
	}
	p, err := s.GetParticipant(ctx, gameID, userID)
	if err != nil {
		return Participant{}, false, err
	}
	return p, result.RowsAffected == 1, nil
}

func (s *Gorm) SetReady(ctx context.Context, gameID int64, userID string, ready bool) (Participant, error) {
	p, _, err := s.updateParticipant(ctx, gameID, userID, "is_ready <> ?", []any{ready},
		map[string]any{"is_ready": ready})
	return p, err
}

func (s *Gorm) SetGuess(ctx context.Context, gameID int64, userID string, round int, text string) (Participant, error) {
	p, _, err := s.updateParticipant(ctx, gameID, userID, "prompt_round <= ?", []any{round},
		map[string]any{"current_prompt": text, "prompt_round": round})
	return p, err
}

func (s *Gorm) SetSimilarities(ctx context.Context, gameID int64, round int, scores map[string]float64) ([]Participant, error) {
	updated := make([]Participant, 0, len(scores))
	for userID, score := range scores {
		p, changed, err := s.updateParticipant(ctx, gameID, userID, "prompt_round <= ?", []any{round},
			map[string]any{"similarity": score, "prompt_round": round})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if changed {
			updated = append(updated, p)
		}
	}
	return updated, nil
}

func (s *Gorm) AwardPoints(ctx context.Context, gameID int64, userID string, round, points int) (Participant, bool, error) {
	return s.updateParticipant(ctx, gameID, userID, "last_scored_round < ?", []any{round},
		map[string]any{
			"score":             gorm.Expr("score + ?", points),
			"last_scored_round": round,
		})
}

func (s *Gorm) ResetParticipants(ctx context.Context, gameID int64, masterID string, round int) ([]Participant, error) {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current := tx.Model(&db.Game{}).Select("1").
			Where("id = ? AND current_round = ? AND master_id = ?", gameID, round, masterID)
		if err := tx.Model(&db.Participant{}).
			Where("game_id = ? AND is_current_master <> (user_id = ?)", gameID, masterID).
			Where("EXISTS (?)", current).
			Updates(map[string]any{
				"is_current_master": gorm.Expr("user_id = ?", masterID),
				"version":           gorm.Expr("version + 1"),
				"updated_at":        now,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&db.Participant{}).
			Where("game_id = ? AND prompt_round < ?", gameID, round).
			Updates(map[string]any{
				"current_prompt": nil,
				"similarity":     nil,
				"prompt_round":   round,
				"version":        gorm.Expr("version + 1"),
				"updated_at":     now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.ListParticipants(ctx, gameID)
}

func (s *Gorm) RemoveParticipant(ctx context.Context, gameID int64, userID string) (Participant, bool, error) {
	var records []db.Participant
	result := s.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("game_id = ? AND user_id = ?", gameID, userID).
		Delete(&records)
	if result.Error != nil {
		return Participant{}, false, result.Error
	}
	if result.RowsAffected == 0 || len(records) == 0 {
		return Participant{}, false, nil
	}
	return participantFromRecord(records[0]), true, nil
}

func (s *Gorm) UpsertSubmission(ctx context.Context, sub Submission) (Submission, bool, error) {
	now := time.Now().UTC()
	record := db.RoundSubmission{
		GameID:      sub.GameID,
		UserID:      sub.UserID,
		Round:       sub.Round,
		Text:        sub.Text,
		Sentinel:    sub.Sentinel,
		SubmittedAt: now,
	}
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the row lock holds off a concurrent close until the guess is in
		var game db.Game
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND status = ? AND current_round = ?", sub.GameID, string(StatusPlayersWriting), sub.Round).
			Limit(1).
			Find(&game)
		if result.Error != nil || result.RowsAffected == 0 {
			return result.Error
		}
		result = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}, {Name: "user_id"}, {Name: "round"}},
			Where:     clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "round_submissions.sentinel = ?", Vars: []any{false}}}},
			DoUpdates: clause.AssignmentColumns([]string{"text", "sentinel", "updated_at"}),
		}).Create(&record)
		if result.Error != nil {
			return result.Error
		}
		applied = result.RowsAffected == 1
		return nil
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return Submission{}, false, ErrNotFound
		}
		return Submission{}, false, err
	}
	if !applied {
		if _, err := s.GetGame(ctx, sub.GameID); err != nil {
			return Submission{}, false, err
		}
		existing, err := s.getSubmission(ctx, sub.GameID, sub.UserID, sub.Round)
		if errors.Is(err, ErrNotFound) {
			return Submission{}, false, nil
		}
		return existing, false, err
	}
	existing, err := s.getSubmission(ctx, sub.GameID, sub.UserID, sub.Round)
	return existing, true, err
}

func (s *Gorm) InsertSubmissionIfAbsent(ctx context.Context, sub Submission) (Submission, bool, error) {
	record := db.RoundSubmission{
		GameID:      sub.GameID,
		UserID:      sub.UserID,
		Round:       sub.Round,
		Text:        sub.Text,
		Sentinel:    sub.Sentinel,
		SubmittedAt: time.Now().UTC(),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}, {Name: "user_id"}, {Name: "round"}},
			DoNothing: true,
		}).
		Create(&record)
	if result.Error != nil {
		return Submission{}, false, result.Error
	}
	existing, err := s.getSubmission(ctx, sub.GameID, sub.UserID, sub.Round)
	if err != nil {
		return Submission{}, false, err
	}
	return existing, result.RowsAffected == 1, nil
}

func (s *Gorm) getSubmission(ctx context.Context, gameID int64, userID string, round int) (Submission, error) {
	var record db.RoundSubmission
	err := s.db.WithContext(ctx).
		Where("game_id = ? AND user_id = ? AND round = ?", gameID, userID, round).
		First(&record).Error
	if err != nil {
		return Submission{}, mapNotFound(err)
	}
	return submissionFromRecord(record), nil
}

func (s *Gorm) ListSubmissions(ctx context.Context, gameID int64, round int) ([]Submission, error) {
	var records []db.RoundSubmission
	err := s.db.WithContext(ctx).
		Where("game_id = ? AND round = ?", gameID, round).
		Order("submitted_at asc, user_id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	out := make([]Submission, 0, len(records))
	for _, record := range records {
		out = append(out, submissionFromRecord(record))
	}
	return out, nil
}

func (s *Gorm) RecordJudgement(ctx context.Context, gameID int64, round int, scores map[string]float64, winnerID string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for userID, score := range scores {
			if err := tx.Model(&db.RoundSubmission{}).
				Where("game_id = ? AND round = ? AND user_id = ?", gameID, round, userID).
				Updates(map[string]any{
					"similarity": score,
					"winning":    gorm.Expr("(user_id = ? AND NOT sentinel)", winnerID),
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Gorm) AppendEvent(ctx context.Context, e Event) error {
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	record := db.Event{
		GameID:  e.GameID,
		Round:   e.Round,
		UserID:  nullString(e.UserID),
		Type:    e.Type,
		Payload: datatypes.JSON(payload),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

func (s *Gorm) ListEvents(ctx context.Context, gameID int64, limit int) ([]Event, error) {
	var records []db.Event
	query := s.db.WithContext(ctx).Where("game_id = ?", gameID).Order("id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]Event, len(records))
	for i, record := range records {
		// oldest first
		out[len(records)-1-i] = Event{
			ID:        record.ID,
			GameID:    record.GameID,
			Round:     record.Round,
			UserID:    derefString(record.UserID),
			Type:      record.Type,
			Payload:   []byte(record.Payload),
			CreatedAt: record.CreatedAt,
		}
	}
	return out, nil
}

func gameFromRecord(r db.Game) Game {
	return Game{
		ID:             r.ID,
		Code:           r.Code,
		Name:           r.Name,
		IsPublic:       r.IsPublic,
		Status:         Status(r.Status),
		CurrentRound:   r.CurrentRound,
		TotalRounds:    r.TotalRounds,
		TargetScore:    r.TargetScore,
		MasterID:       derefString(r.MasterID),
		CreatorID:      r.CreatorID,
		MasterPrompt:   derefString(r.MasterPrompt),
		MasterImageURL: derefString(r.MasterImageURL),
		LastError:      derefString(r.LastError),
		RoundStartedAt: r.RoundStartedAt,
		RoundEndedAt:   r.RoundEndedAt,
		EndedAt:        r.EndedAt,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func participantFromRecord(r db.Participant) Participant {
	return Participant{
		ID:              r.ID,
		GameID:          r.GameID,
		UserID:          r.UserID,
		Name:            r.Name,
		IsReady:         r.IsReady,
		IsCurrentMaster: r.IsCurrentMaster,
		CurrentPrompt:   derefString(r.CurrentPrompt),
		PromptRound:     r.PromptRound,
		Score:           r.Score,
		Similarity:      r.Similarity,
		LastScoredRound: r.LastScoredRound,
		Version:         r.Version,
		JoinedAt:        r.JoinedAt,
	}
}

func submissionFromRecord(r db.RoundSubmission) Submission {
	return Submission{
		ID:          r.ID,
		GameID:      r.GameID,
		UserID:      r.UserID,
		Round:       r.Round,
		Text:        r.Text,
		Sentinel:    r.Sentinel,
		Similarity:  r.Similarity,
		Winning:     r.Winning,
		SubmittedAt: r.SubmittedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func nullString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func nullTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
