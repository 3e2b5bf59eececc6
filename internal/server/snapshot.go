package server

import (
	"time"

	"prompt-master/internal/game"
	"prompt-master/internal/store"
)

// snapshot renders the game for one viewer. The master prompt and other
// players' guesses stay hidden until the round is judged.
func snapshot(g store.Game, participants []store.Participant, viewerID string, remaining time.Duration) map[string]any {
	judged := game.Judged(g, g.CurrentRound)
	prompt := ""
	if g.MasterPrompt != "" && (judged || viewerID == g.MasterID) {
		prompt = g.MasterPrompt
	}
	players := make([]map[string]any, 0, len(participants))
	submitted := 0
	guessers := 0
	seated := false
	for _, p := range participants {
		if p.UserID == viewerID {
			seated = true
		}
		hasGuessed := p.CurrentPrompt != "" && p.PromptRound == g.CurrentRound
		if !p.IsCurrentMaster {
			guessers++
			if hasGuessed {
				submitted++
			}
		}
		entry := map[string]any{
			"user_id":     p.UserID,
			"name":        p.Name,
			"is_ready":    p.IsReady,
			"is_master":   p.IsCurrentMaster,
			"is_creator":  p.UserID == g.CreatorID,
			"score":       p.Score,
			"has_guessed": hasGuessed,
		}
		if hasGuessed && (judged || p.UserID == viewerID) {
			entry["guess"] = p.CurrentPrompt
		}
		if judged && p.Similarity != nil {
			entry["similarity"] = *p.Similarity
		}
		players = append(players, entry)
	}
	return map[string]any{
		"type": "snapshot",
		"game": map[string]any{
			"id":               g.ID,
			"code":             g.Code,
			"name":             g.Name,
			"is_public":        g.IsPublic,
			"status":           g.Status,
			"current_round":    g.CurrentRound,
			"total_rounds":     g.TotalRounds,
			"target_score":     g.TargetScore,
			"master_id":        g.MasterID,
			"creator_id":       g.CreatorID,
			"master_prompt":    prompt,
			"master_image_url": g.MasterImageURL,
			"last_error":       g.LastError,
			"round_started_at": timeValue(g.RoundStartedAt),
			"round_ended_at":   timeValue(g.RoundEndedAt),
			"ended_at":         timeValue(g.EndedAt),
			"version":          g.Version,
		},
		"players":         players,
		"submitted_count": submitted,
		"guesser_count":   guessers,
		"remaining_ms":    remaining.Milliseconds(),
		"you": map[string]any{
			"user_id":   viewerID,
			"seated":    seated,
			"is_master": viewerID != "" && viewerID == g.MasterID,
		},
	}
}

func submissionPayload(rows []store.Submission) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		entry := map[string]any{
			"user_id":      row.UserID,
			"round":        row.Round,
			"text":         row.Text,
			"sentinel":     row.Sentinel,
			"winning":      row.Winning,
			"submitted_at": row.SubmittedAt,
		}
		if row.Similarity != nil {
			entry["similarity"] = *row.Similarity
		}
		out = append(out, entry)
	}
	return out
}

func eventPayload(rows []store.Event) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		entry := map[string]any{
			"id":         row.ID,
			"type":       row.Type,
			"round":      row.Round,
			"created_at": row.CreatedAt,
		}
		if row.UserID != "" {
			entry["user_id"] = row.UserID
		}
		if len(row.Payload) > 0 {
			entry["payload"] = row.Payload
		}
		out = append(out, entry)
	}
	return out
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
