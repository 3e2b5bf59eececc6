package game

import (
	"sort"

	"prompt-master/internal/store"
)

type Outcome struct {
	Awards       map[string]int
	NextMasterID string
	Finished     bool
	Reason       string
}

// Score computes a judged round's result. Each correct guesser earns a point;
// when nobody is correct the master earns one instead. The best guesser
// becomes the next master.
func Score(game store.Game, participants []store.Participant, submissions []store.Submission, threshold float64) Outcome {
	outcome := Outcome{Awards: make(map[string]int)}
	round := game.CurrentRound

	seated := make(map[string]store.Participant, len(participants))
	for _, p := range participants {
		seated[p.UserID] = p
	}

	guesses := make([]store.Submission, 0, len(submissions))
	for _, s := range submissions {
		if s.Round != round || s.UserID == game.MasterID {
			continue
		}
		if _, ok := seated[s.UserID]; !ok {
			continue
		}
		guesses = append(guesses, s)
	}

	for _, s := range guesses {
		if !s.Sentinel && s.Similarity != nil && *s.Similarity >= threshold {
			outcome.Awards[s.UserID] = 1
		}
	}
	if len(outcome.Awards) == 0 {
		if _, ok := seated[game.MasterID]; ok && game.MasterID != "" {
			outcome.Awards[game.MasterID] = 1
		}
	}

	for _, p := range participants {
		total := p.Score
		if p.LastScoredRound < round {
			total += outcome.Awards[p.UserID]
		}
		if total >= game.TargetScore {
			outcome.Finished = true
			outcome.Reason = "target_score"
			return outcome
		}
	}
	if round >= game.TotalRounds {
		outcome.Finished = true
		outcome.Reason = "rounds_complete"
		return outcome
	}
	if len(participants) < 2 {
		outcome.Finished = true
		outcome.Reason = "not_enough_players"
		return outcome
	}

	outcome.NextMasterID = NextMaster(game.MasterID, participants, guesses)
	if outcome.NextMasterID == "" {
		outcome.Finished = true
		outcome.Reason = "no_eligible_master"
	}
	return outcome
}

// NextMaster ranks the non-master participants: real guesses before sentinels
// or missing guesses, then similarity, then earliest submission, then user id.
func NextMaster(masterID string, participants []store.Participant, guesses []store.Submission) string {
	byUser := make(map[string]store.Submission, len(guesses))
	for _, s := range guesses {
		byUser[s.UserID] = s
	}
	type candidate struct {
		userID     string
		answered   bool
		similarity float64
		submission store.Submission
	}
	candidates := make([]candidate, 0, len(participants))
	for _, p := range participants {
		if p.UserID == masterID {
			continue
		}
		c := candidate{userID: p.UserID}
		if s, ok := byUser[p.UserID]; ok {
			c.submission = s
			c.answered = !s.Sentinel
			if s.Similarity != nil {
				c.similarity = *s.Similarity
			}
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.answered != b.answered {
			return a.answered
		}
		if a.similarity != b.similarity {
			return a.similarity > b.similarity
		}
		if !a.submission.SubmittedAt.Equal(b.submission.SubmittedAt) {
			if a.submission.SubmittedAt.IsZero() || b.submission.SubmittedAt.IsZero() {
				return !a.submission.SubmittedAt.IsZero()
			}
			return a.submission.SubmittedAt.Before(b.submission.SubmittedAt)
		}
		return a.userID < b.userID
	})
	return candidates[0].userID
}
