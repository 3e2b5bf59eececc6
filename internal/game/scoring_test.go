package game

import (
	"testing"
	"time"

	"prompt-master/internal/store"

	"github.com/stretchr/testify/assert"
)

func sim(v float64) *float64 { return &v }

func TestScoreExamples(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	game := store.Game{CurrentRound: 1, TotalRounds: 5, TargetScore: 5, MasterID: "m"}
	participants := []store.Participant{{UserID: "m"}, {UserID: "p1"}, {UserID: "p2"}}

	cases := []struct {
		name        string
		submissions []store.Submission
		awards      map[string]int
		next        string
	}{
		{
			name: "one correct",
			submissions: []store.Submission{
				{UserID: "p1", Round: 1, Similarity: sim(0.85), SubmittedAt: t0},
				{UserID: "p2", Round: 1, Similarity: sim(0.40), SubmittedAt: t0},
			},
			awards: map[string]int{"p1": 1},
			next:   "p1",
		},
		{
			name: "none correct",
			submissions: []store.Submission{
				{UserID: "p1", Round: 1, Similarity: sim(0.30), SubmittedAt: t0},
				{UserID: "p2", Round: 1, Similarity: sim(0.50), SubmittedAt: t0},
			},
			awards: map[string]int{"m": 1},
			next:   "p2",
		},
		{
			name: "both correct",
			submissions: []store.Submission{
				{UserID: "p1", Round: 1, Similarity: sim(0.80), SubmittedAt: t0.Add(time.Second)},
				{UserID: "p2", Round: 1, Similarity: sim(0.80), SubmittedAt: t0},
			},
			awards: map[string]int{"p1": 1, "p2": 1},
			next:   "p2",
		},
		{
			name: "sentinel scores nothing and ranks last",
			submissions: []store.Submission{
				{UserID: "p1", Round: 1, Similarity: sim(0.95), Sentinel: true, SubmittedAt: t0},
				{UserID: "p2", Round: 1, Similarity: sim(0.10), SubmittedAt: t0.Add(time.Second)},
			},
			awards: map[string]int{"m": 1},
			next:   "p2",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := Score(game, participants, tc.submissions, 0.80)
			assert.Equal(t, tc.awards, outcome.Awards)
			assert.False(t, outcome.Finished)
			assert.Equal(t, tc.next, outcome.NextMasterID)
		})
	}
}

func TestScoreWinConditions(t *testing.T) {
	subs := []store.Submission{{UserID: "p1", Round: 2, Similarity: sim(0.9)}}

	game := store.Game{CurrentRound: 2, TotalRounds: 5, TargetScore: 3, MasterID: "m"}
	outcome := Score(game, []store.Participant{{UserID: "m"}, {UserID: "p1", Score: 2, LastScoredRound: 1}}, subs, 0.8)
	assert.True(t, outcome.Finished)
	assert.Equal(t, "target_score", outcome.Reason)

	// already awarded this round: the stored score is final
	outcome = Score(game, []store.Participant{{UserID: "m"}, {UserID: "p1", Score: 2, LastScoredRound: 2}}, subs, 0.8)
	assert.False(t, outcome.Finished)

	game = store.Game{CurrentRound: 5, TotalRounds: 5, TargetScore: 10, MasterID: "m"}
	outcome = Score(game, []store.Participant{{UserID: "m"}, {UserID: "p1"}}, nil, 0.8)
	assert.True(t, outcome.Finished)
	assert.Equal(t, "rounds_complete", outcome.Reason)

	game = store.Game{CurrentRound: 1, TotalRounds: 5, TargetScore: 10, MasterID: "m"}
	outcome = Score(game, []store.Participant{{UserID: "p1"}}, nil, 0.8)
	assert.True(t, outcome.Finished)
	assert.Equal(t, "not_enough_players", outcome.Reason)
	assert.Empty(t, outcome.Awards, "a departed master earns nothing")
}

func TestScoreIgnoresDepartedAndOtherRounds(t *testing.T) {
	game := store.Game{CurrentRound: 3, TotalRounds: 5, TargetScore: 5, MasterID: "m"}
	participants := []store.Participant{{UserID: "m"}, {UserID: "p1"}, {UserID: "p2"}}
	subs := []store.Submission{
		{UserID: "gone", Round: 3, Similarity: sim(0.99)},
		{UserID: "p1", Round: 2, Similarity: sim(0.99)},
		{UserID: "p2", Round: 3, Similarity: sim(0.2)},
	}
	outcome := Score(game, participants, subs, 0.8)
	assert.Equal(t, map[string]int{"m": 1}, outcome.Awards)
	assert.Equal(t, "p2", outcome.NextMasterID, "a guesser who answered beats one who did not")
}

func TestNextMasterNeverRepeats(t *testing.T) {
	participants := []store.Participant{{UserID: "m"}, {UserID: "b"}, {UserID: "a"}}
	assert.Equal(t, "a", NextMaster("m", participants, nil), "ties fall back to user id")
	assert.Equal(t, "", NextMaster("m", []store.Participant{{UserID: "m"}}, nil))
}
