package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	userA = "00000000-0000-0000-0000-00000000000a"
	userB = "00000000-0000-0000-0000-00000000000b"
	userC = "00000000-0000-0000-0000-00000000000c"
)

// runContract exercises behaviour every Store implementation must share.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	seed := func(t *testing.T, s Store, code string) Game {
		t.Helper()
		game, err := s.CreateGame(ctx, Game{Code: code, Name: "table", IsPublic: true, TotalRounds: 5, TargetScore: 5, CreatorID: userA})
		require.NoError(t, err)
		for _, user := range []string{userA, userB, userC} {
			_, _, err := s.AddParticipant(ctx, Participant{GameID: game.ID, UserID: user, Name: user[len(user)-1:]})
			require.NoError(t, err)
		}
		return game
	}

	t.Run("CreateGame_DuplicateCode", func(t *testing.T) {
		s := newStore(t)
		created, err := s.CreateGame(ctx, Game{Code: "abcd", Name: "one", TotalRounds: 5, TargetScore: 5, CreatorID: userA})
		require.NoError(t, err)
		assert.Equal(t, StatusWaiting, created.Status)
		assert.Equal(t, "ABCD", created.Code)

		_, err = s.CreateGame(ctx, Game{Code: "ABCD", Name: "two", TotalRounds: 5, TargetScore: 5, CreatorID: userB})
		assert.ErrorIs(t, err, ErrDuplicateCode)

		found, err := s.GetGameByCode(ctx, " abcd ")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)

		_, err = s.GetGame(ctx, created.ID+1000)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("AddParticipant_Idempotent", func(t *testing.T) {
		s := newStore(t)
		game := seed(t, s, "JOIN")
		again, created, err := s.AddParticipant(ctx, Participant{GameID: game.ID, UserID: userB, Name: "renamed"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "b", again.Name)

		rows, err := s.ListParticipants(ctx, game.ID)
		require.NoError(t, err)
		assert.Len(t, rows, 3)

		_, _, err = s.AddParticipant(ctx, Participant{GameID: game.ID + 1000, UserID: userA, Name: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateGameIf_Guard", func(t *testing.T) {
		s := newStore(t)
		game := seed(t, s, "CAS1")

		_, applied, err := s.UpdateGameIf(ctx, game.ID, Guard{Status: StatusMasterWriting}, GameChanges{Status: Ptr(StatusGenerating)})
		require.NoError(t, err)
		assert.False(t, applied)

		now := time.Now().UTC().Truncate(time.Millisecond)
		updated, applied, err := s.UpdateGameIf(ctx, game.ID, Guard{Status: StatusWaiting}, GameChanges{
			Status:         Ptr(StatusMasterWriting),
			CurrentRound:   Ptr(1),
			MasterID:       Ptr(userB),
			RoundStartedAt: Ptr(now),
		})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, StatusMasterWriting, updated.Status)
		assert.Equal(t, userB, updated.MasterID)
		assert.Greater(t, updated.Version, game.Version)
		require.NotNil(t, updated.RoundStartedAt)
		assert.True(t, now.Equal(*updated.RoundStartedAt))

		_, applied, err = s.UpdateGameIf(ctx, game.ID, Guard{Status: StatusMasterWriting, MasterID: userC}, GameChanges{MasterID: Ptr(userA)})
		require.NoError(t, err)
		assert.False(t, applied, "master pin must reject a stale re-roll")

		_, applied, err = s.UpdateGameIf(ctx, game.ID, Guard{Status: StatusMasterWriting, Round: 2}, GameChanges{MasterID: Ptr(userA)})
		require.NoError(t, err)
		assert.False(t, applied, "round pin must reject a stale trigger")

		cleared, applied, err := s.UpdateGameIf(ctx, game.ID, Guard{Status: StatusMasterWriting, Round: 1, MasterID: userB}, GameChanges{
			MasterPrompt:   Ptr(""),
			RoundStartedAt: Ptr(time.Time{}),
		})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Empty(t, cleared.MasterPrompt)
		assert.Nil(t, cleared.RoundStartedAt)
	})

	t.Run("UpdateGameIf_ConcurrentExactlyOne", func(t *testing.T) {
		s := newStore(t)
		game := seed(t, s, "CAS2")
		const peers = 8
		var wg sync.WaitGroup
		results := make(chan bool, peers)
		for i := 0; i < peers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, applied, err := s.UpdateGameIf(ctx, game.ID, Guard{Status: StatusWaiting}, GameChanges{Status: Ptr(StatusMasterWriting), CurrentRound: Ptr(1), MasterID: Ptr(userA)})
				assert.NoError(t, err)
				results <- applied
			}()
		}
		wg.Wait()
		close(results)
		count := 0
		for applied := range results {
			if applied {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("AwardPoints_OncePerRound", func(t *testing.T) {
		s := newStore(t)
		game := seed(t, s, "PTS1")
		p, awarded, err := s.AwardPoints(ctx, game.ID, userB, 1, 1)
		require.NoError(t, err)
		assert.True(t, awarded)
		assert.Equal(t, 1, p.Score)

		p, awarded, err = s.AwardPoints(ctx, game.ID, userB, 1, 1)
		require.NoError(t, err)
		assert.False(t, awarded)
		assert.Equal(t, 1, p.Score)

		p, awarded, err = s.AwardPoints(ctx, game.ID, userB, 2, 1)
		require.NoError(t, err)
		assert.True(t, awarded)
		assert.Equal(t, 2, p.Score)
		assert.Equal(t, 2, p.LastScoredRound)
	})

	t.Run("ResetParticipants_Idempotent", func(t *testing.T) {
		s := newStore(t)
		game := seed(t, s, "RST1")
		_, _, err := s.UpdateGameIf(ctx, game.ID, Guard{Status: StatusWaiting}, GameChanges{Status: Ptr(StatusMasterWriting), CurrentRound: Ptr(1), MasterID: Ptr(userA)})
		require.NoError(t, err)
		_, err = s.ResetParticipants(ctx, game.ID, userA, 1)
		require.NoError(t, err)

		_, err = s.SetGuess(ctx, game.ID, userB, 1, "a red fox")
		require.NoError(t, err)
		_, err = s.SetSimilarities(ctx, game.ID, 1, map[string]float64{userB: 0.9})
		require.NoError(t, err)

		// a reset for a round the game is not in leaves master flags alone
		rows, err := s.ResetParticipants(ctx, game.ID, userB, 2)
		require.NoError(t, err)
		assert.True(t, masterOf(rows) == userA)

		_, _, err = s.UpdateGameIf(ctx, game.ID, Guard{Status: StatusMasterWriting}, GameChanges{CurrentRound: Ptr(2), MasterID: Ptr(userB)})
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			rows, err = s.ResetParticipants(ctx, game.ID, userB, 2)
			require.NoError(t, err)
			assert.Equal(t, userB, masterOf(rows))
			for _, p := range rows {
				assert.Empty(t, p.CurrentPrompt)
				assert.Nil(t, p.Similarity)
				assert.Equal(t, 2, p.PromptRound)
			}
		}
	})

	t.Run("SetGuess_IgnoresOlderRound", func(t *testing.T) {
		s := newStore(t)
		game := seed(t, s, "GSS1")
		_, err := s.SetGuess(ctx, game.ID, userB, 2, "new")
		require.NoError(t, err)
		p, err := s.SetGuess(ctx, game.ID, userB, 1, "late")
		require.NoError(t, err)
		assert.Equal(t, "new", p.CurrentPrompt)

		_, err = s.SetGuess(ctx, game.ID, "missing", 1, "x")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Submissions", func(t *testing.T) {
		s := newStore(t)
		game := seed(t, s, "SUB1")
		_, applied, err := s.UpsertSubmission(ctx, Submission{GameID: game.ID, UserID: userB, Round: 1, Text: "early"})
		require.NoError(t, err)
		assert.False(t, applied, "guesses wait for playersWriting")

		_, applied, err = s.UpdateGameIf(ctx, game.ID, Guard{Status: StatusWaiting}, GameChanges{
			Status:       Ptr(StatusPlayersWriting),
			CurrentRound: Ptr(1),
			MasterID:     Ptr(userA),
		})
		require.NoError(t, err)
		require.True(t, applied)

		first, applied, err := s.UpsertSubmission(ctx, Submission{GameID: game.ID, UserID: userB, Round: 1, Text: "first"})
		require.NoError(t, err)
		assert.True(t, applied)
		updated, applied, err := s.UpsertSubmission(ctx, Submission{GameID: game.ID, UserID: userB, Round: 1, Text: "second"})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, "second", updated.Text)
		assert.True(t, first.SubmittedAt.Equal(updated.SubmittedAt), "an edit keeps its place in the tie-break")
		assert.False(t, updated.UpdatedAt.Before(first.UpdatedAt))

		_, applied, err = s.UpsertSubmission(ctx, Submission{GameID: game.ID, UserID: userB, Round: 2, Text: "ahead"})
		require.NoError(t, err)
		assert.False(t, applied, "only the current round is open")

		_, _, err = s.UpsertSubmission(ctx, Submission{GameID: game.ID + 1000, UserID: userB, Round: 1, Text: "x"})
		assert.ErrorIs(t, err, ErrNotFound)

		kept, inserted, err := s.InsertSubmissionIfAbsent(ctx, Submission{GameID: game.ID, UserID: userB, Round: 1, Text: "no answer", Sentinel: true})
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, "second", kept.Text)

		sentinel, inserted, err := s.InsertSubmissionIfAbsent(ctx, Submission{GameID: game.ID, UserID: userC, Round: 1, Text: "no answer", Sentinel: true})
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.True(t, sentinel.Sentinel)

		require.NoError(t, s.RecordJudgement(ctx, game.ID, 1, map[string]float64{userB: 0.4, userC: 0.9}, userC))
		subs, err := s.ListSubmissions(ctx, game.ID, 1)
		require.NoError(t, err)
		require.Len(t, subs, 2)
		for _, sub := range subs {
			require.NotNil(t, sub.Similarity)
			assert.False(t, sub.Winning, "sentinel %s must never win", sub.UserID)
		}

		require.NoError(t, s.RecordJudgement(ctx, game.ID, 1, map[string]float64{userB: 0.4, userC: 0.1}, userB))
		subs, err = s.ListSubmissions(ctx, game.ID, 1)
		require.NoError(t, err)
		for _, sub := range subs {
			assert.Equal(t, sub.UserID == userB, sub.Winning)
		}

		late, applied, err := s.UpsertSubmission(ctx, Submission{GameID: game.ID, UserID: userC, Round: 1, Text: "too late"})
		require.NoError(t, err)
		assert.False(t, applied, "a sentinel is never replaced")
		assert.True(t, late.Sentinel)
		assert.Equal(t, "no answer", late.Text)

		other, err := s.ListSubmissions(ctx, game.ID, 2)
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("CreateGame_Private", func(t *testing.T) {
		s := newStore(t)
		created, err := s.CreateGame(ctx, Game{Code: "PRIV", Name: "hidden", IsPublic: false, TotalRounds: 5, TargetScore: 5, CreatorID: userA})
		require.NoError(t, err)
		assert.False(t, created.IsPublic)

		found, err := s.GetGame(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, found.IsPublic)

		public, err := s.CreateGame(ctx, Game{Code: "OPEN", Name: "shown", IsPublic: true, TotalRounds: 5, TargetScore: 5, CreatorID: userA})
		require.NoError(t, err)
		found, err = s.GetGame(ctx, public.ID)
		require.NoError(t, err)
		assert.True(t, found.IsPublic)
	})

	t.Run("RemoveParticipant", func(t *testing.T) {
		s := newStore(t)
		game := seed(t, s, "LEV1")
		removed, ok, err := s.RemoveParticipant(ctx, game.ID, userC)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, userC, removed.UserID)

		_, ok, err = s.RemoveParticipant(ctx, game.ID, userC)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.GetParticipant(ctx, game.ID, userC)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Events", func(t *testing.T) {
		s := newStore(t)
		game := seed(t, s, "EVT1")
		for _, kind := range []string{"game_created", "game_started", "round_scored"} {
			require.NoError(t, s.AppendEvent(ctx, Event{GameID: game.ID, Type: kind, Payload: []byte(`{"ok":true}`)}))
		}
		events, err := s.ListEvents(ctx, game.ID, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "game_started", events[0].Type)
		assert.Equal(t, "round_scored", events[1].Type)
	})
}

func masterOf(rows []Participant) string {
	master := ""
	for _, p := range rows {
		if p.IsCurrentMaster {
			if master != "" {
				return "multiple"
			}
			master = p.UserID
		}
	}
	return master
}
