package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"prompt-master/internal/judge"
	"prompt-master/internal/store"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	u1 = "00000000-0000-0000-0000-000000000001"
	u2 = "00000000-0000-0000-0000-000000000002"
	u3 = "00000000-0000-0000-0000-000000000003"
	u4 = "00000000-0000-0000-0000-000000000004"
)

type mockImages struct {
	mock.Mock
}

func (m *mockImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// scriptedBackend scores guesses by exact text; unknown text scores 0.
type scriptedBackend struct {
	mu     sync.Mutex
	scores map[string]float64
	err    error
	calls  int
}

func (b *scriptedBackend) Similarities(_ context.Context, _ string, guesses []string) ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	out := make([]float64, len(guesses))
	for i, g := range guesses {
		out[i] = b.scores[g]
	}
	return out, nil
}

func (b *scriptedBackend) set(scores map[string]float64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scores = scores
	b.err = err
}

type fakeNow struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// recordingStore notes every applied status change. beforeUpsert, when set,
// runs once ahead of the next submission write.
type recordingStore struct {
	store.Store
	mu           sync.Mutex
	edges        [][2]store.Status
	beforeUpsert func()
}

func (r *recordingStore) UpsertSubmission(ctx context.Context, s store.Submission) (store.Submission, bool, error) {
	r.mu.Lock()
	hook := r.beforeUpsert
	r.beforeUpsert = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return r.Store.UpsertSubmission(ctx, s)
}

func (r *recordingStore) UpdateGameIf(ctx context.Context, id int64, guard store.Guard, changes store.GameChanges) (store.Game, bool, error) {
	game, applied, err := r.Store.UpdateGameIf(ctx, id, guard, changes)
	if applied {
		r.mu.Lock()
		r.edges = append(r.edges, [2]store.Status{guard.Status, game.Status})
		r.mu.Unlock()
	}
	return game, applied, err
}

func (r *recordingStore) Edges() [][2]store.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]store.Status, len(r.edges))
	copy(out, r.edges)
	return out
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *recordingStore
	machine *Machine
	images  *mockImages
	backend *scriptedBackend
	clock   *fakeNow
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		store:   &recordingStore{Store: store.NewMemory()},
		images:  new(mockImages),
		backend: &scriptedBackend{scores: map[string]float64{}},
		clock:   &fakeNow{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.machine = NewMachine(h.store, h.images, judge.New(h.backend), Options{
		RoundDuration:   30 * time.Second,
		Threshold:       0.80,
		JudgeRetries:    2,
		GenerateRetries: 1,
		RetryMin:        time.Millisecond,
		RetryMax:        2 * time.Millisecond,
		Now:             h.clock.Now,
		Intn:            func(int) int { return 0 },
	})
	t.Cleanup(h.machine.Close)
	return h
}

// start creates a game with u1 as creator, seats the others, readies all and
// starts. Master selection always picks the first seat (u1).
func (h *harness) start(params CreateParams, others ...string) store.Game {
	h.t.Helper()
	created, err := h.machine.CreateGame(h.ctx, Player{UserID: u1, Name: "one"}, params)
	require.NoError(h.t, err)
	for _, user := range others {
		_, _, err := h.machine.JoinGame(h.ctx, created.Code, Player{UserID: user, Name: user[len(user)-1:]})
		require.NoError(h.t, err)
	}
	for _, user := range append([]string{u1}, others...) {
		_, err := h.machine.ToggleReady(h.ctx, created.ID, user)
		require.NoError(h.t, err)
	}
	game, err := h.machine.StartGame(h.ctx, created.ID, u1)
	require.NoError(h.t, err)
	require.Equal(h.t, store.StatusMasterWriting, game.Status)
	return game
}

// writePrompt submits the master prompt and waits for the image.
func (h *harness) writePrompt(gameID int64, master, prompt string) store.Game {
	h.t.Helper()
	h.images.On("GenerateImage", mock.Anything, prompt).Return("https://img.test/"+prompt+".png", nil).Once()
	_, err := h.machine.SubmitMasterPrompt(h.ctx, gameID, master, prompt)
	require.NoError(h.t, err)
	h.machine.Wait()
	return h.game(gameID)
}

func (h *harness) guess(gameID int64, user string, round int, text string) {
	h.t.Helper()
	_, err := h.machine.SubmitGuess(h.ctx, gameID, user, round, text)
	require.NoError(h.t, err)
}

func (h *harness) game(id int64) store.Game {
	h.t.Helper()
	game, err := h.store.GetGame(h.ctx, id)
	require.NoError(h.t, err)
	return game
}

func (h *harness) participants(id int64) map[string]store.Participant {
	h.t.Helper()
	rows, err := h.store.ListParticipants(h.ctx, id)
	require.NoError(h.t, err)
	out := make(map[string]store.Participant, len(rows))
	for _, p := range rows {
		out[p.UserID] = p
	}
	return out
}

func masters(rows map[string]store.Participant) []string {
	out := make([]string, 0, 1)
	for id, p := range rows {
		if p.IsCurrentMaster {
			out = append(out, id)
		}
	}
	return out
}
