package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"prompt-master/internal/auth"
	"prompt-master/internal/config"
	"prompt-master/internal/game"
	"prompt-master/internal/judge"
	"prompt-master/internal/notify"
	"prompt-master/internal/replica"
	"prompt-master/internal/store"

	"github.com/gin-gonic/gin"
)

const (
	alice = "11111111-1111-4111-8111-111111111111"
	bob   = "22222222-2222-4222-8222-222222222222"
	carol = "33333333-3333-4333-8333-333333333333"
)

type fakeImages struct{}

func (fakeImages) GenerateImage(_ context.Context, prompt string) (string, error) {
	return "https://img.test/" + url.PathEscape(prompt) + ".png", nil
}

type testEnv struct {
	t       *testing.T
	srv     *Server
	ts      *httptest.Server
	machine *game.Machine
	store   store.Store
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bus := notify.NewMemory()
	st := notify.NewPublishing(store.NewMemory(), bus)
	machine := game.NewMachine(st, fakeImages{}, judge.New(judge.LexicalBackend{}), game.Options{
		RoundDuration: time.Minute,
		RetryMin:      time.Millisecond,
		RetryMax:      2 * time.Millisecond,
		Intn:          func(int) int { return 0 },
	})
	t.Cleanup(machine.Close)
	replicas := replica.NewManager(st, bus, machine, replica.Options{
		RoundDuration: time.Minute,
		StallWindow:   time.Minute,
	})
	t.Cleanup(replicas.Close)

	cfg := config.Default()
	cfg.RateLimitPerMinute = 0
	srv := New(machine, replicas, auth.New(secret), cfg)
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)
	return &testEnv{t: t, srv: srv, ts: ts, machine: machine, store: st}
}

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	return ts
}

// do sends a request as userID via the development identity headers.
func (e *testEnv) do(method, path, userID string, payload any) *http.Response {
	e.t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			e.t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &body)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-User-Name", "user-"+userID[:4])
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		e.t.Fatalf("request %s %s: %v", method, path, err)
	}
	e.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) expect(resp *http.Response, status int) map[string]any {
	e.t.Helper()
	if resp.StatusCode != status {
		body := decodeBody(e.t, resp)
		e.t.Fatalf("expected status %d, got %d (%v)", status, resp.StatusCode, body)
	}
	if status == http.StatusNoContent {
		return nil
	}
	return decodeBody(e.t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

// createGame creates a game as alice and seats the others.
func (e *testEnv) createGame(others ...string) (string, string) {
	e.t.Helper()
	body := e.expect(e.do(http.MethodPost, "/api/games", alice, map[string]any{"name": "table"}), http.StatusCreated)
	gameID := jsonID(e.t, body["game_id"])
	code, _ := body["join_code"].(string)
	for _, user := range others {
		e.expect(e.do(http.MethodPost, "/api/join", user, map[string]string{"code": code}), http.StatusOK)
	}
	return gameID, code
}

func (e *testEnv) readyAll(gameID string, users ...string) {
	e.t.Helper()
	for _, user := range users {
		body := e.expect(e.do(http.MethodPost, "/api/games/"+gameID+"/ready", user, nil), http.StatusOK)
		if body["is_ready"] != true {
			e.t.Fatalf("expected %s ready, got %v", user, body)
		}
	}
}

func (e *testEnv) snapshot(gameID, viewer string) map[string]any {
	e.t.Helper()
	return e.expect(e.do(http.MethodGet, "/api/games/"+gameID, viewer, nil), http.StatusOK)
}

func jsonID(t *testing.T, value any) string {
	t.Helper()
	f, ok := value.(float64)
	if !ok {
		t.Fatalf("expected numeric id, got %T", value)
	}
	return strconv.FormatInt(int64(f), 10)
}

func gameField(body map[string]any, key string) any {
	g, _ := body["game"].(map[string]any)
	return g[key]
}

func playerByID(body map[string]any, userID string) map[string]any {
	players, _ := body["players"].([]any)
	for _, raw := range players {
		p, _ := raw.(map[string]any)
		if p["user_id"] == userID {
			return p
		}
	}
	return nil
}
