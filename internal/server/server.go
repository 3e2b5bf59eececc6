package server

import (
	"net/http"
	"slices"
	"time"

	"prompt-master/internal/auth"
	"prompt-master/internal/config"
	"prompt-master/internal/game"
	"prompt-master/internal/replica"
	"prompt-master/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Server struct {
	machine  *game.Machine
	store    store.Store
	replicas *replica.Manager
	auth     *auth.Authenticator
	cfg      config.Config
	ws       *wsHub
	limiter  *rateLimiter
	upgrader websocket.Upgrader
	now      func() time.Time
}

func New(machine *game.Machine, replicas *replica.Manager, authn *auth.Authenticator, cfg config.Config) *Server {
	registerValidators()
	return &Server{
		machine:  machine,
		store:    machine.Store(),
		replicas: replicas,
		auth:     authn,
		cfg:      cfg,
		ws:       newWSHub(),
		limiter:  newRateLimiter(cfg.RateLimitPerMinute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.CORSOrigins),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.POST("/session", s.handleSession)

	authed := api.Group("", s.requireIdentity)
	authed.POST("/games", s.handleCreateGame)
	authed.POST("/join", s.handleJoin)
	authed.GET("/codes/:code", s.handleLookupCode)
	authed.GET("/games/:id", s.handleGetGame)
	authed.POST("/games/:id/ready", s.handleToggleReady)
	authed.POST("/games/:id/start", s.handleStart)
	authed.POST("/games/:id/master-prompt", s.handleMasterPrompt)
	authed.POST("/games/:id/guesses", s.handleGuess)
	authed.POST("/games/:id/leave", s.handleLeave)
	authed.POST("/games/:id/retry", s.handleRetry)
	authed.GET("/games/:id/rounds/:round/submissions", s.handleSubmissions)
	authed.GET("/games/:id/events", s.handleEvents)

	r.GET("/ws/games/:id", s.requireIdentity, s.handleWebsocket)
	return r
}

// Close disconnects every websocket client.
func (s *Server) Close() {
	s.ws.CloseAll()
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Authorization",
			"X-User-ID",
			"X-User-Name",
		},
		MaxAge: 12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}
