package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prompt-master/internal/auth"
	"prompt-master/internal/config"
	"prompt-master/internal/db"
	"prompt-master/internal/game"
	"prompt-master/internal/judge"
	"prompt-master/internal/notify"
	"prompt-master/internal/openai"
	"prompt-master/internal/replica"
	"prompt-master/internal/server"
	"prompt-master/internal/store"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// placeholderImages stands in for the image backend when no API key is set.
type placeholderImages struct{}

func (placeholderImages) GenerateImage(context.Context, string) (string, error) {
	return "https://placehold.co/1024x1024/png?text=%3F", nil
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warnf("failed to load .env: %v", err)
	}
	cfg := config.Load()
	config.SetupLogging(cfg)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore := openStore(cfg)
	defer closeStore()

	bus, err := openBus(ctx, cfg)
	if err != nil {
		log.Fatalf("notification bus setup failed backend=%s error=%v", cfg.NotifyBackend, err)
	}
	defer bus.Close()
	published := notify.NewPublishing(st, bus)

	ai := openai.New(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		EmbeddingModel: cfg.OpenAIEmbeddingModel,
		ImageModel:     cfg.OpenAIImageModel,
		ImageSize:      cfg.OpenAIImageSize,
	})
	var images game.ImageGenerator = ai
	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY is not set; using placeholder images")
		images = placeholderImages{}
	}
	var backend judge.Backend = judge.NewEmbeddingBackend(ai)
	if cfg.SimilarityBackend != "openai" || cfg.OpenAIAPIKey == "" {
		log.Infof("using lexical similarity backend")
		backend = judge.LexicalBackend{}
	}

	machine := game.NewMachine(published, images, judge.New(backend), game.Options{
		RoundDuration:      cfg.RoundDuration(),
		Threshold:          cfg.AcceptThreshold,
		DefaultTotalRounds: cfg.DefaultTotalRounds,
		DefaultTargetScore: cfg.DefaultTargetScore,
		JudgeRetries:       cfg.JudgeRetries,
		GenerateRetries:    cfg.GenerateRetries,
		RetryMin:           cfg.RetryMin(),
		RetryMax:           cfg.RetryMax(),
	})
	replicas := replica.NewManager(published, bus, machine, replica.Options{
		RoundDuration: cfg.RoundDuration(),
		StallWindow:   cfg.StallDuration(),
	})
	srv := server.New(machine, replicas, auth.New(cfg.AuthSecret), cfg)
	if cfg.AuthSecret == "" {
		log.Warn("AUTH_SECRET is not set; trusting X-User-ID headers")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("prompt-master listening on %s notify=%s", httpServer.Addr, cfg.NotifyBackend)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	srv.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown failed: %v", err)
	}
	replicas.Close()
	machine.Close()
	log.Info("prompt-master stopped")
}

func openStore(cfg config.Config) (store.Store, func()) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL is not set; games live in memory only")
		return store.NewMemory(), func() {}
	}
	conn, err := db.Open(db.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTimeSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		log.Fatalf("database handle failed: %v", err)
	}
	return store.NewGorm(conn), func() { _ = sqlDB.Close() }
}

func openBus(ctx context.Context, cfg config.Config) (notify.Bus, error) {
	switch cfg.NotifyBackend {
	case "nats":
		return notify.ConnectNATS(cfg.NATSURL, cfg.NATSToken)
	case "redis":
		return notify.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("postgres notifications need DATABASE_URL")
		}
		return notify.NewPostgres(ctx, cfg.DatabaseURL)
	case "", "memory":
		return notify.NewMemory(), nil
	default:
		return nil, errors.New("unknown NOTIFY_BACKEND " + cfg.NotifyBackend)
	}
}
