package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                     string
	RoundSeconds             int
	StallSeconds             int
	AcceptThreshold          float64
	DefaultTotalRounds       int
	DefaultTargetScore       int
	JudgeRetries             int
	GenerateRetries          int
	RetryMinMillis           int
	RetryMaxMillis           int
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeSeconds int
	DBConnMaxIdleTimeSeconds int
	DatabaseURL              string
	OpenAIAPIKey             string
	OpenAIEmbeddingModel     string
	OpenAIImageModel         string
	OpenAIImageSize          string
	SimilarityBackend        string
	NotifyBackend            string
	NATSURL                  string
	NATSToken                string
	RedisAddr                string
	RedisPassword            string
	AuthSecret               string
	CORSOrigins              []string
	RateLimitPerMinute       int
	LogLevel                 string
	LogFormat                string
}

func Default() Config {
	return Config{
		Port:                     "8080",
		RoundSeconds:             30,
		StallSeconds:             90,
		AcceptThreshold:          0.80,
		DefaultTotalRounds:       5,
		DefaultTargetScore:       5,
		JudgeRetries:             3,
		GenerateRetries:          2,
		RetryMinMillis:           500,
		RetryMaxMillis:           5000,
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
		OpenAIEmbeddingModel:     "text-embedding-3-small",
		OpenAIImageModel:         "dall-e-3",
		OpenAIImageSize:          "1024x1024",
		SimilarityBackend:        "openai",
		NotifyBackend:            "memory",
		NATSURL:                  "nats://127.0.0.1:4222",
		RedisAddr:                "127.0.0.1:6379",
		CORSOrigins:              []string{"*"},
		RateLimitPerMinute:       120,
		LogLevel:                 "info",
		LogFormat:                "text",
	}
}

func Load() Config {
	cfg := Default()
	if raw := os.Getenv("PORT"); raw != "" {
		cfg.Port = raw
	}
	if raw := os.Getenv("ROUND_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.RoundSeconds = value
		}
	}
	if raw := os.Getenv("STALL_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.StallSeconds = value
		}
	}
	if raw := os.Getenv("ACCEPT_THRESHOLD"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil && value > 0 && value <= 1 {
			cfg.AcceptThreshold = value
		}
	}
	if raw := os.Getenv("DEFAULT_TOTAL_ROUNDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DefaultTotalRounds = value
		}
	}
	if raw := os.Getenv("DEFAULT_TARGET_SCORE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DefaultTargetScore = value
		}
	}
	if raw := os.Getenv("JUDGE_RETRIES"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			cfg.JudgeRetries = value
		}
	}
	if raw := os.Getenv("GENERATE_RETRIES"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			cfg.GenerateRetries = value
		}
	}
	if raw := os.Getenv("RETRY_MIN_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.RetryMinMillis = value
		}
	}
	if raw := os.Getenv("RETRY_MAX_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.RetryMaxMillis = value
		}
	}
	if raw := os.Getenv("DB_MAX_OPEN_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxOpenConns = value
		}
	}
	if raw := os.Getenv("DB_MAX_IDLE_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxIdleConns = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_LIFETIME_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxLifetimeSeconds = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_IDLE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxIdleTimeSeconds = value
		}
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if raw := os.Getenv("OPENAI_API_KEY"); raw != "" {
		cfg.OpenAIAPIKey = raw
	}
	if raw := os.Getenv("OPENAI_EMBEDDING_MODEL"); raw != "" {
		cfg.OpenAIEmbeddingModel = raw
	}
	if raw := os.Getenv("OPENAI_IMAGE_MODEL"); raw != "" {
		cfg.OpenAIImageModel = raw
	}
	if raw := os.Getenv("OPENAI_IMAGE_SIZE"); raw != "" {
		cfg.OpenAIImageSize = raw
	}
	if raw := os.Getenv("SIMILARITY_BACKEND"); raw != "" {
		cfg.SimilarityBackend = strings.ToLower(raw)
	}
	if raw := os.Getenv("NOTIFY_BACKEND"); raw != "" {
		cfg.NotifyBackend = strings.ToLower(raw)
	}
	if raw := os.Getenv("NATS_URL"); raw != "" {
		cfg.NATSURL = raw
	}
	cfg.NATSToken = os.Getenv("NATS_TOKEN")
	if raw := os.Getenv("REDIS_ADDR"); raw != "" {
		cfg.RedisAddr = raw
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.AuthSecret = os.Getenv("AUTH_SECRET")
	if raw := os.Getenv("CORS_ORIGINS"); raw != "" {
		origins := make([]string, 0)
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		if len(origins) > 0 {
			cfg.CORSOrigins = origins
		}
	}
	if raw := os.Getenv("RATE_LIMIT_PER_MINUTE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			cfg.RateLimitPerMinute = value
		}
	}
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("LOG_FORMAT"); raw != "" {
		cfg.LogFormat = strings.ToLower(raw)
	}
	return cfg
}

func (c Config) RoundDuration() time.Duration {
	return time.Duration(c.RoundSeconds) * time.Second
}

func (c Config) StallDuration() time.Duration {
	return time.Duration(c.StallSeconds) * time.Second
}

func (c Config) RetryMin() time.Duration {
	return time.Duration(c.RetryMinMillis) * time.Millisecond
}

func (c Config) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxMillis) * time.Millisecond
}
