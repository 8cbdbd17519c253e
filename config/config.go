package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type AppConfig struct {
	App struct {
		Name     string
		Port     string
		LogLevel string
		DevMode  bool
	}
	Redis struct {
		Host       string
		Port       int
		Password   string
		DB         int
		HistoryTTL time.Duration
	}
	Kafka struct {
		Brokers []string
		GroupID string
	}
	Judge struct {
		APIURL    string
		APIKey    string
		Model     string
		Timeout   time.Duration
		MaxTokens int
		// RatePerMinute bounds outgoing judge calls across all workers.
		RatePerMinute int
	}
	Engine struct {
		Concurrency       int
		MaxWinners        int
		ChallengeCacheTTL time.Duration
	}
	Auth struct {
		JWTSecret string
	}
	RateLimit struct {
		Requests int
		Window   time.Duration
	}
}

var Config AppConfig

func InitConfig(DevMode bool) *AppConfig {
	if DevMode {
		if err := godotenv.Load(); err != nil {
			log.Error().Err(err).Msg("Error loading .env file")
		}
	}

	Config.App.Name = getEnv("APP_NAME", "cdex-judge-service")
	Config.App.Port = getEnv("PORT", "6002")
	Config.App.LogLevel = getEnv("LOG_LEVEL", "info")
	Config.App.DevMode = DevMode

	Config.Redis.Host = getEnv("REDIS_HOST", "localhost")
	Config.Redis.Port = getEnvInt("REDIS_PORT", 6379)
	Config.Redis.Password = os.Getenv("REDIS_PASSWORD")
	Config.Redis.DB = getEnvInt("REDIS_DB", 0)
	Config.Redis.HistoryTTL = getEnvDuration("REDIS_HISTORY_TTL", 7*24*time.Hour)

	Config.Kafka.Brokers = strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	Config.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", "cdex-judge-service")

	Config.Judge.APIURL = getEnv("JUDGE_API_URL", "https://api.openai.com/v1/chat/completions")
	Config.Judge.APIKey = os.Getenv("JUDGE_API_KEY")
	Config.Judge.Model = getEnv("JUDGE_MODEL", "gpt-4o-mini")
	Config.Judge.Timeout = getEnvDuration("JUDGE_TIMEOUT", 30*time.Second)
	Config.Judge.MaxTokens = getEnvInt("JUDGE_MAX_TOKENS", 500)
	Config.Judge.RatePerMinute = getEnvInt("JUDGE_RATE_PER_MINUTE", 60)

	Config.Engine.Concurrency = getEnvInt("ENGINE_CONCURRENCY", 4)
	Config.Engine.MaxWinners = getEnvInt("ENGINE_MAX_WINNERS", 3)
	Config.Engine.ChallengeCacheTTL = getEnvDuration("CHALLENGE_CACHE_TTL", 5*time.Minute)

	Config.Auth.JWTSecret = os.Getenv("JWT_SECRET")

	Config.RateLimit.Requests = getEnvInt("RATE_LIMIT_REQUESTS", 100)
	Config.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", time.Minute)

	return &Config
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using default")
		return fallback
	}
	return d
}
