package youthgov

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type AppConfig struct {
	Mode    string
	ApiPort string

	JWTConfig struct {
		Secret     string
		Expiration int // in minutes
	}

	RealtimeConfig struct {
		StrictAuth bool
		NatsURL    string
	}

	RedisConfig struct {
		Host     string
		Port     string
		Password string
		DB       int
	}

	CSRFConfig struct {
		TokenTTL time.Duration
	}
}

// Load reads the given env file and builds the application config.
// The returned value is passed explicitly to every component that needs it;
// there is no package-global config.
func Load(envfile string) AppConfig {
	if err := godotenv.Load(envfile); err != nil {
		log.Printf("no %s file loaded: %s", envfile, err)
	}

	cfg := AppConfig{
		Mode:    GetEnv("RUN_MODE", "dev"),
		ApiPort: GetEnv("API_PORT", ":8080"),
	}

	cfg.JWTConfig.Secret = getEnvOrPanic("JWT_SECRET")
	cfg.JWTConfig.Expiration = getIntEnvOrDefault("JWT_EXPIRATION_MINUTES", 60)

	cfg.RealtimeConfig.StrictAuth = GetEnv("REALTIME_STRICT_AUTH", "false") == "true"
	cfg.RealtimeConfig.NatsURL = GetEnv("NATS_URL", "nats://localhost:4222")

	cfg.RedisConfig.Host = GetEnv("REDIS_HOST", "localhost")
	cfg.RedisConfig.Port = GetEnv("REDIS_PORT", "6379")
	cfg.RedisConfig.Password = GetEnv("REDIS_PASSWORD", "")
	cfg.RedisConfig.DB = getIntEnvOrDefault("REDIS_DB", 0)

	cfg.CSRFConfig.TokenTTL = time.Duration(getIntEnvOrDefault("CSRF_TOKEN_TTL_MINUTES", 120)) * time.Minute

	return cfg
}

func getEnvOrPanic(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("%s must be set", key)
	}
	return value
}

func GetEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

// NewLogger builds the console logger shared by the whole process.
func NewLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
		NoColor:    false,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("  %s  ", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s=", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		},
	}

	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

// ConnectRedis opens and pings the redis client used by the CSRF token store.
func ConnectRedis(cfg AppConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisConfig.Host, cfg.RedisConfig.Port),
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	return client, nil
}
