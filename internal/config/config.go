package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DB        DBConfig
	MinIO     MinIOConfig
	JWT       JWTConfig
	Server    ServerConfig
	VAPID     VAPIDConfig
	Blacklist BlacklistConfig
	RateLimit RateLimitConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port string
}

type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

type BlacklistConfig struct {
	RefreshInterval time.Duration
}

type RateLimitConfig struct {
	Max        int
	Expiration time.Duration
}

func Load() *Config {
	// Missing .env is fine; the environment may be set by the runtime.
	_ = godotenv.Load()

	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "tavolo"),
			Password: getEnv("DB_PASSWORD", "tavolo_secret"),
			Name:     getEnv("DB_NAME", "tavolo"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "tavolo"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "tavolo_secret"),
			Bucket:    getEnv("MINIO_BUCKET", "tavolo-photos"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		VAPID: VAPIDConfig{
			PublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
			PrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
			Subject:    getEnv("VAPID_SUBJECT", "mailto:admin@tavolo.local"),
		},
		Blacklist: BlacklistConfig{
			RefreshInterval: getEnvAsDuration("BLACKLIST_REFRESH_INTERVAL", 1*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Max:        getEnvAsInt("RATE_LIMIT_MAX", 100),
			Expiration: getEnvAsDuration("RATE_LIMIT_EXPIRATION", 1*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
