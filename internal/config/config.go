package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds environment-based settings. Timing values are tuning,
// not protocol: nodes never see them.
type Config struct {
	DatabaseURL    string
	MigrationsPath string
	JWTSecret      string
	ServerAddress  string

	RedisAddress  string
	RedisUsername string
	RedisPassword string

	// empty broker URL disables the MQTT broadcast path
	MQTTBrokerURL string

	// liveness sweep
	LivenessInterval time.Duration
	HeartbeatTimeout time.Duration

	// transition sweep
	SweepInterval      time.Duration
	EarlyWindowMin     time.Duration
	EarlyWindowMax     time.Duration
	ColdStartRetry     time.Duration
	DispatchLeadOffset time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	jwt := os.Getenv("JWT_SECRET")
	if jwt == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	addr := os.Getenv("SERVER_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}
	migrations := os.Getenv("MIGRATIONS_PATH")
	if migrations == "" {
		migrations = "./migrations"
	}
	return &Config{
		DatabaseURL:    dbURL,
		MigrationsPath: migrations,
		JWTSecret:      jwt,
		ServerAddress:  addr,

		RedisAddress:  os.Getenv("REDIS_ADDRESS"),
		RedisUsername: os.Getenv("REDIS_USERNAME"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		MQTTBrokerURL: os.Getenv("MQTT_BROKER_URL"),

		LivenessInterval: durationEnv("LIVENESS_INTERVAL", 10*time.Second),
		HeartbeatTimeout: durationEnv("HEARTBEAT_TIMEOUT", 30*time.Second),

		SweepInterval:      durationEnv("SWEEP_INTERVAL", 10*time.Second),
		EarlyWindowMin:     durationEnv("EARLY_WINDOW_MIN", 3*time.Second),
		EarlyWindowMax:     durationEnv("EARLY_WINDOW_MAX", 65*time.Second),
		ColdStartRetry:     durationEnv("COLD_START_RETRY", 45*time.Second),
		DispatchLeadOffset: durationEnv("DISPATCH_LEAD_OFFSET", 500*time.Millisecond),
	}, nil
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
