package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// Redis backs the typing store when set. Empty means in-process typing.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// If true:
	// - /readyz returns 503 unless the database is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("DATABASE_URL", ""),
		DBSchema:    EnvString("DB_SCHEMA", "chat"),
		DBMaxConns:  EnvInt32("DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("DB_MIN_CONNS", 0),

		RedisAddr:     EnvString("REDIS_ADDR", ""),
		RedisPassword: EnvString("REDIS_PASSWORD", ""),
		RedisDB:       int(EnvInt32("REDIS_DB", 0)),

		ReadinessRequireDB: EnvBool("READINESS_REQUIRE_DB", false),
	}
}
