package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// JWTSecret signs and verifies bearer credentials. Mandatory, >= 32
	// bytes; startup fails otherwise.
	JWTSecret string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
//
// Note: the HTTP server deliberately runs without Read/Write timeouts
// because websocket sessions are long-lived; per-write deadlines are
// enforced inside the gateway instead.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("MITHAS_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("MITHAS_LOG_LEVEL", "info"),
		LogFormat: EnvString("MITHAS_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("MITHAS_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		IdleTimeout:       EnvDuration("MITHAS_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("MITHAS_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("MITHAS_DATABASE_URL", ""),
		DBSchema:    EnvString("MITHAS_DB_SCHEMA", "mithas"),
		DBMaxConns:  EnvInt32("MITHAS_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("MITHAS_DB_MIN_CONNS", 0),

		JWTSecret: EnvString("MITHAS_JWT_SECRET", ""),

		ReadinessRequireDB: EnvBool("MITHAS_READINESS_REQUIRE_DB", false),
	}
}
