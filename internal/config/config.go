package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Sync      SyncConfig
	Snapshot  SnapshotConfig
	Retention RetentionConfig
	Workflow  WorkflowConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	EventLogFilePath   string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JwtSecret          string
}

type DatabaseConfig struct {
	Connection  string
	JournalPath string
}

type SyncConfig struct {
	Debounce       time.Duration
	FlushInterval  time.Duration
	NetworkTimeout time.Duration
	DrainInterval  time.Duration
	DispatchRate   float64 // operations per second, 0 disables the limiter
	ProbeInterval  time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type SnapshotConfig struct {
	AutoTTL             time.Duration
	ManualTTL           time.Duration
	AutoMinOperations   int
	AutoMinInterval     time.Duration
	FallbackSearchDepth int
}

type RetentionConfig struct {
	OlderThanDays     int
	PreserveActive    bool
	PreserveRecent    bool
	MaxSessionsToKeep int
	JournalRetention  time.Duration
	WorkflowRetention time.Duration
	GCInterval        time.Duration
}

type WorkflowConfig struct {
	EngineBaseURL      string
	Timeout            time.Duration
	CheckpointEvery    time.Duration
	CheckpointDebounce time.Duration
	ForceSaveActions   int
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			EventLogFilePath:   getEnv("EVENT_LOG_FILE_PATH", "logs/chat_events.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JwtSecret:          getEnv("JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			Connection:  getEnv("DB_CONNECTION_STRING", ""),
			JournalPath: getEnv("SYNC_JOURNAL_PATH", "data/sync_journal.db"),
		},
		Sync: SyncConfig{
			Debounce:       getEnvAsDuration("SYNC_DEBOUNCE", time.Second),
			FlushInterval:  getEnvAsDuration("SYNC_FLUSH_INTERVAL", 5*time.Second),
			NetworkTimeout: getEnvAsDuration("SYNC_NETWORK_TIMEOUT", 30*time.Second),
			DrainInterval:  getEnvAsDuration("SYNC_DRAIN_INTERVAL", 10*time.Second),
			DispatchRate:   getEnvAsFloat("SYNC_DISPATCH_RATE", 0),
			ProbeInterval:  getEnvAsDuration("SYNC_PROBE_INTERVAL", 15*time.Second),
			BackoffInitial: getEnvAsDuration("SYNC_BACKOFF_INITIAL", time.Second),
			BackoffMax:     getEnvAsDuration("SYNC_BACKOFF_MAX", 5*time.Minute),
		},
		Snapshot: SnapshotConfig{
			AutoTTL:             getEnvAsDuration("SNAPSHOT_AUTO_TTL", 7*24*time.Hour),
			ManualTTL:           getEnvAsDuration("SNAPSHOT_MANUAL_TTL", 30*24*time.Hour),
			AutoMinOperations:   getEnvAsInt("SNAPSHOT_AUTO_MIN_OPERATIONS", 25),
			AutoMinInterval:     getEnvAsDuration("SNAPSHOT_AUTO_MIN_INTERVAL", 15*time.Minute),
			FallbackSearchDepth: getEnvAsInt("SNAPSHOT_FALLBACK_DEPTH", 10),
		},
		Retention: RetentionConfig{
			OlderThanDays:     getEnvAsInt("RETENTION_OLDER_THAN_DAYS", 30),
			PreserveActive:    getEnvAsBool("RETENTION_PRESERVE_ACTIVE", true),
			PreserveRecent:    getEnvAsBool("RETENTION_PRESERVE_RECENT", true),
			MaxSessionsToKeep: getEnvAsInt("RETENTION_MAX_SESSIONS", 0),
			JournalRetention:  getEnvAsDuration("RETENTION_JOURNAL", 7*24*time.Hour),
			WorkflowRetention: getEnvAsDuration("RETENTION_WORKFLOW", 30*24*time.Hour),
			GCInterval:        getEnvAsDuration("RETENTION_GC_INTERVAL", time.Hour),
		},
		Workflow: WorkflowConfig{
			EngineBaseURL:      getEnv("WORKFLOW_ENGINE_URL", "http://localhost:8000"),
			Timeout:            getEnvAsDuration("WORKFLOW_TIMEOUT", 60*time.Second),
			CheckpointEvery:    getEnvAsDuration("WORKFLOW_CHECKPOINT_INTERVAL", 30*time.Second),
			CheckpointDebounce: getEnvAsDuration("WORKFLOW_CHECKPOINT_DEBOUNCE", 2*time.Second),
			ForceSaveActions:   getEnvAsInt("WORKFLOW_FORCE_SAVE_ACTIONS", 50),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go duration strings ("750ms", "5m").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
