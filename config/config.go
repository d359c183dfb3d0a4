package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"clover-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (Registry Database)
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"clover"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Workspace content API (source of client records)
	WorkspaceBaseURL              string        `env:"WORKSPACE_API_BASE_URL" env-default:"https://api.workspace.test" validate:"required"`
	WorkspaceToken                string        `env:"WORKSPACE_API_TOKEN" env-default:"" validate:"required"`
	WorkspaceVersion              string        `env:"WORKSPACE_API_VERSION" env-default:"2024-03-01"`
	WorkspaceClientsCollectionID  string        `env:"WORKSPACE_CLIENTS_COLLECTION_ID" env-default:"" validate:"required"`
	WorkspaceTimeout              time.Duration `env:"WORKSPACE_API_TIMEOUT" env-default:"30s"`

	// Webhook ingestion
	// When empty, signature verification is skipped and a warning is logged at startup.
	WebhookSecret string `env:"WEBHOOK_SECRET" env-default:""`

	// Matching
	// Acceptance threshold for fuzzy name similarity. Lowering it merges
	// more aggressively, raising it creates more duplicates.
	MatchFuzzyThreshold float64 `env:"MATCH_FUZZY_THRESHOLD" env-default:"0.78" validate:"gte=0.5,lte=1"`

	// Sync engine
	SyncRecordDelayMin time.Duration `env:"SYNC_RECORD_DELAY_MIN" env-default:"200ms" validate:"gte=0"`
	SyncRecordDelayMax time.Duration `env:"SYNC_RECORD_DELAY_MAX" env-default:"500ms" validate:"gtefield=SyncRecordDelayMin"`
	SyncPageSize       int           `env:"SYNC_PAGE_SIZE" env-default:"100" validate:"gte=1,lte=100"`

	// Scheduler
	SchedulerEnabled        bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	SyncIncrementalInterval time.Duration `env:"SYNC_INCREMENTAL_INTERVAL" env-default:"10m"`
	SyncFullInterval        time.Duration `env:"SYNC_FULL_INTERVAL" env-default:"24h"`

	// Health
	// How stale the last successful sync may be before the service reports unhealthy.
	HealthMaxSyncAge time.Duration `env:"HEALTH_MAX_SYNC_AGE" env-default:"30m"`

	// Kafka Producer (registry change events)
	KafkaBrokers           []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaTenantEventsTopic string   `env:"KAFKA_TENANT_EVENTS_TOPIC" env-default:"tenant-events"`
	KafkaBatchSize         int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout      int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks      int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaEventsEnabled     bool     `env:"KAFKA_EVENTS_ENABLED" env-default:"true"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}
