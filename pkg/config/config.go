package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	SMTP       SMTPConfig
	Delivery   DeliveryConfig
	Encryption EncryptionConfig
	Quota      QuotaConfig
	Sequence   SequenceConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Outbox     OutboxConfig
	Eventing   EventingConfig
	Cron       CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Sequence.Backend {
	case SequenceBackendRedis, SequenceBackendDB:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvSequenceBackend, SequenceBackendRedis, SequenceBackendDB)
	}
	switch c.Encryption.KeyDerivation {
	case KeyDerivationSHA256, KeyDerivationHKDF:
	default:
		return fmt.Errorf("unsupported key derivation %q", c.Encryption.KeyDerivation)
	}
	return nil
}

type AppConfig struct {
	Env          string   `envconfig:"PAYROLL_APP_ENV" required:"true"`
	Port         string   `envconfig:"PAYROLL_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"PAYROLL_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"PAYROLL_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool     `envconfig:"PAYROLL_AUTO_MIGRATE" default:"false"`
	CORSOrigins  []string `envconfig:"PAYROLL_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PAYROLL_SERVICE_KIND" default:"api"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DBConfig struct {
	DSN    string `envconfig:"PAYROLL_DB_DSN"`
	Driver string `envconfig:"PAYROLL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYROLL_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYROLL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYROLL_DB_USER"`
	LegacyPassword string `envconfig:"PAYROLL_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYROLL_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYROLL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYROLL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYROLL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYROLL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYROLL_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"PAYROLL_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYROLL_REDIS_URL"`
	Address      string        `envconfig:"PAYROLL_REDIS_ADDR"`
	Password     string        `envconfig:"PAYROLL_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYROLL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYROLL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYROLL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYROLL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYROLL_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"PAYROLL_REDIS_WRITE_TIMEOUT" default:"3s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PAYROLL_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PAYROLL_JWT_ISSUER" default:"payroll-core"`
	ExpirationMinutes int    `envconfig:"PAYROLL_JWT_EXPIRATION_MINUTES" default:"60"`
}

type SMTPConfig struct {
	Host     string        `envconfig:"PAYROLL_SMTP_HOST"`
	Port     int           `envconfig:"PAYROLL_SMTP_PORT" default:"587"`
	Username string        `envconfig:"PAYROLL_SMTP_USERNAME"`
	Password string        `envconfig:"PAYROLL_SMTP_PASSWORD"`
	From     string        `envconfig:"PAYROLL_SMTP_FROM"`
	Timeout  time.Duration `envconfig:"PAYROLL_SMTP_TIMEOUT" default:"20s"`
}

// Enabled reports whether an SMTP relay is configured.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != "" && strings.TrimSpace(s.From) != ""
}

type DeliveryConfig struct {
	EncryptStatements bool          `envconfig:"PAYROLL_DELIVERY_ENCRYPT_STATEMENTS" default:"false"`
	DirectoryTimeout  time.Duration `envconfig:"PAYROLL_DELIVERY_DIRECTORY_TIMEOUT" default:"5s"`
	RenderTimeout     time.Duration `envconfig:"PAYROLL_DELIVERY_RENDER_TIMEOUT" default:"15s"`
	SendTimeout       time.Duration `envconfig:"PAYROLL_DELIVERY_SEND_TIMEOUT" default:"30s"`
	// Deliver inline after create in addition to the outbox path.
	Inline bool `envconfig:"PAYROLL_DELIVERY_INLINE" default:"false"`
}

const (
	KeyDerivationSHA256 = "sha256"
	KeyDerivationHKDF   = "hkdf"
)

type EncryptionConfig struct {
	KeyDerivation string `envconfig:"PAYROLL_ENCRYPTION_KEY_DERIVATION" default:"sha256"`
	HKDFSalt      string `envconfig:"PAYROLL_ENCRYPTION_HKDF_SALT"`
}

type QuotaConfig struct {
	Strict               bool `envconfig:"PAYROLL_QUOTA_STRICT" default:"false"`
	FreeMaxOrganizations int  `envconfig:"PAYROLL_QUOTA_FREE_MAX_ORGANIZATIONS" default:"1"`
	FreeMaxUsersPerOrg   int  `envconfig:"PAYROLL_QUOTA_FREE_MAX_USERS_PER_ORG" default:"5"`
}

const (
	SequenceBackendRedis = "redis"
	SequenceBackendDB    = "db"
)

type SequenceConfig struct {
	Backend  string `envconfig:"PAYROLL_SEQUENCE_BACKEND" default:"db"`
	PadWidth int    `envconfig:"PAYROLL_SEQUENCE_PAD_WIDTH" default:"3"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PAYROLL_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PayrollTopic        string `envconfig:"PAYROLL_PUBSUB_PAYROLL_TOPIC" default:"payroll-events"`
	PayrollSubscription string `envconfig:"PAYROLL_PUBSUB_PAYROLL_SUBSCRIPTION" default:"payroll-delivery"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PAYROLL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PAYROLL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PAYROLL_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// Retention windows for the cron pruning job.
	EventRetention      time.Duration `envconfig:"PAYROLL_OUTBOX_EVENT_RETENTION" default:"720h"`
	DeadLetterRetention time.Duration `envconfig:"PAYROLL_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"PAYROLL_EVENTING_IDEMPOTENCY_TTL" default:"168h"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"PAYROLL_CRON_INTERVAL" default:"15m"`
	RedeliveryAfter time.Duration `envconfig:"PAYROLL_CRON_REDELIVERY_AFTER" default:"10m"`
	RedeliveryBatch int           `envconfig:"PAYROLL_CRON_REDELIVERY_BATCH" default:"100"`
}

// ensureDSN assembles a postgres URL from the discrete PAYROLL_DB_* settings
// when no DSN is given.
func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if strings.EqualFold(db.Driver, DriverSQLite) {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	var missing []string
	for env, value := range map[string]string{EnvDBHost: db.LegacyHost, EnvDBUser: db.LegacyUser, EnvDBName: db.LegacyName} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	dsn := url.URL{
		Scheme: DriverPostgres,
		User:   url.User(db.LegacyUser),
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
	}
	if db.LegacyPassword != "" {
		dsn.User = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	if db.LegacySSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}
