// internal/common/config/config.go
package config

import (
	"fmt"
	"time"

	"portal-mailer/internal/email"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Mail          MailConfig              `mapstructure:"mail"`
	Alerts        AlertsConfig            `mapstructure:"alerts"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Server        ServerConfig            `mapstructure:"server"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	AuditIndex string   `mapstructure:"audit_index"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every Zeebe job worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// MailConfig holds the dispatcher policy and the transport settings.
type MailConfig struct {
	Transport         string `mapstructure:"transport"` // "smtp" or "ses"
	FromAddress       string `mapstructure:"from_address"`
	FromName          string `mapstructure:"from_name"`
	HourlyLimit       int    `mapstructure:"hourly_limit"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	BatchSize         int    `mapstructure:"batch_size"`
	DefaultPriority   int    `mapstructure:"default_priority"`
	DeliveryTimeout   int    `mapstructure:"delivery_timeout"`   // milliseconds
	RetentionDays     int    `mapstructure:"retention_days"`     // days
	SweepInterval     int    `mapstructure:"sweep_interval"`     // seconds
	RetentionInterval int    `mapstructure:"retention_interval"` // seconds
	TemplateCacheTTL  int    `mapstructure:"template_cache_ttl"` // seconds
	SweepLockTTL      int    `mapstructure:"sweep_lock_ttl"`     // seconds

	SMTP struct {
		Host               string `mapstructure:"host"`
		Port               int    `mapstructure:"port"`
		Username           string `mapstructure:"username"`
		Password           string `mapstructure:"password"`
		InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	} `mapstructure:"smtp"`

	SES struct {
		Region           string `mapstructure:"region"`
		ConfigurationSet string `mapstructure:"configuration_set"`
	} `mapstructure:"ses"`
}

// DispatcherConfig converts the mail section into the dispatcher's policy struct.
func (m MailConfig) DispatcherConfig() email.Config {
	return email.Config{
		FromAddress:     m.FromAddress,
		FromName:        m.FromName,
		HourlyLimit:     m.HourlyLimit,
		MaxAttempts:     m.MaxAttempts,
		BatchSize:       m.BatchSize,
		DefaultPriority: m.DefaultPriority,
		DeliveryTimeout: GetDuration(m.DeliveryTimeout),
		Retention:       time.Duration(m.RetentionDays) * 24 * time.Hour,
		SweepLockTTL:    GetSeconds(m.SweepLockTTL),
	}
}

// AlertsConfig configures where terminal delivery failures are reported.
type AlertsConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// ObservabilityConfig holds OpenTelemetry settings.
type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
