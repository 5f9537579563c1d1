package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Worker      WorkerConfig      `yaml:"worker"`
	Source      SourceConfig      `yaml:"source"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	DocumentAPI DocumentAPIConfig `yaml:"document_api"`
	Backup      BackupConfig      `yaml:"backup"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds dispatcher worker configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// WritebackTables maps a document kind to the source table whose record
	// gets stamped with the generated document reference. Empty disables
	// writeback for that kind.
	WritebackTables map[string]string `yaml:"writeback_tables"`
}

// SourceConfig holds the tabular record store connection settings
type SourceConfig struct {
	BaseURL        string        `yaml:"base_url"`
	BaseID         string        `yaml:"base_id"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
}

// WebhookConfig holds inbound webhook settings
type WebhookConfig struct {
	SigningSecret string        `yaml:"signing_secret"`
	DedupWindow   time.Duration `yaml:"dedup_window"`
}

// DocumentAPIConfig holds the document-generation service settings
type DocumentAPIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// BackupConfig holds the nightly backup settings
type BackupConfig struct {
	DestinationRoot string        `yaml:"destination_root"`
	Overwrite       bool          `yaml:"overwrite"`
	RunAt           string        `yaml:"run_at"` // HH:MM, local time
	RunTimeout      time.Duration `yaml:"run_timeout"`
	Tables          []TableConfig `yaml:"tables"`
}

// TableConfig names one table and its declared field order for export
type TableConfig struct {
	Name   string   `yaml:"name"`
	View   string   `yaml:"view"`
	Filter string   `yaml:"filter"`
	Fields []string `yaml:"fields"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// validateDatabase checks settings shared by every service
func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

// validateRabbitMQ checks broker settings for services that touch the queue
func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateAPIConfig checks everything the api-service needs to start
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Webhook.SigningSecret == "" {
		return fmt.Errorf("webhook signing_secret is required")
	}

	if c.Webhook.DedupWindow <= 0 {
		return fmt.Errorf("webhook dedup_window must be greater than 0")
	}

	return nil
}

// ValidateWorkerConfig checks everything the worker-service needs to start
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker max_attempts must be greater than 0")
	}

	if c.Worker.InitialBackoff <= 0 {
		return fmt.Errorf("worker initial_backoff must be greater than 0")
	}

	if c.Worker.AttemptTimeout <= 0 {
		return fmt.Errorf("worker attempt_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.DocumentAPI.BaseURL == "" {
		return fmt.Errorf("document_api base_url is required")
	}

	return nil
}

// ValidateBackupConfig checks everything the backup-service needs to start
func (c *Config) ValidateBackupConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Source.BaseURL == "" {
		return fmt.Errorf("source base_url is required")
	}

	if c.Source.BaseID == "" {
		return fmt.Errorf("source base_id is required")
	}

	if c.Source.APIKey == "" {
		return fmt.Errorf("source api_key is required")
	}

	if c.Backup.DestinationRoot == "" {
		return fmt.Errorf("backup destination_root is required")
	}

	if c.Backup.RunTimeout <= 0 {
		return fmt.Errorf("backup run_timeout must be greater than 0")
	}

	if _, err := ParseRunAt(c.Backup.RunAt); err != nil {
		return fmt.Errorf("invalid backup run_at: %w", err)
	}

	if len(c.Backup.Tables) == 0 {
		return fmt.Errorf("backup requires at least one table")
	}

	for _, t := range c.Backup.Tables {
		if t.Name == "" {
			return fmt.Errorf("backup table name is required")
		}
		if len(t.Fields) == 0 {
			return fmt.Errorf("backup table %q requires a declared field order", t.Name)
		}
	}

	return nil
}

// RunAt is a daily fire time (hour and minute, local clock)
type RunAt struct {
	Hour   int
	Minute int
}

// ParseRunAt parses an "HH:MM" daily schedule time
func ParseRunAt(s string) (RunAt, error) {
	var ra RunAt
	if _, err := fmt.Sscanf(s, "%d:%d", &ra.Hour, &ra.Minute); err != nil {
		return RunAt{}, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if ra.Hour < 0 || ra.Hour > 23 || ra.Minute < 0 || ra.Minute > 59 {
		return RunAt{}, fmt.Errorf("out of range: %q", s)
	}
	return ra, nil
}
