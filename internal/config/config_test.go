package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "landops", cfg.Database.Database)
				assert.Equal(t, "landops.documents", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "document_jobs", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "test-secret", cfg.Webhook.SigningSecret)
				assert.Equal(t, 10*time.Minute, cfg.Webhook.DedupWindow)
				assert.Equal(t, "01:30", cfg.Backup.RunAt)
				assert.Equal(t, "Offers", cfg.Worker.WritebackTables["offer"])
				require.Len(t, cfg.Backup.Tables, 1)
				assert.Equal(t, "Properties", cfg.Backup.Tables[0].Name)
				assert.Equal(t, []string{"apn", "county"}, cfg.Backup.Tables[0].Fields)
			}
		})
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)
	return cfg
}

func TestValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port",
			mutate:    func(cfg *Config) { cfg.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(cfg *Config) { cfg.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(cfg *Config) { cfg.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(cfg *Config) { cfg.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "missing signing secret",
			mutate:    func(cfg *Config) { cfg.Webhook.SigningSecret = "" },
			wantErr:   true,
			errString: "signing_secret is required",
		},
		{
			name:      "zero dedup window",
			mutate:    func(cfg *Config) { cfg.Webhook.DedupWindow = 0 },
			wantErr:   true,
			errString: "dedup_window must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name:      "zero concurrency",
			mutate:    func(cfg *Config) { cfg.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "concurrency must be greater than 0",
		},
		{
			name:      "zero max attempts",
			mutate:    func(cfg *Config) { cfg.Worker.MaxAttempts = 0 },
			wantErr:   true,
			errString: "max_attempts must be greater than 0",
		},
		{
			name:      "zero initial backoff",
			mutate:    func(cfg *Config) { cfg.Worker.InitialBackoff = 0 },
			wantErr:   true,
			errString: "initial_backoff must be greater than 0",
		},
		{
			name:      "missing document api url",
			mutate:    func(cfg *Config) { cfg.DocumentAPI.BaseURL = "" },
			wantErr:   true,
			errString: "document_api base_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateBackupConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name:      "missing source base url",
			mutate:    func(cfg *Config) { cfg.Source.BaseURL = "" },
			wantErr:   true,
			errString: "source base_url is required",
		},
		{
			name:      "missing source api key",
			mutate:    func(cfg *Config) { cfg.Source.APIKey = "" },
			wantErr:   true,
			errString: "source api_key is required",
		},
		{
			name:      "missing destination root",
			mutate:    func(cfg *Config) { cfg.Backup.DestinationRoot = "" },
			wantErr:   true,
			errString: "destination_root is required",
		},
		{
			name:      "invalid run_at",
			mutate:    func(cfg *Config) { cfg.Backup.RunAt = "25:99" },
			wantErr:   true,
			errString: "invalid backup run_at",
		},
		{
			name:      "no tables",
			mutate:    func(cfg *Config) { cfg.Backup.Tables = nil },
			wantErr:   true,
			errString: "at least one table",
		},
		{
			name: "table without declared fields",
			mutate: func(cfg *Config) {
				cfg.Backup.Tables = []TableConfig{{Name: "Properties"}}
			},
			wantErr:   true,
			errString: "requires a declared field order",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.ValidateBackupConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseRunAt(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RunAt
		wantErr bool
	}{
		{name: "valid time", input: "01:30", want: RunAt{Hour: 1, Minute: 30}},
		{name: "midnight", input: "00:00", want: RunAt{Hour: 0, Minute: 0}},
		{name: "end of day", input: "23:59", want: RunAt{Hour: 23, Minute: 59}},
		{name: "hour out of range", input: "24:00", wantErr: true},
		{name: "minute out of range", input: "12:60", wantErr: true},
		{name: "not a time", input: "sometime", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRunAt(tt.input)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
