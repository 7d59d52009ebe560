package config

import "fmt"

// Config is the root configuration for the notification manager
type Config struct {
	App       AppConfig               `mapstructure:"app"`
	Camunda   CamundaConfig           `mapstructure:"camunda"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Storage   StorageConfig           `mapstructure:"storage"`
	Dispatch  DispatchConfig          `mapstructure:"dispatch"`
	Channels  ChannelsConfig          `mapstructure:"channels"`
	Analytics AnalyticsConfig         `mapstructure:"analytics"`
	Tracing   TracingConfig           `mapstructure:"tracing"`
	HTTP      HTTPConfig              `mapstructure:"http"`
	Workers   map[string]WorkerConfig `mapstructure:"workers"`
	Logging   LoggingConfig           `mapstructure:"logging"`
}

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
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

func (e ElasticsearchConfig) GetAddresses() []string {
	if len(e.Addresses) > 0 {
		return e.Addresses
	}
	if e.URL != "" {
		return []string{e.URL}
	}
	return nil
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// StorageConfig selects the backing implementation of the configuration
// store, the attempt log and the delayed queue.
type StorageConfig struct {
	Driver   string `mapstructure:"driver"` // "postgres" or "memory"
	SeedPath string `mapstructure:"seed_path"`
	Migrate  bool   `mapstructure:"migrate"`
}

type DispatchConfig struct {
	QueueKey         string `mapstructure:"queue_key"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BaseBackoff      int    `mapstructure:"base_backoff"`      // milliseconds
	FallbackCooldown int    `mapstructure:"fallback_cooldown"` // milliseconds
	PollInterval     int    `mapstructure:"poll_interval"`     // milliseconds
	BatchSize        int    `mapstructure:"batch_size"`
	Workers          int    `mapstructure:"workers"`
	SendTimeout      int    `mapstructure:"send_timeout"` // milliseconds
}

type ChannelsConfig struct {
	Email EmailChannelConfig `mapstructure:"email"`
	Chat  ChatChannelConfig  `mapstructure:"chat"`
	Push  PushChannelConfig  `mapstructure:"push"`
}

type EmailChannelConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Region         string `mapstructure:"region"`
	FromEmail      string `mapstructure:"from_email"`
	DefaultSubject string `mapstructure:"default_subject"`
}

type ChatChannelConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Instance string `mapstructure:"instance"`
	Timeout  int    `mapstructure:"timeout"` // milliseconds
}

type PushChannelConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Region       string `mapstructure:"region"`
	DefaultTitle string `mapstructure:"default_title"`
}

type AnalyticsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
