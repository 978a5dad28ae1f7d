package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Generator GeneratorConfig `yaml:"generator"`
	Credits   CreditsConfig   `yaml:"credits"`
	Batch     BatchConfig     `yaml:"batch"`
	Export    ExportConfig    `yaml:"export"`
	Guest     GuestConfig     `yaml:"guest"`
	Expiry    ExpiryConfig    `yaml:"expiry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name"`
	Charset            string        `yaml:"charset"`
	ParseTime          bool          `yaml:"parse_time"`
	Loc                string        `yaml:"loc"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	ConnectionLifetime time.Duration `yaml:"connection_lifetime"`
}

type RedisConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	BatchQueue string `yaml:"batch_queue"`
	DLQSuffix  string `yaml:"dlq_suffix"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url"`
}

// GeneratorConfig configures the external text-generation service
// (Replicate-shaped predictions API).
type GeneratorConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	APIToken        string        `yaml:"api_token"`
	Timeout         time.Duration `yaml:"timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
	ThinkingLevel   string        `yaml:"thinking_level"`
	Temperature     float64       `yaml:"temperature"`
	TopP            float64       `yaml:"top_p"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
}

type CreditsConfig struct {
	SingleCost     int `yaml:"single_cost"`
	BatchItemCost  int `yaml:"batch_item_cost"`
	ExpirationDays int `yaml:"expiration_days"`
}

type BatchConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	WorkerCount  int           `yaml:"worker_count"`
	MaxBatchSize int           `yaml:"max_batch_size"`
}

type ExportConfig struct {
	TTLDays int    `yaml:"ttl_days"`
	Folder  string `yaml:"folder"`
}

type GuestConfig struct {
	FreeLimit int `yaml:"free_limit"`
}

type ExpiryConfig struct {
	Schedule string `yaml:"schedule"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The provider token never lives in the config file.
	if token := os.Getenv("REPLICATE_API_TOKEN"); token != "" {
		config.Generator.APIToken = token
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Generator.PollInterval == 0 {
		c.Generator.PollInterval = time.Second
	}
	if c.Generator.MaxPollAttempts == 0 {
		c.Generator.MaxPollAttempts = 30
	}
	if c.Credits.SingleCost == 0 {
		c.Credits.SingleCost = 1
	}
	if c.Credits.BatchItemCost == 0 {
		c.Credits.BatchItemCost = 10
	}
	if c.Credits.ExpirationDays == 0 {
		c.Credits.ExpirationDays = 30
	}
	if c.Batch.MaxRetries == 0 {
		c.Batch.MaxRetries = 3
	}
	if c.Batch.BaseDelay == 0 {
		c.Batch.BaseDelay = time.Second
	}
	if c.Batch.MaxDelay == 0 {
		c.Batch.MaxDelay = 5 * time.Second
	}
	if c.Export.TTLDays == 0 {
		c.Export.TTLDays = 30
	}
	if c.Export.Folder == "" {
		c.Export.Folder = "exports"
	}
	if c.Guest.FreeLimit == 0 {
		c.Guest.FreeLimit = 3
	}
}

// MySQL DSN format: [username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.Charset, c.Database.ParseTime, c.Database.Loc)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
