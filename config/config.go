package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func LoadConfigFromFile(path string) (*Config, error) {
	if path == "" {
		path = "./config/config.yaml"
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	dec := yaml.NewDecoder(file)
	if err = dec.Decode(&config); err != nil {
		return nil, err
	}
	if err = config.ApplyEnv(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	if err = config.Validate(); err != nil {
		return nil, err
	}
	AppConfig = &config
	return &config, nil
}

type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	SaveDir    string          `yaml:"save_dir"`
	Database   DatabaseConfig  `yaml:"database"`
	RabbitMQ   RabbitMQConfig  `yaml:"rabbitmq"`
	Downloads  DownloadsConfig `yaml:"downloads"`
	Backends   BackendsConfig  `yaml:"backends"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RabbitMQConfig is optional; an empty URL disables event publication.
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type DownloadsConfig struct {
	MaxConcurrent     int      `yaml:"max_concurrent"`
	QueueSize         int      `yaml:"queue_size"`
	RetryableStatuses []string `yaml:"retryable_statuses"`
}

type BackendsConfig struct {
	YouTube BackendConfig `yaml:"youtube"`
	Direct  BackendConfig `yaml:"direct"`
}

type BackendConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Priority   int      `yaml:"priority"`
	Extensions []string `yaml:"extensions"`
}

var AppConfig *Config

// ApplyEnv loads an optional .env file and lets environment variables override the file values.
func (c *Config) ApplyEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		if err = godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("SAVE_DIR"); v != "" {
		c.SaveDir = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		c.RabbitMQ.URL = v
	}
	if v := os.Getenv("DOWNLOADS_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DOWNLOADS_MAX_CONCURRENT %q: %w", v, err)
		}
		c.Downloads.MaxConcurrent = n
	}
	return nil
}

func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":50999"
	}
	if c.SaveDir == "" {
		c.SaveDir = "./downloads"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMemory
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "download-process"
	}
	if c.Downloads.MaxConcurrent == 0 {
		c.Downloads.MaxConcurrent = 2
	}
	if c.Downloads.QueueSize == 0 {
		c.Downloads.QueueSize = 100
	}
	if len(c.Downloads.RetryableStatuses) == 0 {
		c.Downloads.RetryableStatuses = []string{"FAIL"}
	}
	if c.Backends.YouTube.Priority == 0 {
		c.Backends.YouTube.Priority = 10
	}
	if c.Backends.Direct.Priority == 0 {
		c.Backends.Direct.Priority = 100
	}
	if len(c.Backends.Direct.Extensions) == 0 {
		c.Backends.Direct.Extensions = []string{".mp3", ".m4a", ".flac", ".ogg", ".opus", ".wav"}
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Downloads.MaxConcurrent < 1 {
		errs = append(errs, errors.New("downloads.max_concurrent must be at least 1"))
	}
	if c.Downloads.QueueSize < 1 {
		errs = append(errs, errors.New("downloads.queue_size must be at least 1"))
	}
	for _, st := range c.Downloads.RetryableStatuses {
		if st != "FAIL" && st != "REQUESTED" {
			errs = append(errs, fmt.Errorf("downloads.retryable_statuses: %q cannot be retried", st))
		}
	}
	if !c.Backends.YouTube.Enabled && !c.Backends.Direct.Enabled {
		errs = append(errs, errors.New("at least one backend must be enabled"))
	}
	return errors.Join(errs...)
}
