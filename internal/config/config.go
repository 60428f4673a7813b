// Package config loads service configuration from an optional YAML file with
// environment variable overrides. .env files are loaded first:
//
//  1. ENV_FILE (if set, only this file is loaded)
//  2. .env.local (overrides .env)
//  3. .env
//
// Missing .env files are ignored; a missing YAML file is an error only when a
// path was given.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nadmax/taskboard/internal/statusduration"
	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		Server   ServerConfig   `yaml:"server"`
		Postgres PostgresConfig `yaml:"postgres"`
		Redis    RedisConfig    `yaml:"redis"`
		Asana    AsanaConfig    `yaml:"asana"`
		Auth     AuthConfig     `yaml:"auth"`
		Sync     SyncConfig     `yaml:"sync"`
		Report   ReportConfig   `yaml:"report"`
		Worker   WorkerConfig   `yaml:"worker"`
		Log      LogConfig      `yaml:"log"`
	}
	ServerConfig struct {
		Port         string        `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		WebDir       string        `yaml:"web_dir"`
	}
	PostgresConfig struct {
		DSN string `yaml:"dsn"`
	}
	RedisConfig struct {
		Addr string `yaml:"addr"`
	}
	AsanaConfig struct {
		Token      string        `yaml:"token"`
		BaseURL    string        `yaml:"base_url"`
		ProjectIDs []string      `yaml:"project_ids"`
		Timeout    time.Duration `yaml:"timeout"`
	}
	AuthConfig struct {
		SharedPassword string        `yaml:"shared_password"`
		JWTSecret      string        `yaml:"jwt_secret"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		SecureCookie   bool          `yaml:"secure_cookie"`
	}
	SyncConfig struct {
		Interval time.Duration `yaml:"interval"`
	}
	ReportConfig struct {
		OutputPath        string `yaml:"output_path"`
		OutlierMaxSeconds *int64 `yaml:"outlier_max_seconds"`
		SendGridAPIKey    string `yaml:"sendgrid_api_key"`
		FromAddress       string `yaml:"from_address"`
		FromName          string `yaml:"from_name"`
	}
	WorkerConfig struct {
		ID           string        `yaml:"id"`
		PollInterval time.Duration `yaml:"poll_interval"`
	}
	LogConfig struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	}
)

const (
	DefaultPort         = "8080"
	DefaultRedisAddr    = "localhost:6379"
	DefaultAsanaBaseURL = "https://app.asana.com/api/1.0"
	DefaultTokenTTL     = 12 * time.Hour
	DefaultSyncInterval = 15 * time.Minute
	DefaultOutputPath   = "./reports"
	DefaultPollInterval = time.Second
)

func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	return &cfg, nil
}

func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}

	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.WebDir, "WEB_DIR")
	setString(&c.Postgres.DSN, "POSTGRES_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Asana.Token, "ASANA_TOKEN")
	setString(&c.Asana.BaseURL, "ASANA_BASE_URL")
	setString(&c.Auth.SharedPassword, "AUTH_SHARED_PASSWORD")
	setString(&c.Auth.JWTSecret, "AUTH_JWT_SECRET")
	setString(&c.Report.OutputPath, "REPORT_OUTPUT_PATH")
	setString(&c.Report.SendGridAPIKey, "SENDGRID_API_KEY")
	setString(&c.Report.FromAddress, "REPORT_FROM_ADDRESS")
	setString(&c.Report.FromName, "REPORT_FROM_NAME")
	setString(&c.Worker.ID, "WORKER_ID")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("ASANA_PROJECT_IDS"); v != "" {
		c.Asana.ProjectIDs = splitList(v)
	}

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&c.Server.ReadTimeout, "SERVER_READ_TIMEOUT"},
		{&c.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT"},
		{&c.Asana.Timeout, "ASANA_TIMEOUT"},
		{&c.Auth.TokenTTL, "AUTH_TOKEN_TTL"},
		{&c.Sync.Interval, "SYNC_INTERVAL"},
		{&c.Worker.PollInterval, "WORKER_POLL_INTERVAL"},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	if v := os.Getenv("OUTLIER_MAX_SECONDS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid OUTLIER_MAX_SECONDS %q: %w", v, err)
		}
		c.Report.OutlierMaxSeconds = &n
	}
	if v := os.Getenv("AUTH_SECURE_COOKIE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AUTH_SECURE_COOKIE %q: %w", v, err)
		}
		c.Auth.SecureCookie = b
	}
	if v := os.Getenv("LOG_DEVELOPMENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_DEVELOPMENT %q: %w", v, err)
		}
		c.Log.Development = b
	}

	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.WebDir == "" {
		c.Server.WebDir = "./web"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Asana.BaseURL == "" {
		c.Asana.BaseURL = DefaultAsanaBaseURL
	}
	if c.Asana.Timeout == 0 {
		c.Asana.Timeout = 30 * time.Second
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = DefaultSyncInterval
	}
	if c.Report.OutputPath == "" {
		c.Report.OutputPath = DefaultOutputPath
	}
	if c.Report.OutlierMaxSeconds == nil {
		limit := statusduration.DefaultMaxDurationSeconds
		c.Report.OutlierMaxSeconds = &limit
	}
	if c.Worker.ID == "" {
		c.Worker.ID = fmt.Sprintf("worker-%d", time.Now().Unix())
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = DefaultPollInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// OutlierLimit is the configured outlier threshold in seconds; 0 disables it.
func (c *Config) OutlierLimit() int64 {
	if c.Report.OutlierMaxSeconds == nil {
		return statusduration.DefaultMaxDurationSeconds
	}

	return *c.Report.OutlierMaxSeconds
}

func (c *Config) ValidateServer() error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required"))
	}
	if c.Auth.SharedPassword == "" {
		errs = append(errs, errors.New("AUTH_SHARED_PASSWORD is required"))
	}
	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("AUTH_JWT_SECRET must be at least 32 bytes"))
	}

	return errors.Join(errs...)
}

func (c *Config) ValidateWorker() error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required"))
	}
	if c.Asana.Token == "" {
		errs = append(errs, errors.New("ASANA_TOKEN is required"))
	}

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}

	return out
}
