package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Queue    string `yaml:"queue"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		AutoApprove            bool `yaml:"auto_approve"`
		DefaultGraceMinutes    int  `yaml:"default_grace_minutes"`
		CheckInLeadMinutes     int  `yaml:"check_in_lead_minutes"`
		StoreTimeoutSeconds    int  `yaml:"store_timeout_seconds"`
		SweepIntervalMinutes   int  `yaml:"sweep_interval_minutes"`
		SweepBatchSize         int  `yaml:"sweep_batch_size"`
	} `yaml:"booking"`

	Attendance struct {
		TokenSecret     string `yaml:"token_secret"`
		TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
		VerifyRatePerIP int    `yaml:"verify_rate_per_ip"`
		VerifyBurst     int    `yaml:"verify_burst"`
	} `yaml:"attendance"`

	Export struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"export"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		StoragePath   string `yaml:"storage_path"`
		IntervalHours int    `yaml:"interval_hours"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if cfg.Attendance.TokenSecret == "" {
		return nil, fmt.Errorf("attendance.token_secret is required")
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/roomhub.db"
	}
	if c.Redis.Queue == "" {
		c.Redis.Queue = "roomhub:notifications"
	}
	if c.Booking.DefaultGraceMinutes <= 0 {
		c.Booking.DefaultGraceMinutes = 15
	}
	if c.Booking.CheckInLeadMinutes <= 0 {
		c.Booking.CheckInLeadMinutes = 15
	}
	if c.Booking.StoreTimeoutSeconds <= 0 {
		c.Booking.StoreTimeoutSeconds = 5
	}
	if c.Booking.SweepIntervalMinutes <= 0 {
		c.Booking.SweepIntervalMinutes = 1
	}
	if c.Booking.SweepBatchSize <= 0 {
		c.Booking.SweepBatchSize = 100
	}
	if c.Attendance.TokenTTLMinutes <= 0 {
		c.Attendance.TokenTTLMinutes = 10
	}
	if c.Attendance.VerifyRatePerIP <= 0 {
		c.Attendance.VerifyRatePerIP = 5
	}
	if c.Attendance.VerifyBurst <= 0 {
		c.Attendance.VerifyBurst = 10
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 14
	}
}

// StoreTimeout is the per-call deadline for store operations.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Booking.StoreTimeoutSeconds) * time.Second
}

// SweepInterval is the auto-release scheduler cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Booking.SweepIntervalMinutes) * time.Minute
}

// TokenTTL is the attendance token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Attendance.TokenTTLMinutes) * time.Minute
}

// BackupInterval is the database backup cadence.
func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
