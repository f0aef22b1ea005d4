package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Engine     EngineConfig     `yaml:"engine"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Notify     NotifyConfig     `yaml:"notify"`
	Google     GoogleConfig     `yaml:"google"`
	Exports    ExportConfig     `yaml:"exports"`
	Admins     []string         `yaml:"admins"`
	ItemsFile  string           `yaml:"items_file"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type PricingConfig struct {
	PerKmCharge       int64   `yaml:"per_km_charge"`
	CommissionPercent float64 `yaml:"commission_percent"`
}

type EngineConfig struct {
	OTPMaxAttempts          int64 `yaml:"otp_max_attempts"`
	RejectionAlertThreshold int64 `yaml:"rejection_alert_threshold"`
	RejectionWindowHours    int   `yaml:"rejection_window_hours"`
	PaymentSpikeThreshold   int64 `yaml:"payment_spike_threshold"`
	PaymentSpikeWindowMin   int   `yaml:"payment_spike_window_minutes"`
}

type SchedulerConfig struct {
	FastIntervalSeconds int `yaml:"fast_interval_seconds"`
	SlowIntervalMinutes int `yaml:"slow_interval_minutes"`
	SearchTimeoutHours  int `yaml:"search_timeout_hours"`
	AutoCancelMinutes   int `yaml:"auto_cancel_minutes"`
	AutoCompleteHours   int `yaml:"auto_complete_hours"`
	RatingSweepHour     int `yaml:"rating_sweep_hour"`
}

type NotifyConfig struct {
	PerUserPerSecond float64 `yaml:"per_user_per_second"`
	Burst            int     `yaml:"burst"`
}

type GoogleConfig struct {
	CredentialsFile       string `yaml:"credentials_file"`
	BookingsSpreadsheetID string `yaml:"bookings_spreadsheet_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment variables still expand without it.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Pricing.CommissionPercent < 0 || c.Pricing.CommissionPercent > 100 {
		return fmt.Errorf("commission_percent %v out of range", c.Pricing.CommissionPercent)
	}
	if c.Google.BookingsSpreadsheetID != "" && c.Google.CredentialsFile == "" {
		return errors.New("google credentials_file is required when a spreadsheet id is set")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "agrilink"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Pricing.PerKmCharge == 0 {
		c.Pricing.PerKmCharge = 50
	}

	if c.Scheduler.FastIntervalSeconds == 0 {
		c.Scheduler.FastIntervalSeconds = 60
	}
	if c.Scheduler.SlowIntervalMinutes == 0 {
		c.Scheduler.SlowIntervalMinutes = 60
	}
	if c.Scheduler.SearchTimeoutHours == 0 {
		c.Scheduler.SearchTimeoutHours = 6
	}
	if c.Scheduler.AutoCancelMinutes == 0 {
		c.Scheduler.AutoCancelMinutes = 15
	}
	if c.Scheduler.AutoCompleteHours == 0 {
		c.Scheduler.AutoCompleteHours = 24
	}
	if c.Scheduler.RatingSweepHour == 0 {
		c.Scheduler.RatingSweepHour = 4
	}

	if c.Notify.PerUserPerSecond == 0 {
		c.Notify.PerUserPerSecond = 1
	}
	if c.Notify.Burst == 0 {
		c.Notify.Burst = 5
	}
}
