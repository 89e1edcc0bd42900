package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	SLA        SLAConfig        `yaml:"sla" mapstructure:"sla"`
	Telegram   TelegramConfig   `yaml:"telegram" mapstructure:"telegram"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Name            string        `yaml:"name" mapstructure:"name"`
	SSLMode         string        `yaml:"sslmode" mapstructure:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// SLAConfig drives the monitor and the priority targets. Hours per
// priority; zero values fall back to the stock table.
type SLAConfig struct {
	ScanInterval  time.Duration        `yaml:"scan_interval" mapstructure:"scan_interval"`
	NotifyTimeout time.Duration        `yaml:"notify_timeout" mapstructure:"notify_timeout"`
	Targets       map[string]SLATarget `yaml:"targets" mapstructure:"targets"`
}

type SLATarget struct {
	ResponseHours   int `yaml:"response_hours" mapstructure:"response_hours"`
	ResolutionHours int `yaml:"resolution_hours" mapstructure:"resolution_hours"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Token   string `yaml:"token" mapstructure:"token"`
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`         // json, text
	Output     string `yaml:"output" mapstructure:"output"`         // stdout, file, both
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // MB
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // days
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // number of backup files
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

type MonitoringConfig struct {
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// TracingConfig is the OpenTelemetry OTLP exporter configuration.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"` // OTLP gRPC endpoint, e.g. otel-collector:4317
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
}

// Load unmarshals the viper state (config file + env overrides) over
// the defaults.
func Load() *Config {
	config := GetDefaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		panic(err)
	}
	return config
}

// GetDefaultConfig returns the stock configuration.
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "slapulse",
			SSLMode:         "disable",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Redis: RedisConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    6379,
			DB:      0,
		},
		SLA: SLAConfig{
			ScanInterval:  300 * time.Second,
			NotifyTimeout: 10 * time.Second,
		},
		Telegram: TelegramConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "logs/slapulse.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "localhost:4317",
				Insecure:    true,
				SampleRatio: 1.0,
				ServiceName: "slapulse",
			},
		},
	}
}
