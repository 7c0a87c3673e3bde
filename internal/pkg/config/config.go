package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port          int    `env:"PORT" envDefault:"5000"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"INFO"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	SimulationCfg SimulationConfig
	SessionCfg    SessionConfig
	MqttCfg       MqttConfig
	KafkaCfg      KafkaConfig
	DatabaseCfg   DatabaseConfig
}

type SimulationConfig struct {
	NominalVoltage      float64       `env:"NOMINAL_VOLTAGE" envDefault:"230"`
	OverloadThresholdW  int           `env:"OVERLOAD_THRESHOLD_W" envDefault:"4000"`
	SafetyMarginW       int           `env:"SAFETY_MARGIN_W" envDefault:"500"`
	TripDelay           time.Duration `env:"TRIP_DELAY" envDefault:"5s"`
	ExcellentThresholdW int           `env:"EXCELLENT_THRESHOLD_W" envDefault:"2500"`
	AverageThresholdW   int           `env:"AVERAGE_THRESHOLD_W" envDefault:"4000"`
	HistorySize         int           `env:"HISTORY_SIZE" envDefault:"100"`
}

type SessionConfig struct {
	Schedule string `env:"SESSION_SCHEDULE" envDefault:"@hourly"`
}

// MqttConfig is optional; the sink is disabled without a host.
type MqttConfig struct {
	Host     string `env:"MQTT_HOST"`
	Username string `env:"MQTT_USER"`
	Password string `env:"MQTT_PASS"`
}

type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"house-power-events"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	Retention       time.Duration `env:"HISTORY_RETENTION" envDefault:"192h"`
	CleanupSchedule string        `env:"CLEANUP_SCHEDULE" envDefault:"0 3 * * *"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	s := c.SimulationCfg
	switch {
	case c.Port <= 0:
		return fmt.Errorf("invalid port %d", c.Port)
	case s.NominalVoltage <= 0:
		return fmt.Errorf("invalid nominal voltage %v", s.NominalVoltage)
	case s.OverloadThresholdW <= 0:
		return fmt.Errorf("invalid overload threshold %d", s.OverloadThresholdW)
	case s.SafetyMarginW < 0 || s.SafetyMarginW > s.OverloadThresholdW:
		return fmt.Errorf("invalid safety margin %d", s.SafetyMarginW)
	case s.TripDelay <= 0:
		return fmt.Errorf("invalid trip delay %s", s.TripDelay)
	case s.HistorySize <= 0:
		return fmt.Errorf("invalid history size %d", s.HistorySize)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Port)
}
