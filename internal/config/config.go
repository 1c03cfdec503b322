package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Events    EventsConfig    `yaml:"events"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	ABTest    ABTestConfig    `yaml:"abtest"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type EventsConfig struct {
	Path string `yaml:"path"`
}

type SMTPConfig struct {
	RelayAddr   string     `yaml:"relay_addr"`
	FromAddress string     `yaml:"from_address"`
	FromName    string     `yaml:"from_name"`
	Username    string     `yaml:"username"`
	Password    string     `yaml:"password"`
	DKIM        DKIMConfig `yaml:"dkim"`
}

type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
}

// SchedulerConfig controls the daily dispatch tick. DispatchHourUTC is the
// fixed hour at which all deferred work becomes due; the product does not
// support arbitrary send times, only calendar days snapped to this hour.
type SchedulerConfig struct {
	DispatchHourUTC int `yaml:"dispatch_hour_utc"`
	Concurrency     int `yaml:"concurrency"`
}

// ABTestConfig controls the traffic split. With the default modulus of 4,
// cohorts A and B each receive a quarter of the audience and the remainder
// wave receives the other half.
type ABTestConfig struct {
	CohortModulus int `yaml:"cohort_modulus"`
}

type WorkflowConfig struct {
	MaxStepRetries int `yaml:"max_step_retries"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/newsletter/newsletter.db"
	}
	if c.Events.Path == "" {
		c.Events.Path = "/var/lib/newsletter/events.db"
	}
	if c.Scheduler.DispatchHourUTC == 0 {
		c.Scheduler.DispatchHourUTC = 20
	}
	if c.Scheduler.Concurrency == 0 {
		c.Scheduler.Concurrency = 5
	}
	if c.ABTest.CohortModulus == 0 {
		c.ABTest.CohortModulus = 4
	}
	if c.Workflow.MaxStepRetries == 0 {
		c.Workflow.MaxStepRetries = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) Validate() error {
	if c.Scheduler.DispatchHourUTC < 0 || c.Scheduler.DispatchHourUTC > 23 {
		return fmt.Errorf("scheduler.dispatch_hour_utc must be 0-23, got %d", c.Scheduler.DispatchHourUTC)
	}
	if c.ABTest.CohortModulus < 3 {
		return fmt.Errorf("abtest.cohort_modulus must be at least 3, got %d", c.ABTest.CohortModulus)
	}
	if c.SMTP.DKIM.Enabled {
		if c.SMTP.DKIM.KeyFile == "" || c.SMTP.DKIM.Domain == "" || c.SMTP.DKIM.Selector == "" {
			return fmt.Errorf("smtp.dkim requires key_file, domain and selector when enabled")
		}
	}
	return nil
}
