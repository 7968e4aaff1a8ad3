package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration for the server
type Config struct {
	App struct {
		Name string `mapstructure:"name"`
	} `mapstructure:"app"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Store struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`

	Fetch struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"fetch"`

	Scheduler struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
		Background   struct {
			Availability string        `mapstructure:"availability"`
			Interval     time.Duration `mapstructure:"interval"`
			Budget       time.Duration `mapstructure:"budget"`
		} `mapstructure:"background"`
	} `mapstructure:"scheduler"`

	Feed struct {
		Enabled     bool          `mapstructure:"enabled"`
		URL         string        `mapstructure:"url"`
		ReadTimeout time.Duration `mapstructure:"read_timeout"`
		Reconnect   struct {
			InitialDelay time.Duration `mapstructure:"initial_delay"`
			MaxDelay     time.Duration `mapstructure:"max_delay"`
			Multiplier   float64       `mapstructure:"multiplier"`
		} `mapstructure:"reconnect"`
	} `mapstructure:"feed"`

	Notify struct {
		Channel    string `mapstructure:"channel"` // log, webhook, email
		WebhookURL string `mapstructure:"webhook_url"`
		Email      struct {
			Host     string   `mapstructure:"host"`
			Port     int      `mapstructure:"port"`
			Username string   `mapstructure:"username"`
			Password string   `mapstructure:"password"`
			From     string   `mapstructure:"from"`
			To       []string `mapstructure:"to"`
		} `mapstructure:"email"`
	} `mapstructure:"notify"`

	NATS struct {
		Enabled        bool          `mapstructure:"enabled"`
		URL            string        `mapstructure:"url"`
		MaxReconnects  int           `mapstructure:"max_reconnects"`
		ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	} `mapstructure:"nats"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ratewatch")
	v.SetDefault("log.level", "info")
	v.SetDefault("store.path", "ratewatch.db")
	v.SetDefault("fetch.base_url", "https://api.exchangerate.host")
	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("scheduler.poll_interval", 30*time.Second)
	v.SetDefault("scheduler.background.availability", "available")
	v.SetDefault("scheduler.background.interval", 15*time.Minute)
	v.SetDefault("scheduler.background.budget", 25*time.Second)
	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.url", "wss://stream.example.com/quotes")
	v.SetDefault("feed.read_timeout", 90*time.Second)
	v.SetDefault("feed.reconnect.initial_delay", time.Second)
	v.SetDefault("feed.reconnect.max_delay", time.Minute)
	v.SetDefault("feed.reconnect.multiplier", 2.0)
	v.SetDefault("notify.channel", "log")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
}

// Load reads config.yaml from the given directory, falling back to
// defaults when the file is absent
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
