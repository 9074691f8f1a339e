package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	StationID     string        `yaml:"station_id"`
	PollRate      time.Duration `yaml:"poll_rate"`
	PromptTimeout time.Duration `yaml:"prompt_timeout"`
	Employees     []string      `yaml:"employees"`

	Backend   BackendConfig   `yaml:"backend"`
	Stats     StatsConfig     `yaml:"stats"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Log       LogConfig       `yaml:"log"`
}

// BackendConfig defines the order backend connection.
type BackendConfig struct {
	URL     string        `yaml:"url"     json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// StatsConfig controls the product statistics views.
type StatsConfig struct {
	TopN int `yaml:"top_n"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// MessagingConfig defines the optional event publishing backend.
type MessagingConfig struct {
	Backend           string        `yaml:"backend"` // "", "mqtt" or "kafka"
	MQTT              MQTTConfig    `yaml:"mqtt"`
	Kafka             KafkaConfig   `yaml:"kafka"`
	EventsTopic       string        `yaml:"events_topic"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultEmployees is the fixed list of staff who can complete orders.
var DefaultEmployees = []string{"Richard", "Cassio", "Matheus", "Marlon"}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		StationID:     "separacao-1",
		PollRate:      3 * time.Minute,
		PromptTimeout: 5 * time.Minute,
		Employees:     append([]string(nil), DefaultEmployees...),
		Backend: BackendConfig{
			URL:     "http://localhost:5000",
			Timeout: 30 * time.Second,
		},
		Stats: StatsConfig{
			TopN: 10,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Messaging: MessagingConfig{
			EventsTopic:       "monitor/events",
			HeartbeatInterval: 60 * time.Second,
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.fill()
	return cfg, nil
}

// fill restores defaults for values a config file zeroed out.
func (c *Config) fill() {
	d := Defaults()
	if c.PollRate <= 0 {
		c.PollRate = d.PollRate
	}
	if len(c.Employees) == 0 {
		c.Employees = d.Employees
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = d.Backend.Timeout
	}
	if c.Stats.TopN <= 0 {
		c.Stats.TopN = d.Stats.TopN
	}
	if c.Messaging.HeartbeatInterval <= 0 {
		c.Messaging.HeartbeatInterval = d.Messaging.HeartbeatInterval
	}
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ClientID returns the MQTT client ID, or derives one from the station ID.
func (c *Config) ClientID() string {
	if c.Messaging.MQTT.ClientID != "" {
		return c.Messaging.MQTT.ClientID
	}
	return "monitor-" + c.StationID
}

// Lock acquires the config mutex for multi-step mutations.
func (c *Config) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *Config) Unlock() { c.mu.Unlock() }
