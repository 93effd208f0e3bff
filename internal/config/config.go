package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Distance units accepted for the distance_to_home sensor.
const (
	DistanceMeters     = "m"
	DistanceKilometers = "km"
)

var (
	ErrMissingStationID = errors.New("station id is required")
	ErrMissingAPIKey    = errors.New("api key is required")
)

// Config holds all configuration options for the ENBW-HASS application
type Config struct {
	// Station Configuration
	StationID string `yaml:"station_id"` // EnBW charge station id, unique identity of this instance
	APIKey    string `yaml:"api_key"`    // Subscription key for the EnBW API
	Name      string `yaml:"name"`       // Display name of the device, defaults to the station id
	BaseURL   string `yaml:"base_url"`   // API base URL, station id is appended

	// MQTT Configuration
	MQTTUrl         string `yaml:"mqtt_url"`         // MQTT URL (supports both WebSocket and standard MQTT)
	DiscoveryPrefix string `yaml:"discovery_prefix"` // Home Assistant discovery prefix

	// Redis Configuration
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`

	// Polling Configuration
	PollInterval        time.Duration `yaml:"poll_interval"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout"`
	ForceUpdateInterval time.Duration `yaml:"force_update_interval"` // 0 disables forced republish

	// Home location used for the distance sensor
	HomeLatitude  float64 `yaml:"home_latitude"`
	HomeLongitude float64 `yaml:"home_longitude"`
	DistanceUnit  string  `yaml:"distance_unit"`

	// Application Configuration
	Verbose bool `yaml:"verbose"` // Enable verbose logging
}

// GetDefaultConfig returns a configuration with sensible defaults
func GetDefaultConfig() *Config {
	return &Config{
		BaseURL:         DefaultBaseURL,
		DiscoveryPrefix: DefaultDiscoveryPrefix,
		RedisTTL:        DefaultRedisTTL,
		PollInterval:    DefaultPollInterval,
		FetchTimeout:    DefaultFetchTimeout,
		DistanceUnit:    DistanceMeters,
	}
}

// LoadFile overlays the YAML document at path onto c. Keys missing from the
// file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.StationID = strings.TrimSpace(c.StationID)
	c.APIKey = strings.TrimSpace(c.APIKey)

	if c.StationID == "" {
		return ErrMissingStationID
	}
	// There is deliberately no fallback key; a missing key is a setup error.
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}

	// MQTT validation - support both WebSocket and standard MQTT protocols
	if c.MQTTUrl != "" {
		if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
			!strings.HasPrefix(c.MQTTUrl, "wss://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
			return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
		}
	}

	if c.HomeLatitude < -90 || c.HomeLatitude > 90 {
		return fmt.Errorf("home latitude %v out of range", c.HomeLatitude)
	}
	if c.HomeLongitude < -180 || c.HomeLongitude > 180 {
		return fmt.Errorf("home longitude %v out of range", c.HomeLongitude)
	}

	switch c.DistanceUnit {
	case "":
		c.DistanceUnit = DistanceMeters
	case DistanceMeters, DistanceKilometers:
	default:
		return fmt.Errorf("distance unit must be %q or %q, got %q", DistanceMeters, DistanceKilometers, c.DistanceUnit)
	}

	if c.ForceUpdateInterval < 0 {
		return fmt.Errorf("force update interval must not be negative")
	}

	// Set defaults for invalid values
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.RedisTTL <= 0 {
		c.RedisTTL = DefaultRedisTTL
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.Name == "" {
		c.Name = c.StationID
	}

	return nil
}

// HasMQTT returns true if MQTT is configured
func (c *Config) HasMQTT() bool {
	return c.MQTTUrl != ""
}

// HasRedis returns true if the Redis mirror is configured
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}
