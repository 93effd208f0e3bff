package config

import "time"

// Central place for all application-wide timing constants and other defaults.
// Changing a value here immediately affects all components that import
// github.com/jkaberg/enbw-hass/internal/config.

const (
	// EnBW e-mobility public API, station id is appended verbatim.
	DefaultBaseURL = "https://enbw-emp.azure-api.net/emobility-public-api/api/v1/chargestations/"

	// Polling
	DefaultPollInterval = time.Minute      // Re-fetch charging point status
	DefaultFetchTimeout = 30 * time.Second // Bound for a single API call

	// Outputs
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultRedisTTL        = 10 * time.Minute
	MQTTTimeout            = 5 * time.Second // MQTT publish
	RedisTimeout           = 3 * time.Second // Redis write
)
