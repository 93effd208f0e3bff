package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaberg/enbw-hass/internal/config"
	"github.com/sirupsen/logrus"
)

// Client publishes one station's topics. It owns the availability topic:
// the broker sets it offline through the Will, and the client restores the
// last published value after every reconnect.
type Client struct {
	client    mqtt.Client
	stationID string
	logger    *logrus.Logger

	mu           sync.Mutex
	availability string // last payload published on the availability topic
}

// brokerURL maps the user-facing scheme onto the one paho dials and reports
// whether TLS is needed.
func brokerURL(u *url.URL) (string, bool, error) {
	raw := u.String()
	switch u.Scheme {
	case "ws":
		return raw, false, nil
	case "wss":
		return raw, true, nil
	case "mqtt":
		return strings.Replace(raw, "mqtt://", "tcp://", 1), false, nil
	case "mqtts":
		return strings.Replace(raw, "mqtts://", "ssl://", 1), true, nil
	}
	return "", false, fmt.Errorf("unsupported protocol scheme: %s (supported: ws, wss, mqtt, mqtts)", u.Scheme)
}

// NewClient connects to the broker at mqttURL. Credentials are taken from
// the URL userinfo.
func NewClient(mqttURL, stationID string, logger *logrus.Logger) (*Client, error) {
	parsedURL, err := url.Parse(mqttURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}
	broker, useTLS, err := brokerURL(parsedURL)
	if err != nil {
		return nil, err
	}

	c := &Client{stationID: stationID, logger: logger}
	clientID := fmt.Sprintf("enbw-hass-%s", stationID)

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetWill(AvailabilityTopic(stationID), PayloadOffline, 1, true)
	if useTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if parsedURL.User != nil {
		password, _ := parsedURL.User.Password()
		opts.SetUsername(parsedURL.User.Username())
		opts.SetPassword(password)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		go c.restoreAvailability()
	})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.WithFields(logrus.Fields{
		"broker":    cleanURL(mqttURL),
		"client_id": clientID,
	}).Info("MQTT client connected")

	return c, nil
}

// restoreAvailability republishes the last availability payload. The Will
// leaves the topic offline after a dropped connection.
func (c *Client) restoreAvailability() {
	c.mu.Lock()
	payload := c.availability
	c.mu.Unlock()
	if payload == "" {
		return
	}
	if err := c.Publish(AvailabilityTopic(c.stationID), []byte(payload), true); err != nil {
		c.logger.WithError(err).Warn("Failed to restore availability after reconnect")
		return
	}
	c.logger.WithField("availability", payload).Info("MQTT reconnected, availability restored")
}

// Publish publishes a message with QoS 1 and waits at most MQTTTimeout.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(config.MQTTTimeout) {
		return fmt.Errorf("publish to topic %s timed out after %s", topic, config.MQTTTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	if topic == AvailabilityTopic(c.stationID) {
		c.mu.Lock()
		c.availability = string(payload)
		c.mu.Unlock()
	}

	c.logger.WithFields(logrus.Fields{
		"topic":    topic,
		"size":     len(payload),
		"retained": retained,
	}).Debug("Published MQTT message")
	return nil
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect publishes offline availability and disconnects the client.
func (c *Client) Disconnect(quiesce uint) {
	if c.client.IsConnected() {
		if err := c.Publish(AvailabilityTopic(c.stationID), []byte(PayloadOffline), true); err != nil {
			c.logger.WithError(err).Debug("Failed to publish offline availability")
		}
	}
	c.client.Disconnect(quiesce)
	c.logger.Debug("MQTT client disconnected")
}

// cleanURL removes credentials from URL for logging
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if parsed.User != nil {
		parsed.User = url.UserPassword("***", "***")
	}
	return parsed.String()
}
