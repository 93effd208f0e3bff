package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jkaberg/enbw-hass/internal/mqtt"
	"github.com/jkaberg/enbw-hass/internal/sensors"
	"github.com/sirupsen/logrus"
)

// Publisher is the subset of *mqtt.Client the transmitter uses.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
}

// MQTTTransmitter publishes station data through Home Assistant MQTT discovery
type MQTTTransmitter struct {
	client          Publisher
	stationID       string
	discoveryPrefix string
	descriptors     []sensors.Descriptor
	logger          *logrus.Logger

	mu               sync.Mutex
	publishedSensors map[string]bool // Tracks published discovery configs
	publishedDevice  HADevice        // Device record the configs were published with
}

// HADiscoveryConfig represents Home Assistant MQTT discovery configuration
type HADiscoveryConfig struct {
	Name                      string   `json:"name"`
	UniqueID                  string   `json:"unique_id"`
	ObjectID                  string   `json:"object_id"`
	StateTopic                string   `json:"state_topic"`
	ValueTemplate             string   `json:"value_template,omitempty"`
	JSONAttributesTopic       string   `json:"json_attributes_topic,omitempty"`
	DeviceClass               string   `json:"device_class,omitempty"`
	UnitOfMeasurement         string   `json:"unit_of_measurement,omitempty"`
	StateClass                string   `json:"state_class,omitempty"`
	SuggestedDisplayPrecision *int     `json:"suggested_display_precision,omitempty"`
	Options                   []string `json:"options,omitempty"`
	Icon                      string   `json:"icon,omitempty"`
	Device                    HADevice `json:"device"`
	AvailabilityTopic         string   `json:"availability_topic"`
}

// HADevice represents the device information for Home Assistant
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
}

func (d HADevice) equal(o HADevice) bool {
	return d.Name == o.Name && d.Model == o.Model && d.Manufacturer == o.Manufacturer
}

// stateAttributes is published to the json_attributes_topic of every sensor.
type stateAttributes struct {
	Attribution string `json:"attribution"`
	LastUpdated string `json:"last_updated,omitempty"`
	LastPolled  string `json:"last_polled,omitempty"`
	Address     string `json:"address,omitempty"`
	Stale       bool   `json:"stale"`
	Error       string `json:"error,omitempty"`
}

// NewMQTTTransmitter creates a new MQTT transmitter
func NewMQTTTransmitter(client Publisher, stationID, discoveryPrefix string, descriptors []sensors.Descriptor, logger *logrus.Logger) *MQTTTransmitter {
	return &MQTTTransmitter{
		client:           client,
		stationID:        stationID,
		discoveryPrefix:  discoveryPrefix,
		descriptors:      descriptors,
		logger:           logger,
		publishedSensors: make(map[string]bool),
	}
}

// Name identifies the transmitter in logs.
func (t *MQTTTransmitter) Name() string { return "MQTT" }

// Transmit publishes discovery (when needed), state, attributes and availability.
func (t *MQTTTransmitter) Transmit(ctx context.Context, p *Payload) error {
	_ = ctx
	if !t.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	// Missing configs are retried on the next transmit; state still goes out.
	discoveryErr := t.publishDiscoveryConfigs(t.device(p))

	// A failed poll leaves the retained state untouched; availability flips
	// to offline so Home Assistant shows the values as stale.
	if !p.Stale && p.Values != nil {
		if err := t.publishState(p); err != nil {
			return fmt.Errorf("failed to publish state: %w", err)
		}
	}

	if err := t.publishAttributes(p); err != nil {
		t.logger.WithError(err).Warn("Failed to publish state attributes")
	}

	if err := t.publishAvailability(!p.Stale); err != nil {
		return fmt.Errorf("failed to publish availability: %w", err)
	}

	if discoveryErr != nil {
		return fmt.Errorf("failed to publish discovery: %w", discoveryErr)
	}

	t.logger.WithField("stale", p.Stale).Debug("Data transmitted successfully")
	return nil
}

func (t *MQTTTransmitter) device(p *Payload) HADevice {
	name := p.Name
	if name == "" {
		name = p.StationID
	}
	return HADevice{
		Identifiers:  []string{mqtt.NodeID(t.stationID)},
		Name:         name,
		Model:        p.Device.Model,
		Manufacturer: p.Device.Manufacturer,
	}
}

// publishDiscoveryConfigs ensures every projection has a discovery config
// carrying the current device record. A changed manufacturer or model
// triggers a republish of all configs.
func (t *MQTTTransmitter) publishDiscoveryConfigs(device HADevice) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.publishedDevice.equal(device) {
		if len(t.publishedSensors) > 0 {
			t.logger.WithFields(logrus.Fields{
				"manufacturer": device.Manufacturer,
				"model":        device.Model,
			}).Info("Device identity changed, republishing discovery")
		}
		t.publishedSensors = make(map[string]bool)
		t.publishedDevice = device
	}

	var errs []error
	for _, desc := range t.descriptors {
		if err := t.publishDiscoveryForSensor(desc, device); err != nil {
			t.logger.WithError(err).WithField("sensor", desc.Key).Error("Failed to publish discovery config")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// discoveryConfig builds the discovery document of one projection.
func (t *MQTTTransmitter) discoveryConfig(desc sensors.Descriptor, device HADevice) HADiscoveryConfig {
	cfg := HADiscoveryConfig{
		Name:                      desc.Name,
		UniqueID:                  fmt.Sprintf("%s_%s", t.stationID, desc.Key),
		ObjectID:                  fmt.Sprintf("%s_%s", mqtt.NodeID(t.stationID), desc.Key),
		StateTopic:                mqtt.StateTopic(t.stationID),
		ValueTemplate:             fmt.Sprintf("{{ value_json.%s }}", desc.Key),
		JSONAttributesTopic:       mqtt.AttributesTopic(t.stationID),
		DeviceClass:               desc.DeviceClass,
		UnitOfMeasurement:         desc.Unit,
		StateClass:                desc.StateClass,
		SuggestedDisplayPrecision: desc.Precision,
		Options:                   desc.Options,
		Icon:                      desc.Icon,
		Device:                    device,
		AvailabilityTopic:         mqtt.AvailabilityTopic(t.stationID),
	}
	return cfg
}

// publishDiscoveryForSensor publishes the discovery config for a single sensor.
func (t *MQTTTransmitter) publishDiscoveryForSensor(desc sensors.Descriptor, device HADevice) error {
	if t.publishedSensors[desc.Key] {
		return nil
	}

	topic := mqtt.DiscoveryTopic(t.discoveryPrefix, "sensor", t.stationID, desc.Key)
	if err := t.publishJSON(topic, t.discoveryConfig(desc, device), true); err != nil {
		return fmt.Errorf("failed to publish %s discovery config: %w", desc.Key, err)
	}

	t.logger.WithFields(logrus.Fields{
		"sensor": desc.Key,
		"topic":  topic,
	}).Info("Published sensor discovery config")

	t.publishedSensors[desc.Key] = true
	return nil
}

func (t *MQTTTransmitter) publishState(p *Payload) error {
	payload, err := json.Marshal(p.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	topic := mqtt.StateTopic(t.stationID)
	if err := t.client.Publish(topic, payload, true); err != nil {
		return err
	}

	t.logger.WithFields(logrus.Fields{
		"topic":   topic,
		"payload": string(payload),
	}).Info("Published station state")
	return nil
}

func (t *MQTTTransmitter) publishAttributes(p *Payload) error {
	attrs := stateAttributes{
		Attribution: p.Attribution(),
		Address:     p.Address,
		Stale:       p.Stale,
		Error:       p.Error,
	}
	if !p.LastSuccess.IsZero() {
		attrs.LastUpdated = p.LastSuccess.UTC().Format(time.RFC3339)
	}
	if !p.PolledAt.IsZero() {
		attrs.LastPolled = p.PolledAt.UTC().Format(time.RFC3339)
	}
	return t.publishJSON(mqtt.AttributesTopic(t.stationID), attrs, true)
}

// publishAvailability publishes the availability status
func (t *MQTTTransmitter) publishAvailability(online bool) error {
	payload := mqtt.PayloadOnline
	if !online {
		payload = mqtt.PayloadOffline
	}
	return t.client.Publish(mqtt.AvailabilityTopic(t.stationID), []byte(payload), true)
}

func (t *MQTTTransmitter) publishJSON(topic string, v interface{}, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	return t.client.Publish(topic, payload, retained)
}
