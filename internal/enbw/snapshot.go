package enbw

import (
	"encoding/json"
	"fmt"
	"time"
)

// JSON keys of the charge station payload.
const (
	AttrAvailable    = "availableChargePoints"
	AttrTotal        = "numberOfChargePoints"
	AttrLatitude     = "lat"
	AttrLongitude    = "lon"
	AttrManufacturer = "manufacturer"
	AttrModel        = "model"
	AttrOperator     = "operator"
)

// DefaultModel is reported when the API does not name a model.
const DefaultModel = "Charging Station"

// Snapshot is one decoded charge station payload. It is produced fresh on
// every successful fetch and must be treated as read-only afterwards.
type Snapshot struct {
	StationID    string  `json:"stationId"`
	Available    int     `json:"availableChargePoints"`
	Total        int     `json:"numberOfChargePoints"`
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lon"`
	Manufacturer string  `json:"manufacturer"`
	Model        string  `json:"model"`
	Operator     string  `json:"operator"`
	Address      string  `json:"shortAddress"`

	// Raw holds every top-level key of the payload as decoded JSON.
	Raw map[string]any `json:"-"`

	FetchedAt time.Time `json:"-"`
}

// ParseSnapshot decodes an API response body.
func ParseSnapshot(body []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("failed to decode station payload: %w", err)
	}
	if err := json.Unmarshal(body, &s.Raw); err != nil {
		return nil, fmt.Errorf("failed to decode station payload: %w", err)
	}
	s.FetchedAt = time.Now()
	return &s, nil
}

// DeviceManufacturer returns the manufacturer, falling back to the operator.
func (s *Snapshot) DeviceManufacturer() string {
	if s == nil {
		return ""
	}
	if s.Manufacturer != "" {
		return s.Manufacturer
	}
	return s.Operator
}

// DeviceModel returns the model or DefaultModel.
func (s *Snapshot) DeviceModel() string {
	if s == nil || s.Model == "" {
		return DefaultModel
	}
	return s.Model
}

// ValidateSnapshot reports implausible values. The snapshot is still used
// as-is; the warnings only end up in the log.
func ValidateSnapshot(s *Snapshot) []string {
	var warnings []string
	if s.Available < 0 {
		warnings = append(warnings, fmt.Sprintf("available charge points is negative: %d", s.Available))
	}
	if s.Total < s.Available {
		warnings = append(warnings, fmt.Sprintf("total charge points %d is below available %d", s.Total, s.Available))
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		warnings = append(warnings, fmt.Sprintf("latitude out of range: %v", s.Latitude))
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		warnings = append(warnings, fmt.Sprintf("longitude out of range: %v", s.Longitude))
	}
	return warnings
}
