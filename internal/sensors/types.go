package sensors

import "github.com/jkaberg/enbw-hass/internal/enbw"

// Home Assistant sensor metadata values used by the table.
const (
	DeviceClassDistance = "distance"
	DeviceClassEnum     = "enum"
	StateClassMeasure   = "measurement"

	UnitMeters     = "m"
	UnitKilometers = "km"
)

// Station states reported by the state sensor.
const (
	StateAvailable   = "available"
	StateUnavailable = "unavailable"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Descriptor describes one projected value. Descriptors are built once at
// startup and never modified; ValueFn must be a pure function of the
// snapshot.
type Descriptor struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	Icon        string
	Precision   *int // suggested display precision, nil when unset
	Options     []string
	ValueFn     func(s *enbw.Snapshot) any
}

// Values maps descriptor keys to their value for one snapshot.
type Values map[string]any

func precision(p int) *int { return &p }
