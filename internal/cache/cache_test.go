package cache

import (
	"testing"

	"github.com/jkaberg/enbw-hass/internal/sensors"
)

func values(available int, lat, lon, dist float64) sensors.Values {
	return sensors.Values{
		sensors.KeyAvailable: available,
		sensors.KeyLatitude:  lat,
		sensors.KeyLongitude: lon,
		sensors.KeyDistance:  dist,
	}
}

func TestChanged(t *testing.T) {
	m := NewManager()

	if !m.Changed(values(3, 48, 8, 100)) {
		t.Error("first call should report a change")
	}
	if m.Changed(values(3, 48, 8, 100)) {
		t.Error("identical values should not report a change")
	}
	if !m.Changed(values(2, 48, 8, 100)) {
		t.Error("availability change not detected")
	}
}

func TestChanged_IgnoresCoordinateJitter(t *testing.T) {
	m := NewManager()
	m.Changed(values(3, 48.0, 8.0, 100))

	// ~1 m north
	if m.Changed(values(3, 48.00001, 8.0, 101)) {
		t.Error("sub-10 m movement should be ignored")
	}
	// ~1.1 km north
	if !m.Changed(values(3, 48.01, 8.0, 1200)) {
		t.Error("large movement should be reported")
	}
}

func TestChanged_NilAndReset(t *testing.T) {
	m := NewManager()
	if m.Changed(nil) {
		t.Error("nil values should not count as a change")
	}

	m.Changed(values(1, 0, 0, 0))
	m.Reset()
	if !m.Changed(values(1, 0, 0, 0)) {
		t.Error("Changed() after Reset() should report a change")
	}
}
