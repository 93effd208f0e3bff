package cache

import (
	"reflect"
	"sync"

	"github.com/jkaberg/enbw-hass/internal/sensors"
)

// jitterMeters is the station movement below which coordinates count as
// unchanged. The API occasionally reports the same station with slightly
// different coordinates.
const jitterMeters = 10.0

// Manager keeps the previously published values and answers the question:
// "has anything changed since the last time I asked?".
// It is concurrency-safe for the read-then-write pattern used by the app.
//
// Behaviour:
//   - First call to Changed() always returns true and stores the values.
//   - Latitude/longitude movement under 10 m is ignored, as is the
//     distance change it causes.
//   - The stored values are replaced only when a difference is detected.
type Manager struct {
	mu   sync.Mutex
	prev sensors.Values
}

// NewManager returns a ready-to-use cache manager.
func NewManager() *Manager { return &Manager{} }

// Changed compares cur against the stored values. If a change is detected
// it stores cur and returns true.
func (m *Manager) Changed(cur sensors.Values) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.prev == nil {
		m.prev = clone(cur)
		return m.prev != nil
	}
	if equalIgnoringJitter(m.prev, cur) {
		return false
	}
	m.prev = clone(cur)
	return true
}

// Reset forgets the stored values so the next Changed() returns true.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.prev = nil
	m.mu.Unlock()
}

func equalIgnoringJitter(a, b sensors.Values) bool {
	aa, bb := clone(a), clone(b)

	lat1, ok1 := aa[sensors.KeyLatitude].(float64)
	lon1, ok2 := aa[sensors.KeyLongitude].(float64)
	lat2, ok3 := bb[sensors.KeyLatitude].(float64)
	lon2, ok4 := bb[sensors.KeyLongitude].(float64)
	if ok1 && ok2 && ok3 && ok4 &&
		sensors.HaversineMeters(lat1, lon1, lat2, lon2) < jitterMeters {
		for _, k := range []string{sensors.KeyLatitude, sensors.KeyLongitude, sensors.KeyDistance} {
			delete(aa, k)
			delete(bb, k)
		}
	}
	return reflect.DeepEqual(aa, bb)
}

// clone returns a shallow copy; values are scalars.
func clone(src sensors.Values) sensors.Values {
	if src == nil {
		return nil
	}
	dst := make(sensors.Values, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
