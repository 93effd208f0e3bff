package sensors

import (
	"github.com/jkaberg/enbw-hass/internal/enbw"
)

// Sensor keys, also used as entity ids and state payload keys.
const (
	KeyAvailable = "available_charging_points"
	KeyTotal     = "total_charging_points"
	KeyLatitude  = "latitude"
	KeyLongitude = "longitude"
	KeyDistance  = "distance_to_home"
	KeyState     = "state"
)

// Descriptors returns the projection table. home is the reference point for
// distance_to_home and unit is UnitMeters or UnitKilometers.
func Descriptors(home Location, unit string) []Descriptor {
	distPrecision := 0
	if unit == UnitKilometers {
		distPrecision = 2
	} else {
		unit = UnitMeters
	}

	return []Descriptor{
		{
			Key:        KeyAvailable,
			Name:       "Available Charging Points",
			StateClass: StateClassMeasure,
			Icon:       "mdi:ev-station",
			ValueFn:    func(s *enbw.Snapshot) any { return s.Available },
		},
		{
			Key:        KeyTotal,
			Name:       "Total Charging Points",
			StateClass: StateClassMeasure,
			Icon:       "mdi:ev-station",
			ValueFn:    func(s *enbw.Snapshot) any { return s.Total },
		},
		{
			Key:        KeyLatitude,
			Name:       "Latitude",
			StateClass: StateClassMeasure,
			Icon:       "mdi:latitude",
			Precision:  precision(2),
			ValueFn:    func(s *enbw.Snapshot) any { return s.Latitude },
		},
		{
			Key:        KeyLongitude,
			Name:       "Longitude",
			StateClass: StateClassMeasure,
			Icon:       "mdi:longitude",
			Precision:  precision(2),
			ValueFn:    func(s *enbw.Snapshot) any { return s.Longitude },
		},
		{
			Key:         KeyDistance,
			Name:        "Distance To Home",
			Unit:        unit,
			DeviceClass: DeviceClassDistance,
			StateClass:  StateClassMeasure,
			Precision:   precision(distPrecision),
			ValueFn: func(s *enbw.Snapshot) any {
				d := HaversineMeters(home.Latitude, home.Longitude, s.Latitude, s.Longitude)
				if unit == UnitKilometers {
					return d / 1000
				}
				return d
			},
		},
		{
			Key:         KeyState,
			Name:        "State",
			DeviceClass: DeviceClassEnum,
			Options:     []string{StateAvailable, StateUnavailable},
			ValueFn:     func(s *enbw.Snapshot) any { return DeriveState(s) },
		},
	}
}

// Evaluate computes every descriptor for snap. A nil snapshot yields nil.
func Evaluate(descs []Descriptor, snap *enbw.Snapshot) Values {
	if snap == nil {
		return nil
	}
	values := make(Values, len(descs))
	for _, d := range descs {
		values[d.Key] = d.ValueFn(snap)
	}
	return values
}
