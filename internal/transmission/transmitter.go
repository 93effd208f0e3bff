package transmission

import (
	"context"
	"fmt"
	"time"

	"github.com/jkaberg/enbw-hass/internal/coordinator"
	"github.com/jkaberg/enbw-hass/internal/sensors"
)

// DefaultOperator is named in the attribution when the API reports none.
const DefaultOperator = "ENBW"

// Transmitter defines the interface for transmitting projected station data
type Transmitter interface {
	Name() string
	Transmit(ctx context.Context, p *Payload) error
}

// Payload is one rendered coordinator update.
type Payload struct {
	StationID   string
	Name        string
	Values      sensors.Values // projections of the latest good snapshot
	Device      coordinator.DeviceIdentity
	Operator    string
	Address     string
	Stale       bool   // the most recent poll failed
	Error       string // cause of the failure when Stale
	LastSuccess time.Time
	PolledAt    time.Time
}

// Attribution returns the "Data provided by" line for the payload.
func (p *Payload) Attribution() string {
	op := p.Operator
	if op == "" {
		op = DefaultOperator
	}
	return fmt.Sprintf("Data provided by %s", op)
}

// NewPayload renders a coordinator update through the projection table.
func NewPayload(stationID, name string, descs []sensors.Descriptor, upd coordinator.Update, lastSuccess time.Time) *Payload {
	p := &Payload{
		StationID:   stationID,
		Name:        name,
		Values:      sensors.Evaluate(descs, upd.Snapshot),
		Device:      upd.Device,
		Stale:       upd.Err != nil,
		LastSuccess: lastSuccess,
		PolledAt:    upd.At,
	}
	if upd.Snapshot != nil {
		p.Operator = upd.Snapshot.Operator
		p.Address = upd.Snapshot.Address
	}
	if upd.Err != nil {
		p.Error = upd.Err.Error()
	}
	return p
}
