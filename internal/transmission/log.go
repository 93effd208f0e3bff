package transmission

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogTransmitter writes every payload to the logger. Used when no broker
// or store is configured.
type LogTransmitter struct {
	logger *logrus.Logger
}

func NewLogTransmitter(logger *logrus.Logger) *LogTransmitter {
	return &LogTransmitter{logger: logger}
}

func (t *LogTransmitter) Name() string { return "log" }

func (t *LogTransmitter) Transmit(ctx context.Context, p *Payload) error {
	fields := logrus.Fields{
		"station_id": p.StationID,
		"stale":      p.Stale,
	}
	for k, v := range p.Values {
		fields[k] = v
	}
	if p.Error != "" {
		fields["error"] = p.Error
	}
	t.logger.WithFields(fields).Info("Station update")
	return nil
}
