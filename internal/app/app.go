package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jkaberg/enbw-hass/internal/cache"
	"github.com/jkaberg/enbw-hass/internal/config"
	"github.com/jkaberg/enbw-hass/internal/coordinator"
	"github.com/jkaberg/enbw-hass/internal/enbw"
	"github.com/jkaberg/enbw-hass/internal/sensors"
	"github.com/jkaberg/enbw-hass/internal/transmission"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Setup authenticates, builds the coordinator and performs the first
// refresh. Any failure aborts setup and no coordinator is returned.
func Setup(ctx context.Context, cfg *config.Config, fetcher coordinator.Fetcher, logger *logrus.Logger) (*coordinator.Coordinator, error) {
	creds := enbw.Credentials{StationID: cfg.StationID, APIKey: cfg.APIKey}

	_, manufacturer, model, err := enbw.Authenticate(ctx, fetcher, creds)
	if err != nil {
		return nil, fmt.Errorf("authenticate station %s: %w", cfg.StationID, err)
	}
	logger.WithFields(logrus.Fields{
		"station_id":   cfg.StationID,
		"manufacturer": manufacturer,
		"model":        model,
	}).Info("Authenticated with ENBW API")

	coord := coordinator.New(fetcher, coordinator.Options{
		Interval: cfg.PollInterval,
		Timeout:  cfg.FetchTimeout,
		Device:   coordinator.DeviceIdentity{Manufacturer: manufacturer, Model: model},
	}, logger)

	if err := coord.FirstRefresh(ctx); err != nil {
		coord.Shutdown(ctx)
		return nil, err
	}
	return coord, nil
}

// Teardown shuts the coordinator down. It never fails.
func Teardown(ctx context.Context, coord *coordinator.Coordinator) {
	if coord == nil {
		return
	}
	coord.Shutdown(ctx)
}

// txState tracks what one transmitter last received.
type txState struct {
	tx        transmission.Transmitter
	changes   *cache.Manager
	lastSent   time.Time
	lastStale  bool
	lastDevice coordinator.DeviceIdentity
	sentOnce   bool
}

// due reports whether p must be sent: values changed, availability flipped,
// the device identity changed or the force-update interval elapsed.
func (s *txState) due(p *transmission.Payload, force time.Duration, now time.Time) bool {
	changed := s.changes.Changed(p.Values)
	switch {
	case !s.sentOnce, changed, p.Stale != s.lastStale, p.Device != s.lastDevice:
		return true
	case force > 0 && now.Sub(s.lastSent) >= force:
		return true
	}
	return false
}

// Run drives the coordinator's polling loop and fans every update out to
// the transmitters. It blocks until ctx is cancelled.
func Run(
	parentCtx context.Context,
	cfg *config.Config,
	coord *coordinator.Coordinator,
	descriptors []sensors.Descriptor,
	transmitters []transmission.Transmitter,
	logger *logrus.Logger,
) {
	grp, ctx := errgroup.WithContext(parentCtx)

	// Subscribe before the loop starts so no update is missed.
	sub := coord.Subscribe()

	// Collector -----------------------------------------------------------
	grp.Go(func() error {
		return coord.Run(ctx)
	})

	// Fan-out -------------------------------------------------------------
	states := make([]*txState, 0, len(transmitters))
	for _, tx := range transmitters {
		states = append(states, &txState{tx: tx, changes: cache.NewManager()})
	}

	grp.Go(func() error {
		render := func(upd coordinator.Update) {
			st := coord.State()
			p := transmission.NewPayload(cfg.StationID, cfg.Name, descriptors, upd, st.LastSuccess)
			dispatch(ctx, states, p, cfg.ForceUpdateInterval, logger)
		}

		// The first refresh happened during setup; render it right away.
		if st := coord.State(); st.Snapshot != nil {
			render(coordinator.Update{Snapshot: st.Snapshot, Device: coord.Device(), Err: st.Err, At: st.LastUpdate})
		}

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case upd, ok := <-sub:
				if !ok {
					return nil
				}
				render(upd)
			}
		}
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Warn("app: background group exited")
	}
}

func dispatch(ctx context.Context, states []*txState, p *transmission.Payload, force time.Duration, logger *logrus.Logger) {
	if p.Values == nil {
		return
	}
	now := time.Now()
	for _, st := range states {
		if !st.due(p, force, now) {
			continue
		}
		if err := st.tx.Transmit(ctx, p); err != nil {
			logger.WithError(err).Warn(st.tx.Name() + " transmit failed")
			// Forget the last values so the next update is sent even
			// when nothing changed.
			st.changes.Reset()
			st.sentOnce = false
			st.lastSent = now
			continue
		}
		st.sentOnce = true
		st.lastSent = now
		st.lastStale = p.Stale
		st.lastDevice = p.Device
	}
}
