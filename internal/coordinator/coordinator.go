package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jkaberg/enbw-hass/internal/bus"
	"github.com/jkaberg/enbw-hass/internal/config"
	"github.com/jkaberg/enbw-hass/internal/enbw"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "station"

// Fetcher is what the coordinator polls. *enbw.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context) (*enbw.Snapshot, error)
	Logout(ctx context.Context) error
}

// DeviceIdentity is the manufacturer/model the station reports. It may
// change between polls.
type DeviceIdentity struct {
	Manufacturer string
	Model        string
}

// UpdateFailedError is recorded when a poll fails. Cause is the
// *enbw.AuthError or *enbw.RemoteError returned by the fetcher.
type UpdateFailedError struct {
	Cause error
}

func (e *UpdateFailedError) Error() string {
	var authErr *enbw.AuthError
	if errors.As(e.Cause, &authErr) {
		return fmt.Sprintf("unable to fetch data from ENBW API: %v", e.Cause)
	}
	return fmt.Sprintf("update failed: %v", e.Cause)
}

func (e *UpdateFailedError) Unwrap() error { return e.Cause }

// State is a copy of the coordinator's bookkeeping. Snapshot is shared and
// must not be modified.
type State struct {
	Snapshot    *enbw.Snapshot // last good snapshot, kept across failures
	Err         error          // *UpdateFailedError of the last poll, nil on success
	LastUpdate  time.Time      // completion time of the last poll
	LastSuccess time.Time
}

// Failed reports whether the most recent poll failed.
func (s State) Failed() bool { return s.Err != nil }

// Update is published to subscribers after every completed poll.
type Update struct {
	Snapshot *enbw.Snapshot
	Device   DeviceIdentity
	Err      error
	At       time.Time
}

// Options tune the polling loop. Zero values fall back to the defaults.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Device   DeviceIdentity // identity captured during authentication
}

// Coordinator owns the polling loop for one station. Concurrent Refresh
// calls share a single in-flight fetch.
type Coordinator struct {
	fetcher  Fetcher
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Logger
	updates  *bus.Bus[Update]
	inflight singleflight.Group

	mu     sync.RWMutex
	state  State
	device DeviceIdentity
	ready  bool
	closed bool
}

// New creates a coordinator. It does not fetch anything until FirstRefresh
// or Run is called.
func New(fetcher Fetcher, opts Options, logger *logrus.Logger) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultFetchTimeout
	}
	logger.WithFields(logrus.Fields{
		"interval": opts.Interval,
		"timeout":  opts.Timeout,
	}).Info("Initializing ENBW coordinator")

	return &Coordinator{
		fetcher:  fetcher,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logger:   logger,
		updates:  bus.New[Update](),
		device:   opts.Device,
	}
}

// Subscribe returns a channel receiving every future Update. The channel is
// closed by Shutdown.
func (c *Coordinator) Subscribe() <-chan Update { return c.updates.Subscribe() }

// State returns a copy of the current coordinator state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Device returns the current device identity.
func (c *Coordinator) Device() DeviceIdentity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

// Ready reports whether the first refresh succeeded and the coordinator has
// not been shut down.
func (c *Coordinator) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Refresh fetches a fresh snapshot, or joins the fetch already in flight.
// The fetch itself runs detached from ctx and is bounded by the fetch
// timeout; ctx only limits how long this caller waits for it.
func (c *Coordinator) Refresh(ctx context.Context) (*enbw.Snapshot, error) {
	ch := c.inflight.DoChan(refreshKey, func() (interface{}, error) {
		return c.update()
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*enbw.Snapshot), nil
	}
}

// FirstRefresh performs the setup-time fetch. Unlike timer-driven polls a
// failure here is returned to the caller and the coordinator stays not ready.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if _, err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("first refresh: %w", err)
	}
	c.mu.Lock()
	c.ready = !c.closed
	c.mu.Unlock()
	return nil
}

// Run polls on a fixed interval until ctx is cancelled. Failed polls are
// recorded and retried on the next tick.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.logger.WithError(err).Debug("coordinator: scheduled poll failed, retrying next tick")
			}
		}
	}
}

// Shutdown stops publishing updates and performs a best-effort logout.
// Errors and panics from the logout are swallowed. A fetch still in flight
// runs to completion but its result is discarded.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.ready = false
	c.mu.Unlock()

	defer c.updates.Close()

	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Debug("coordinator: logout panicked, ignoring")
		}
	}()
	if err := c.fetcher.Logout(ctx); err != nil {
		c.logger.WithError(err).Debug("coordinator: logout failed, ignoring")
	}
}

// update runs exactly once per in-flight slot.
func (c *Coordinator) update() (*enbw.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	snap, err := c.fetcher.Fetch(ctx)
	if err == nil && snap == nil {
		err = &enbw.RemoteError{Err: errors.New("empty response")}
	}
	if err != nil {
		var authErr *enbw.AuthError
		var remoteErr *enbw.RemoteError
		if !errors.As(err, &authErr) && !errors.As(err, &remoteErr) {
			// Timeouts and anything unclassified count as remote failures.
			err = &enbw.RemoteError{Err: err}
		}
		return nil, c.recordFailure(err)
	}
	c.recordSuccess(snap)
	return snap, nil
}

func (c *Coordinator) recordSuccess(snap *enbw.Snapshot) {
	now := time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("coordinator: shut down during fetch, discarding result")
		return
	}
	c.state = State{Snapshot: snap, LastUpdate: now, LastSuccess: now}
	if m := snap.DeviceManufacturer(); m != "" {
		c.device.Manufacturer = m
	}
	c.device.Model = snap.DeviceModel()
	upd := Update{Snapshot: snap, Device: c.device, At: now}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"available": snap.Available,
		"total":     snap.Total,
	}).Debug("coordinator: update succeeded")
	c.updates.Publish(upd)
}

func (c *Coordinator) recordFailure(cause error) error {
	uerr := &UpdateFailedError{Cause: cause}
	now := time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return uerr
	}
	c.state.Err = uerr
	c.state.LastUpdate = now
	upd := Update{Snapshot: c.state.Snapshot, Device: c.device, Err: uerr, At: now}
	c.mu.Unlock()

	entry := c.logger.WithError(cause)
	var authErr *enbw.AuthError
	if errors.As(cause, &authErr) {
		entry.Error("coordinator: credentials rejected, keeping stale data")
	} else {
		entry.Warn("coordinator: update failed, keeping stale data")
	}
	c.updates.Publish(upd)
	return uerr
}
