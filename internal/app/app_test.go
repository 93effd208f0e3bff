package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkaberg/enbw-hass/internal/cache"
	"github.com/jkaberg/enbw-hass/internal/config"
	"github.com/jkaberg/enbw-hass/internal/coordinator"
	"github.com/jkaberg/enbw-hass/internal/enbw"
	"github.com/jkaberg/enbw-hass/internal/sensors"
	"github.com/jkaberg/enbw-hass/internal/transmission"
	"github.com/sirupsen/logrus"
)

const stationPayload = `{"availableChargePoints":3,"numberOfChargePoints":10,"lat":48.0,"lon":8.0,"manufacturer":"X","model":"Y","operator":"EnBW"}`

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig(baseURL string) *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.StationID = "123456"
	cfg.APIKey = "secret"
	cfg.BaseURL = baseURL + "/"
	cfg.HomeLatitude = 48.0
	cfg.HomeLongitude = 8.0
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func newClient(cfg *config.Config) *enbw.Client {
	creds := enbw.Credentials{StationID: cfg.StationID, APIKey: cfg.APIKey}
	return enbw.NewClient(cfg.BaseURL, creds, &http.Client{Timeout: time.Second}, quietLogger())
}

type recordingTransmitter struct {
	mu       sync.Mutex
	payloads []*transmission.Payload
	notify   chan struct{}
}

func newRecorder() *recordingTransmitter {
	return &recordingTransmitter{notify: make(chan struct{}, 16)}
}

func (r *recordingTransmitter) Name() string { return "recorder" }

func (r *recordingTransmitter) Transmit(ctx context.Context, p *transmission.Payload) error {
	r.mu.Lock()
	r.payloads = append(r.payloads, p)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingTransmitter) wait(t *testing.T, n int) []*transmission.Payload {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		r.mu.Lock()
		if len(r.payloads) >= n {
			out := append([]*transmission.Payload(nil), r.payloads...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d payloads", n)
		}
	}
}

func TestSetup_AuthError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	coord, err := Setup(context.Background(), cfg, newClient(cfg), quietLogger())
	if coord != nil {
		t.Error("no coordinator should be created when authentication fails")
	}
	var authErr *enbw.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Setup() error = %v, want AuthError", err)
	}
	if enbw.Classify(err) != enbw.CodeInvalidAuth {
		t.Errorf("Classify() = %q, want %q", enbw.Classify(err), enbw.CodeInvalidAuth)
	}
	if hits.Load() != 1 {
		t.Errorf("API hits = %d, want 1", hits.Load())
	}
}

func TestSetup_FirstRefreshFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Write([]byte(stationPayload))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	coord, err := Setup(context.Background(), cfg, newClient(cfg), quietLogger())
	if coord != nil {
		t.Error("coordinator returned despite failed first refresh")
	}
	if enbw.Classify(err) != enbw.CodeCannotConnect {
		t.Errorf("Setup() error = %v, want cannot_connect", err)
	}
}

func TestSetup_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(stationPayload))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	coord, err := Setup(context.Background(), cfg, newClient(cfg), quietLogger())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer Teardown(context.Background(), coord)

	if !coord.Ready() {
		t.Error("coordinator not ready after setup")
	}
	if d := coord.Device(); d.Manufacturer != "X" || d.Model != "Y" {
		t.Errorf("device = %+v, want X/Y", d)
	}
}

func TestRun_FanOutAndStale(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(stationPayload))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.PollInterval = 20 * time.Millisecond
	logger := quietLogger()

	coord, err := Setup(context.Background(), cfg, newClient(cfg), logger)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	rec := newRecorder()
	descs := sensors.Descriptors(sensors.Location{Latitude: cfg.HomeLatitude, Longitude: cfg.HomeLongitude}, cfg.DistanceUnit)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, cfg, coord, descs, []transmission.Transmitter{rec}, logger)
		close(done)
	}()

	first := rec.wait(t, 1)[0]
	if first.Stale {
		t.Error("initial payload should not be stale")
	}
	if first.Values[sensors.KeyAvailable] != 3 || first.Values[sensors.KeyState] != sensors.StateAvailable {
		t.Errorf("values = %v", first.Values)
	}
	if d := first.Values[sensors.KeyDistance].(float64); d != 0 {
		t.Errorf("distance = %v, want 0", d)
	}

	// Unchanged polls are not re-sent; a failure flips availability.
	fail.Store(true)
	payloads := rec.wait(t, 2)
	stale := payloads[1]
	if !stale.Stale {
		t.Fatal("second payload should be stale")
	}
	if stale.Values[sensors.KeyAvailable] != 3 {
		t.Errorf("stale payload values = %v, want previous snapshot", stale.Values)
	}
	if !coord.State().Failed() {
		t.Error("coordinator failure flag not set")
	}

	// Recovery is sent again because availability flips back.
	fail.Store(false)
	payloads = rec.wait(t, 3)
	if payloads[2].Stale {
		t.Error("payload after recovery should not be stale")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	Teardown(context.Background(), coord)
	Teardown(context.Background(), nil)
}

type failingTransmitter struct {
	calls atomic.Int32
}

func (f *failingTransmitter) Name() string { return "failing" }

func (f *failingTransmitter) Transmit(ctx context.Context, p *transmission.Payload) error {
	f.calls.Add(1)
	return errors.New("broker down")
}

func TestDispatch_RetriesAfterFailure(t *testing.T) {
	ft := &failingTransmitter{}
	states := []*txState{{tx: ft, changes: cache.NewManager()}}
	p := &transmission.Payload{StationID: "1", Values: sensors.Values{sensors.KeyAvailable: 1}}

	dispatch(context.Background(), states, p, 0, quietLogger())
	dispatch(context.Background(), states, p, 0, quietLogger())

	if n := ft.calls.Load(); n != 2 {
		t.Errorf("transmit calls = %d, want 2 (unchanged values retried after failure)", n)
	}
}

func TestDispatch_ForceInterval(t *testing.T) {
	rec := newRecorder()
	states := []*txState{{tx: rec, changes: cache.NewManager()}}
	p := &transmission.Payload{StationID: "1", Values: sensors.Values{sensors.KeyAvailable: 1}}

	dispatch(context.Background(), states, p, 0, quietLogger())
	dispatch(context.Background(), states, p, 0, quietLogger())
	if n := len(rec.payloads); n != 1 {
		t.Fatalf("payloads = %d, want 1 without force interval", n)
	}

	states[0].lastSent = time.Now().Add(-time.Hour)
	dispatch(context.Background(), states, p, time.Minute, quietLogger())
	if n := len(rec.payloads); n != 2 {
		t.Errorf("payloads = %d, want 2 once force interval elapsed", n)
	}
}

func TestDispatch_DeviceIdentityChange(t *testing.T) {
	rec := newRecorder()
	states := []*txState{{tx: rec, changes: cache.NewManager()}}
	descs := sensors.Descriptors(sensors.Location{Latitude: 48, Longitude: 8}, sensors.UnitMeters)
	snap := &enbw.Snapshot{Available: 3, Total: 10, Latitude: 48, Longitude: 8}

	first := transmission.NewPayload("1", "Station", descs, coordinator.Update{
		Snapshot: snap,
		Device:   coordinator.DeviceIdentity{Manufacturer: "X", Model: "Y"},
	}, time.Now())
	second := transmission.NewPayload("1", "Station", descs, coordinator.Update{
		Snapshot: snap,
		Device:   coordinator.DeviceIdentity{Manufacturer: "Z", Model: "W"},
	}, time.Now())

	dispatch(context.Background(), states, first, 0, quietLogger())
	dispatch(context.Background(), states, first, 0, quietLogger())
	dispatch(context.Background(), states, second, 0, quietLogger())

	if n := len(rec.payloads); n != 2 {
		t.Fatalf("payloads = %d, want 2 (initial and device change)", n)
	}
	if d := rec.payloads[1].Device; d.Manufacturer != "Z" || d.Model != "W" {
		t.Errorf("device = %+v, want Z/W", d)
	}
}
