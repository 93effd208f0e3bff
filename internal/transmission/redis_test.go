package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	key   string
	value []byte
	ttl   time.Duration
	err   error
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.key = key
	f.value, _ = value.([]byte)
	f.ttl = expiration
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	return redis.NewStatusResult("OK", nil)
}

func TestRedisTransmit(t *testing.T) {
	fake := &fakeRedis{}
	tx := NewRedisTransmitter(fake, 5*time.Minute, quietLogger())

	if err := tx.Transmit(context.Background(), testPayload(false)); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	if fake.key != "enbw:station:123" {
		t.Errorf("key = %q", fake.key)
	}
	if fake.ttl != 5*time.Minute {
		t.Errorf("ttl = %v, want 5m", fake.ttl)
	}

	var rec StationRecord
	if err := json.Unmarshal(fake.value, &rec); err != nil {
		t.Fatalf("stored value is not JSON: %v", err)
	}
	if rec.Manufacturer != "X" || rec.Model != "Y" {
		t.Errorf("device = %q/%q", rec.Manufacturer, rec.Model)
	}
	if rec.Values["available_charging_points"] != float64(3) {
		t.Errorf("values = %v", rec.Values)
	}
	if rec.Stale {
		t.Error("record should not be stale")
	}
	if rec.LastUpdated == nil || !rec.LastUpdated.Equal(time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC)) {
		t.Errorf("last_updated = %v", rec.LastUpdated)
	}
}

func TestRedisTransmit_Error(t *testing.T) {
	fake := &fakeRedis{err: errors.New("READONLY")}
	tx := NewRedisTransmitter(fake, 0, quietLogger())

	if err := tx.Transmit(context.Background(), testPayload(true)); err == nil {
		t.Error("Transmit() error = nil, want error")
	}
	if tx.ttl <= 0 {
		t.Error("zero TTL should fall back to the default")
	}
}

func TestNewRedisClient_EmptyAddr(t *testing.T) {
	if _, err := NewRedisClient("  ", ""); err == nil {
		t.Error("NewRedisClient() error = nil, want error for empty addr")
	}
}
