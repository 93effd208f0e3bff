package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jkaberg/enbw-hass/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// NewRedisClient returns a configured go-redis client and validates the connection with PING.
func NewRedisClient(addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// RedisSetter is the subset of redis.Cmdable the mirror needs.
type RedisSetter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// StationRecord is the JSON document mirrored into Redis.
type StationRecord struct {
	StationID    string         `json:"station_id"`
	Name         string         `json:"name"`
	Manufacturer string         `json:"manufacturer,omitempty"`
	Model        string         `json:"model,omitempty"`
	Attribution  string         `json:"attribution"`
	Values       map[string]any `json:"values"`
	Stale        bool           `json:"stale"`
	Error        string         `json:"error,omitempty"`
	LastUpdated  *time.Time     `json:"last_updated,omitempty"`
	LastPolled   time.Time      `json:"last_polled"`
}

// RedisTransmitter mirrors the latest projected values into Redis so other
// consumers can read them without talking to the API.
type RedisTransmitter struct {
	client RedisSetter
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisTransmitter returns a redis-backed mirror with the given key TTL.
func NewRedisTransmitter(client RedisSetter, ttl time.Duration, logger *logrus.Logger) *RedisTransmitter {
	if ttl <= 0 {
		ttl = config.DefaultRedisTTL
	}
	return &RedisTransmitter{client: client, ttl: ttl, logger: logger}
}

// RedisKey returns the key a station is stored under.
func RedisKey(stationID string) string {
	return fmt.Sprintf("enbw:station:%s", stationID)
}

// Name identifies the transmitter in logs.
func (t *RedisTransmitter) Name() string { return "Redis" }

// Transmit stores the payload as JSON with the configured TTL.
func (t *RedisTransmitter) Transmit(ctx context.Context, p *Payload) error {
	data, err := json.Marshal(buildRecord(p))
	if err != nil {
		return fmt.Errorf("marshal station record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, config.RedisTimeout)
	defer cancel()

	key := RedisKey(p.StationID)
	if err := t.client.Set(ctx, key, data, t.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	t.logger.WithFields(logrus.Fields{
		"key":   key,
		"stale": p.Stale,
	}).Debug("Mirrored station record to Redis")
	return nil
}

func buildRecord(p *Payload) StationRecord {
	rec := StationRecord{
		StationID:    p.StationID,
		Name:         p.Name,
		Manufacturer: p.Device.Manufacturer,
		Model:        p.Device.Model,
		Attribution:  p.Attribution(),
		Values:       p.Values,
		Stale:        p.Stale,
		Error:        p.Error,
		LastPolled:   p.PolledAt.UTC(),
	}
	if !p.LastSuccess.IsZero() {
		ts := p.LastSuccess.UTC()
		rec.LastUpdated = &ts
	}
	return rec
}
