package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jkaberg/enbw-hass/internal/app"
	"github.com/jkaberg/enbw-hass/internal/config"
	"github.com/jkaberg/enbw-hass/internal/enbw"
	"github.com/jkaberg/enbw-hass/internal/mqtt"
	"github.com/jkaberg/enbw-hass/internal/netutil"
	"github.com/jkaberg/enbw-hass/internal/sensors"
	"github.com/jkaberg/enbw-hass/internal/transmission"
	"github.com/sirupsen/logrus"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	cfg := parseFlags()
	logger := setupLogger(cfg.Verbose)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Fatal exits without running deferred calls, so all cleanup lives in run.
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).WithField("reason", enbw.Classify(err)).Error("ENBW-HASS failed")
		os.Exit(1)
	}
	logger.Info("ENBW-HASS stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	logFields := logrus.Fields{
		"version":    version,
		"station_id": cfg.StationID,
		"poll":       cfg.PollInterval,
		"timeout":    cfg.FetchTimeout,
	}
	if cfg.ForceUpdateInterval > 0 {
		logFields["force_update_int"] = cfg.ForceUpdateInterval
	}
	logger.WithFields(logFields).Info("Starting ENBW-HASS")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
			logger.Info("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Core clients ---------------------------------------------------------------
	creds := enbw.Credentials{StationID: cfg.StationID, APIKey: cfg.APIKey}
	httpClient := netutil.NewHTTPClient(cfg.FetchTimeout, logger)
	client := enbw.NewClient(cfg.BaseURL, creds, httpClient, logger)

	coord, err := app.Setup(ctx, cfg, client, logger)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer app.Teardown(context.Background(), coord)

	home := sensors.Location{Latitude: cfg.HomeLatitude, Longitude: cfg.HomeLongitude}
	descriptors := sensors.Descriptors(home, cfg.DistanceUnit)

	// Transmitters ---------------------------------------------------------------
	var transmitters []transmission.Transmitter
	if cfg.HasMQTT() {
		mqttClient, err := mqtt.NewClient(cfg.MQTTUrl, cfg.StationID, logger)
		if err != nil {
			return fmt.Errorf("create MQTT client: %w", err)
		}
		defer mqttClient.Disconnect(250)
		transmitters = append(transmitters,
			transmission.NewMQTTTransmitter(mqttClient, cfg.StationID, cfg.DiscoveryPrefix, descriptors, logger))
		logger.Info("MQTT transmitter ready")
	}

	if cfg.HasRedis() {
		redisClient, err := transmission.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("connect to Redis: %w", err)
		}
		defer redisClient.Close()
		transmitters = append(transmitters, transmission.NewRedisTransmitter(redisClient, cfg.RedisTTL, logger))
		logger.WithField("key", transmission.RedisKey(cfg.StationID)).Info("Redis transmitter ready")
	}

	if len(transmitters) == 0 {
		logger.Warn("No transmitters configured; data will only be logged")
		transmitters = append(transmitters, transmission.NewLogTransmitter(logger))
	}

	// Run application ------------------------------------------------------------
	app.Run(ctx, cfg, coord, descriptors, transmitters, logger)
	return nil
}

// -----------------------------------------------------------------------------
// Helpers & Flags
// -----------------------------------------------------------------------------

func parseFlags() *config.Config {
	cfg := config.GetDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", getEnv("ENBW_HASS_CONFIG", ""), "Path to YAML config file")

	// The config file is applied before env and flags so both can override it.
	flag.CommandLine.Parse(filterConfigArg(os.Args[1:]))
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "enbw-hass: %v\n", err)
			os.Exit(1)
		}
	}

	flag.StringVar(&cfg.StationID, "station-id", getEnv("ENBW_HASS_STATION_ID", cfg.StationID), "EnBW charge station id")
	flag.StringVar(&cfg.APIKey, "api-key", getEnv("ENBW_HASS_API_KEY", cfg.APIKey), "EnBW API subscription key")
	flag.StringVar(&cfg.Name, "name", getEnv("ENBW_HASS_NAME", cfg.Name), "Device name shown in Home Assistant")
	flag.StringVar(&cfg.BaseURL, "base-url", getEnv("ENBW_HASS_BASE_URL", cfg.BaseURL), "EnBW API base URL")
	flag.StringVar(&cfg.MQTTUrl, "mqtt-url", getEnv("ENBW_HASS_MQTT_URL", cfg.MQTTUrl), "MQTT URL")
	flag.StringVar(&cfg.DiscoveryPrefix, "discovery-prefix", getEnv("ENBW_HASS_DISCOVERY_PREFIX", cfg.DiscoveryPrefix), "HA discovery prefix")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("ENBW_HASS_REDIS_ADDR", cfg.RedisAddr), "Redis host:port for the state mirror")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("ENBW_HASS_REDIS_PASSWORD", cfg.RedisPassword), "Redis password")
	flag.StringVar(&cfg.DistanceUnit, "distance-unit", getEnv("ENBW_HASS_DISTANCE_UNIT", cfg.DistanceUnit), "Distance unit (m or km)")
	flag.BoolVar(&cfg.Verbose, "verbose", getEnv("ENBW_HASS_VERBOSE", strconv.FormatBool(cfg.Verbose)) == "true", "Verbose logging")

	homeLat := flag.String("home-latitude", getEnv("ENBW_HASS_HOME_LATITUDE", ""), "Home latitude for distance_to_home")
	homeLon := flag.String("home-longitude", getEnv("ENBW_HASS_HOME_LONGITUDE", ""), "Home longitude for distance_to_home")
	pollIntervalStr := flag.String("poll-interval", getEnv("ENBW_HASS_POLL_INTERVAL", ""), "Poll interval (e.g. 60s)")
	fetchTimeoutStr := flag.String("fetch-timeout", getEnv("ENBW_HASS_FETCH_TIMEOUT", ""), "API timeout (e.g. 30s)")
	redisTTLStr := flag.String("redis-ttl", getEnv("ENBW_HASS_REDIS_TTL", ""), "Redis key TTL (e.g. 10m)")
	forceUpdateIntervalStr := flag.String("force-update-interval", getEnv("ENBW_HASS_FORCE_UPDATE_INTERVAL", ""), "Force update all sensors at this interval even if unchanged (e.g. 10m, 0 = disabled)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("enbw-hass %s\n", version)
		os.Exit(0)
	}

	if v, err := strconv.ParseFloat(*homeLat, 64); err == nil {
		cfg.HomeLatitude = v
	}
	if v, err := strconv.ParseFloat(*homeLon, 64); err == nil {
		cfg.HomeLongitude = v
	}

	// Duration overrides
	setDuration(&cfg.PollInterval, *pollIntervalStr, false)
	setDuration(&cfg.FetchTimeout, *fetchTimeoutStr, false)
	setDuration(&cfg.RedisTTL, *redisTTLStr, false)
	setDuration(&cfg.ForceUpdateInterval, *forceUpdateIntervalStr, true)

	return cfg
}

// setDuration parses "60s" style durations or plain seconds.
func setDuration(dst *time.Duration, raw string, allowZero bool) {
	if raw == "" {
		return
	}
	ok := func(d time.Duration) bool { return d > 0 || (allowZero && d == 0) }
	if d, err := time.ParseDuration(raw); err == nil && ok(d) {
		*dst = d
	} else if v, err2 := strconv.Atoi(raw); err2 == nil && ok(time.Duration(v)) {
		*dst = time.Duration(v) * time.Second
	}
}

// filterConfigArg keeps only -config so the first parse pass does
// not fail on flags that are registered later.
func filterConfigArg(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-config" || a == "--config":
			out = append(out, a)
			if i+1 < len(args) {
				out = append(out, args[i+1])
				i++
			}
		case len(a) > 8 && (a[:8] == "-config=" || (len(a) > 9 && a[:9] == "--config=")):
			out = append(out, a)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
