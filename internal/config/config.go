package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
	_ "time/tzdata" // TIME_ZONE must resolve in minimal containers

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Data sources.
	FireDataPath    string
	WeatherDataPath string
	SocioDataPath   string
	Location        *time.Location
	LenientLoad     bool
	ViewCacheSize   int

	// Kafka view publishing.
	KafkaEnabled    bool
	KafkaBrokers    []string
	KafkaSinkTopic  string
	PublishInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	tz := sharedcfg.EnvOrDefault("TIME_ZONE", "Asia/Shanghai")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", tz, err)
	}

	lenient, err := parseBool("LENIENT_LOAD", false)
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", false)
	if err != nil {
		return nil, err
	}

	cacheSize, err := strconv.Atoi(sharedcfg.EnvOrDefault("VIEW_CACHE_SIZE", "64"))
	if err != nil || cacheSize < 0 {
		return nil, errors.New("invalid VIEW_CACHE_SIZE: must be a non-negative integer")
	}

	publishInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("PUBLISH_INTERVAL", "0s"))
	if err != nil || publishInterval < 0 {
		return nil, errors.New("invalid PUBLISH_INTERVAL: must be a non-negative duration")
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		FireDataPath:    sharedcfg.EnvOrDefault("FIRE_DATA_PATH", "data/fire_info.csv"),
		WeatherDataPath: sharedcfg.EnvOrDefault("WEATHER_DATA_PATH", "data/weather_info.csv"),
		SocioDataPath:   sharedcfg.EnvOrDefault("SOCIO_DATA_PATH", "data/other_info.json"),
		Location:        loc,
		LenientLoad:     lenient,
		ViewCacheSize:   cacheSize,

		KafkaEnabled:    kafkaEnabled,
		KafkaBrokers:    sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic:  sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "fire-derived-views"),
		PublishInterval: publishInterval,
	}

	if cfg.FireDataPath == "" {
		return nil, errors.New("FIRE_DATA_PATH is required")
	}
	if cfg.WeatherDataPath == "" {
		return nil, errors.New("WEATHER_DATA_PATH is required")
	}
	if cfg.SocioDataPath == "" {
		return nil, errors.New("SOCIO_DATA_PATH is required")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_ENABLED is true")
		}
	}

	return cfg, nil
}

func parseBool(key string, def bool) (bool, error) {
	v, err := strconv.ParseBool(sharedcfg.EnvOrDefault(key, strconv.FormatBool(def)))
	if err != nil {
		return false, fmt.Errorf("invalid %s: must be true or false", key)
	}
	return v, nil
}
