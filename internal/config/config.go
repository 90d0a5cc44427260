// Package config loads the agent's configuration from the environment,
// the way pkg/config/config.go loads the service layer's configuration:
// godotenv seeds the process environment from an optional .env file, then
// envdecode decodes tagged struct fields, and normalize() fills in
// defaults and validates the result (spec §6).
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// CircuitBreakerConfig carries one breaker's threshold overrides, per
// spec §6's `CIRCUIT_BREAKER_*` options. envdecode tags name distinct
// environment variables per breaker since it has no prefix mechanism for
// reusing one struct type across multiple fields.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	VolumeThreshold  int
	RetryDelayMs     int
}

// collectorBreakerEnv and streamerBreakerEnv hold the envdecode-tagged
// shadow structs used to decode each breaker's overrides independently.
type collectorBreakerEnv struct {
	FailureThreshold int `env:"CIRCUIT_BREAKER_COLLECTOR_FAILURE_THRESHOLD"`
	SuccessThreshold int `env:"CIRCUIT_BREAKER_COLLECTOR_SUCCESS_THRESHOLD"`
	VolumeThreshold  int `env:"CIRCUIT_BREAKER_COLLECTOR_VOLUME_THRESHOLD"`
	RetryDelayMs     int `env:"CIRCUIT_BREAKER_COLLECTOR_RETRY_DELAY_MS"`
}

type streamerBreakerEnv struct {
	FailureThreshold int `env:"CIRCUIT_BREAKER_STREAMER_FAILURE_THRESHOLD"`
	SuccessThreshold int `env:"CIRCUIT_BREAKER_STREAMER_SUCCESS_THRESHOLD"`
	VolumeThreshold  int `env:"CIRCUIT_BREAKER_STREAMER_VOLUME_THRESHOLD"`
	RetryDelayMs     int `env:"CIRCUIT_BREAKER_STREAMER_RETRY_DELAY_MS"`
}

// AlertThresholds carries the §4.6 SLO boundary overrides.
type AlertThresholds struct {
	ClusterHealthWarning    float64 `env:"ALERT_CLUSTER_HEALTH_WARNING_THRESHOLD"`
	ClusterHealthCritical   float64 `env:"ALERT_CLUSTER_HEALTH_CRITICAL_THRESHOLD"`
	BrokerCPUWarning        float64 `env:"ALERT_BROKER_CPU_WARNING_THRESHOLD"`
	BrokerCPUCritical       float64 `env:"ALERT_BROKER_CPU_CRITICAL_THRESHOLD"`
	TopicLagWarning         float64 `env:"ALERT_TOPIC_LAG_WARNING_THRESHOLD"`
	TopicLagCritical        float64 `env:"ALERT_TOPIC_LAG_CRITICAL_THRESHOLD"`
	ConsumerGroupLagWarning float64 `env:"ALERT_CONSUMER_GROUP_LAG_WARNING_THRESHOLD"`
	ConsumerGroupLagCritical float64 `env:"ALERT_CONSUMER_GROUP_LAG_CRITICAL_THRESHOLD"`
}

// Config is the agent's fully decoded, validated configuration.
type Config struct {
	AccountID string `env:"ACCOUNT_ID,required"`
	APIKey    string `env:"API_KEY,required"`
	Region    string `env:"REGION"`
	Provider  string `env:"PROVIDER"`

	MonitoringIntervalMs   int `env:"MONITORING_INTERVAL_MS"`
	LookbackMinutes        int `env:"LOOKBACK_MINUTES"`
	OperationTimeoutMs     int `env:"OPERATION_TIMEOUT_MS"`
	MaxConcurrentOperations int `env:"MAX_CONCURRENT_OPERATIONS"`
	HealthCheckIntervalMs  int `env:"HEALTH_CHECK_INTERVAL_MS"`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`

	HealthPort int `env:"HEALTH_PORT"`

	Collector CircuitBreakerConfig
	Streamer  CircuitBreakerConfig
	Alerts    AlertThresholds
}

// Load reads a .env file if present, decodes the environment, applies
// defaults, and validates the result per spec §6.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if err := decodeIgnoringUnset(cfg); err != nil {
		return nil, err
	}

	var collectorEnv collectorBreakerEnv
	if err := decodeIgnoringUnset(&collectorEnv); err != nil {
		return nil, err
	}
	mergeBreakerOverride(&cfg.Collector, collectorEnv.FailureThreshold, collectorEnv.SuccessThreshold, collectorEnv.VolumeThreshold, collectorEnv.RetryDelayMs)

	var streamerEnv streamerBreakerEnv
	if err := decodeIgnoringUnset(&streamerEnv); err != nil {
		return nil, err
	}
	mergeBreakerOverride(&cfg.Streamer, streamerEnv.FailureThreshold, streamerEnv.SuccessThreshold, streamerEnv.VolumeThreshold, streamerEnv.RetryDelayMs)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeIgnoringUnset runs envdecode.Decode, treating "no tagged fields
// set" as a no-op rather than an error so local runs work without
// exporting every override.
func decodeIgnoringUnset(target interface{}) error {
	if err := envdecode.Decode(target); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return fmt.Errorf("decode env: %w", err)
		}
	}
	return nil
}

func mergeBreakerOverride(cfg *CircuitBreakerConfig, failureThreshold, successThreshold, volumeThreshold, retryDelayMs int) {
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if successThreshold > 0 {
		cfg.SuccessThreshold = successThreshold
	}
	if volumeThreshold > 0 {
		cfg.VolumeThreshold = volumeThreshold
	}
	if retryDelayMs > 0 {
		cfg.RetryDelayMs = retryDelayMs
	}
}

func defaults() *Config {
	return &Config{
		Region:                  "US",
		Provider:                "kafka",
		MonitoringIntervalMs:    60000,
		LookbackMinutes:         5,
		OperationTimeoutMs:      30000,
		MaxConcurrentOperations: 10,
		HealthCheckIntervalMs:   30000,
		LogLevel:                "info",
		LogFormat:               "json",
		HealthPort:              8080,
		Collector: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			VolumeThreshold:  10,
			RetryDelayMs:     30000,
		},
		Streamer: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			VolumeThreshold:  10,
			RetryDelayMs:     30000,
		},
		Alerts: AlertThresholds{
			ClusterHealthWarning:     80,
			ClusterHealthCritical:    60,
			BrokerCPUWarning:         80,
			BrokerCPUCritical:        90,
			TopicLagWarning:          10000,
			TopicLagCritical:         100000,
			ConsumerGroupLagWarning:  50000,
			ConsumerGroupLagCritical: 500000,
		},
	}
}

// validate enforces the constraints spec §6 lists: ACCOUNT_ID numeric,
// API_KEY present with the expected prefix, REGION in {US, EU}, and all
// numerics non-negative.
func (c *Config) validate() error {
	if _, err := strconv.ParseUint(c.AccountID, 10, 64); err != nil {
		return fmt.Errorf("ACCOUNT_ID must be numeric: %w", err)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if !strings.HasPrefix(c.APIKey, "NRAK-") {
		return fmt.Errorf("API_KEY must start with NRAK-")
	}
	switch c.Region {
	case "US", "EU":
	default:
		return fmt.Errorf("REGION must be US or EU, got %q", c.Region)
	}
	if c.Provider == "" {
		return fmt.Errorf("PROVIDER must not be empty")
	}

	numerics := map[string]int{
		"MONITORING_INTERVAL_MS":     c.MonitoringIntervalMs,
		"LOOKBACK_MINUTES":           c.LookbackMinutes,
		"OPERATION_TIMEOUT_MS":       c.OperationTimeoutMs,
		"MAX_CONCURRENT_OPERATIONS":  c.MaxConcurrentOperations,
		"HEALTH_CHECK_INTERVAL_MS":   c.HealthCheckIntervalMs,
	}
	for name, v := range numerics {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, v)
		}
	}
	if c.MonitoringIntervalMs == 0 {
		return fmt.Errorf("MONITORING_INTERVAL_MS must be positive")
	}
	return nil
}

// QueryEndpoint returns the GraphQL-style upstream telemetry endpoint for
// the configured region, per spec §6.
func (c *Config) QueryEndpoint() string {
	if c.Region == "EU" {
		return "https://api.eu.newrelic.com/graphql"
	}
	return "https://api.newrelic.com/graphql"
}

// IngestEndpoint returns the events-ingest endpoint for the configured
// region and account, per spec §6.
func (c *Config) IngestEndpoint() string {
	if c.Region == "EU" {
		return fmt.Sprintf("https://insights-collector.eu01.nr-data.net/v1/accounts/%s/events", c.AccountID)
	}
	return fmt.Sprintf("https://insights-collector.newrelic.com/v1/accounts/%s/events", c.AccountID)
}
