package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// dateZone is the zone travel and checkup dates are interpreted in.
var dateZone = time.FixedZone("CST", 8*60*60)

const dateLayout = "2006-01-02"

// ConfigurationError reports a missing or invalid option. It is fatal at startup.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Option, e.Reason)
}

// Config holds service configuration loaded from .env, YAML and env.
type Config struct {
	ServerPort     string
	RequestTimeout time.Duration

	CWAAPIKey  string
	CWABaseURL string

	LINEChannelSecret string
	LINEAccessToken   string
	LINEAPIURL        string

	CheckInterval time.Duration
	Regions       []string
	TravelRegion  string
	CheckupRegion string
	TravelDate    time.Time
	CheckupDate   time.Time
	FetchTimeout  time.Duration

	AirportMonitoring bool
	FlightFeedURL     string
	Flights           []string
	RichMessages      bool
	FallbackOnFailure bool
	SendTimeout       time.Duration
	StatusKeyword     string
	DashboardURL      string

	RecipientsBackend     string // "in_memory" or "memcached"
	Recipients            []string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	EventsBackend string // "none", "kafka" or "mqtt"
	KafkaBrokers  []string
	KafkaTopic    string
	MQTTBroker    string
	MQTTTopic     string
	MQTTClientID  string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout  time.Duration
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// Recovery probe backoff after every feed failed in a cycle.
	DegradedRetryInitial time.Duration
	DegradedRetryMax     time.Duration
}

type fileConfig struct {
	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"server"`

	CWA struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"cwa"`

	LINE struct {
		APIURL string `yaml:"api_url"`
	} `yaml:"line"`

	Monitor struct {
		Interval      string   `yaml:"interval"`
		Regions       []string `yaml:"regions"`
		TravelRegion  string   `yaml:"travel_region"`
		CheckupRegion string   `yaml:"checkup_region"`
		TravelDate    string   `yaml:"travel_date"`
		CheckupDate   string   `yaml:"checkup_date"`
		FetchTimeout  string   `yaml:"fetch_timeout"`
	} `yaml:"monitor"`

	Features struct {
		AirportMonitoring *bool `yaml:"airport_monitoring"`
		RichMessages      *bool `yaml:"rich_messages"`
		FallbackOnFailure *bool `yaml:"fallback_on_failure"`
	} `yaml:"features"`

	Airport struct {
		FeedURL string   `yaml:"feed_url"`
		Flights []string `yaml:"flights"`
	} `yaml:"airport"`

	Notifications struct {
		SendTimeout   string `yaml:"send_timeout"`
		StatusKeyword string `yaml:"status_keyword"`
		DashboardURL  string `yaml:"dashboard_url"`
	} `yaml:"notifications"`

	Recipients struct {
		Backend   string   `yaml:"backend"`
		Seed      []string `yaml:"seed"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"recipients"`

	Events struct {
		Backend string `yaml:"backend"`
		Kafka   struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
		MQTT struct {
			Broker   string `yaml:"broker"`
			Topic    string `yaml:"topic"`
			ClientID string `yaml:"client_id"`
		} `yaml:"mqtt"`
	} `yaml:"events"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
		RetryInitial     string `yaml:"degraded_retry_initial"`
		RetryMax         string `yaml:"degraded_retry_max"`
	} `yaml:"health"`
}

type secretsFile struct {
	CWAAPIKey         string `yaml:"cwa_api_key"`
	LINEChannelSecret string `yaml:"line_channel_secret"`
	LINEAccessToken   string `yaml:"line_channel_access_token"`
}

// Load reads .env (when present), config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml, then applies environment overrides. Env wins over
// secrets, secrets win over nothing. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 10*time.Second)

	cfg.CWAAPIKey = firstNonEmpty(os.Getenv("CWA_API_KEY"), sec.CWAAPIKey)
	cfg.CWABaseURL = firstNonEmpty(fc.CWA.BaseURL, "https://opendata.cwa.gov.tw/api")
	cfg.LINEChannelSecret = firstNonEmpty(os.Getenv("LINE_CHANNEL_SECRET"), sec.LINEChannelSecret)
	cfg.LINEAccessToken = firstNonEmpty(os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"), sec.LINEAccessToken)
	cfg.LINEAPIURL = firstNonEmpty(fc.LINE.APIURL, "https://api.line.me")

	cfg.CheckInterval = parseDuration(fc.Monitor.Interval, 300*time.Second)
	if v := strings.TrimSpace(os.Getenv("CHECK_INTERVAL")); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, &ConfigurationError{Option: "CHECK_INTERVAL", Reason: fmt.Sprintf("must be a positive number of seconds, got %q", v)}
		}
		cfg.CheckInterval = time.Duration(secs) * time.Second
	}

	cfg.Regions = fc.Monitor.Regions
	if v := os.Getenv("MONITOR_LOCATIONS"); strings.TrimSpace(v) != "" {
		cfg.Regions = splitList(v)
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = []string{"金門縣", "臺南市"}
	}
	cfg.TravelRegion = firstNonEmpty(fc.Monitor.TravelRegion, "金門縣")
	cfg.CheckupRegion = firstNonEmpty(fc.Monitor.CheckupRegion, "臺南市")

	cfg.TravelDate, err = parseDate("TRAVEL_DATE", firstNonEmpty(os.Getenv("TRAVEL_DATE"), fc.Monitor.TravelDate, "2025-07-06"))
	if err != nil {
		return nil, err
	}
	cfg.CheckupDate, err = parseDate("CHECKUP_DATE", firstNonEmpty(os.Getenv("CHECKUP_DATE"), fc.Monitor.CheckupDate, "2025-07-07"))
	if err != nil {
		return nil, err
	}
	cfg.FetchTimeout = parseDuration(fc.Monitor.FetchTimeout, 30*time.Second)

	cfg.AirportMonitoring = boolOr(fc.Features.AirportMonitoring, false)
	cfg.RichMessages = boolOr(fc.Features.RichMessages, true)
	cfg.FallbackOnFailure = boolOr(fc.Features.FallbackOnFailure, true)
	cfg.FlightFeedURL = strings.TrimSpace(fc.Airport.FeedURL)
	cfg.Flights = fc.Airport.Flights

	cfg.SendTimeout = parseDuration(fc.Notifications.SendTimeout, 10*time.Second)
	cfg.StatusKeyword = firstNonEmpty(fc.Notifications.StatusKeyword, "颱風現況")
	cfg.DashboardURL = strings.TrimSpace(fc.Notifications.DashboardURL)

	cfg.RecipientsBackend = strings.ToLower(firstNonEmpty(os.Getenv("RECIPIENTS_BACKEND"), fc.Recipients.Backend, "in_memory"))
	cfg.Recipients = fc.Recipients.Seed
	if v := os.Getenv("LINE_RECIPIENTS"); strings.TrimSpace(v) != "" {
		cfg.Recipients = splitList(v)
	}
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Recipients.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Recipients.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Recipients.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.EventsBackend = strings.ToLower(firstNonEmpty(os.Getenv("EVENTS_BACKEND"), fc.Events.Backend, "none"))
	cfg.KafkaBrokers = fc.Events.Kafka.Brokers
	if v := os.Getenv("KAFKA_BROKERS"); strings.TrimSpace(v) != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	cfg.KafkaTopic = firstNonEmpty(fc.Events.Kafka.Topic, "typhoon.status")
	cfg.MQTTBroker = firstNonEmpty(os.Getenv("MQTT_BROKER"), fc.Events.MQTT.Broker)
	cfg.MQTTTopic = firstNonEmpty(fc.Events.MQTT.Topic, "typhoon/status")
	cfg.MQTTClientID = firstNonEmpty(fc.Events.MQTT.ClientID, "typhoon-alert-service")

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 500*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 5*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = boolOr(cb.Enabled, true)
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 60*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 30*time.Minute)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	cfg.DegradedRetryInitial = parseDuration(fc.Health.RetryInitial, time.Minute)
	cfg.DegradedRetryMax = parseDuration(fc.Health.RetryMax, 20*time.Minute)
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseDate(option, s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), dateZone)
	if err != nil {
		return time.Time{}, &ConfigurationError{Option: option, Reason: fmt.Sprintf("want YYYY-MM-DD, got %q", s)}
	}
	return t, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsRegion(regions []string, r string) bool {
	for _, v := range regions {
		if v == r {
			return true
		}
	}
	return false
}

// validate enforces required secrets and enum values. The activity regions
// are added to the monitored set when missing.
func validate(cfg *Config) error {
	if cfg.CWAAPIKey == "" {
		return &ConfigurationError{Option: "CWA_API_KEY", Reason: "required (set env or config/secrets.yaml cwa_api_key)"}
	}
	if cfg.LINEChannelSecret == "" {
		return &ConfigurationError{Option: "LINE_CHANNEL_SECRET", Reason: "required (set env or config/secrets.yaml line_channel_secret)"}
	}
	if cfg.LINEAccessToken == "" {
		return &ConfigurationError{Option: "LINE_CHANNEL_ACCESS_TOKEN", Reason: "required (set env or config/secrets.yaml line_channel_access_token)"}
	}

	for _, r := range []string{cfg.TravelRegion, cfg.CheckupRegion} {
		if !containsRegion(cfg.Regions, r) {
			cfg.Regions = append(cfg.Regions, r)
		}
	}

	if cfg.RequestTimeout <= cfg.SendTimeout {
		cfg.RequestTimeout = cfg.SendTimeout + time.Second
	}

	switch cfg.RecipientsBackend {
	case "in_memory", "memcached":
	default:
		return &ConfigurationError{Option: "recipients.backend", Reason: fmt.Sprintf("must be in_memory or memcached, got %q", cfg.RecipientsBackend)}
	}

	switch cfg.EventsBackend {
	case "none":
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return &ConfigurationError{Option: "events.kafka.brokers", Reason: "required when events.backend is kafka"}
		}
	case "mqtt":
		if cfg.MQTTBroker == "" {
			return &ConfigurationError{Option: "events.mqtt.broker", Reason: "required when events.backend is mqtt"}
		}
	default:
		return &ConfigurationError{Option: "events.backend", Reason: fmt.Sprintf("must be none, kafka or mqtt, got %q", cfg.EventsBackend)}
	}

	if cfg.AirportMonitoring && cfg.FlightFeedURL == "" {
		return &ConfigurationError{Option: "airport.feed_url", Reason: "required when features.airport_monitoring is true"}
	}
	return nil
}
