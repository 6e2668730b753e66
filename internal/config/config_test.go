package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
  request_timeout: "15s"
monitor:
  interval: "300s"
  regions: ["金門縣", "臺南市"]
notifications:
  send_timeout: "10s"
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

const minimalSecretsYAML = `
cwa_api_key: CWA-0000-0000-0000
line_channel_secret: secret-from-file
line_channel_access_token: token-from-file
`

// clearEnv unsets every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ENV_NAME", "PORT", "CWA_API_KEY", "LINE_CHANNEL_SECRET", "LINE_CHANNEL_ACCESS_TOKEN",
		"CHECK_INTERVAL", "MONITOR_LOCATIONS", "TRAVEL_DATE", "CHECKUP_DATE",
		"RECIPIENTS_BACKEND", "LINE_RECIPIENTS", "MEMCACHED_ADDRS",
		"EVENTS_BACKEND", "KAFKA_BROKERS", "MQTT_BROKER",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func setupDir(t *testing.T, env, secrets string) string {
	t.Helper()
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, env)
	if secrets != "" {
		writeSecretsFile(t, dir, secrets)
	}
	t.Chdir(dir)
	return dir
}

// TestLoad_FailsWhenNoAPIKey verifies a missing CWA key is a ConfigurationError naming the option.
func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	setupDir(t, minimalEnvYAML, "")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no CWA_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("Load() error = %T, want *ConfigurationError", err)
	}
	if cerr.Option != "CWA_API_KEY" {
		t.Errorf("Option = %q, want CWA_API_KEY", cerr.Option)
	}
}

// TestLoad_FailsWhenNoLINECredentials verifies both LINE secrets are required.
func TestLoad_FailsWhenNoLINECredentials(t *testing.T) {
	setupDir(t, minimalEnvYAML, "cwa_api_key: CWA-0000-0000-0000\n")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "LINE_CHANNEL_SECRET") {
		t.Fatalf("Load() error = %v, want LINE_CHANNEL_SECRET", err)
	}

	t.Setenv("LINE_CHANNEL_SECRET", "s")
	_, err = Load()
	if err == nil || !strings.Contains(err.Error(), "LINE_CHANNEL_ACCESS_TOKEN") {
		t.Fatalf("Load() error = %v, want LINE_CHANNEL_ACCESS_TOKEN", err)
	}
}

// TestLoad_SucceedsWithSecretsFile verifies secrets.yaml supplies credentials and defaults apply.
func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	setupDir(t, minimalEnvYAML, minimalSecretsYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CWAAPIKey != "CWA-0000-0000-0000" {
		t.Errorf("CWAAPIKey = %q, want key from secrets file", cfg.CWAAPIKey)
	}
	if cfg.LINEChannelSecret != "secret-from-file" || cfg.LINEAccessToken != "token-from-file" {
		t.Errorf("LINE credentials = %q/%q, want values from secrets file", cfg.LINEChannelSecret, cfg.LINEAccessToken)
	}
	if cfg.CheckInterval != 300*time.Second {
		t.Errorf("CheckInterval = %v, want 300s", cfg.CheckInterval)
	}
	if cfg.StatusKeyword != "颱風現況" {
		t.Errorf("StatusKeyword = %q, want 颱風現況", cfg.StatusKeyword)
	}
	if !cfg.RichMessages || !cfg.FallbackOnFailure || cfg.AirportMonitoring {
		t.Errorf("feature defaults = rich %v fallback %v airport %v, want true true false",
			cfg.RichMessages, cfg.FallbackOnFailure, cfg.AirportMonitoring)
	}
	if cfg.RecipientsBackend != "in_memory" || cfg.EventsBackend != "none" {
		t.Errorf("backends = %q/%q, want in_memory/none", cfg.RecipientsBackend, cfg.EventsBackend)
	}
	wantTravel := time.Date(2025, 7, 6, 0, 0, 0, 0, dateZone)
	if !cfg.TravelDate.Equal(wantTravel) {
		t.Errorf("TravelDate = %v, want %v", cfg.TravelDate, wantTravel)
	}
	wantCheckup := time.Date(2025, 7, 7, 0, 0, 0, 0, dateZone)
	if !cfg.CheckupDate.Equal(wantCheckup) {
		t.Errorf("CheckupDate = %v, want %v", cfg.CheckupDate, wantCheckup)
	}
}

// TestLoad_EnvOverridesSecrets verifies env vars take precedence over secrets.yaml.
func TestLoad_EnvOverridesSecrets(t *testing.T) {
	setupDir(t, minimalEnvYAML, minimalSecretsYAML)
	t.Setenv("CWA_API_KEY", "CWA-FROM-ENV-0000")
	t.Setenv("CHECK_INTERVAL", "60")
	t.Setenv("MONITOR_LOCATIONS", "臺北市, 金門縣 ,臺南市")
	t.Setenv("TRAVEL_DATE", "2025-08-01")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CWAAPIKey != "CWA-FROM-ENV-0000" {
		t.Errorf("CWAAPIKey = %q, want env value", cfg.CWAAPIKey)
	}
	if cfg.CheckInterval != time.Minute {
		t.Errorf("CheckInterval = %v, want 1m", cfg.CheckInterval)
	}
	want := []string{"臺北市", "金門縣", "臺南市"}
	if strings.Join(cfg.Regions, ",") != strings.Join(want, ",") {
		t.Errorf("Regions = %v, want %v", cfg.Regions, want)
	}
	if cfg.TravelDate.Month() != time.August || cfg.TravelDate.Day() != 1 {
		t.Errorf("TravelDate = %v, want 2025-08-01", cfg.TravelDate)
	}
}

// TestLoad_DotEnvFile verifies values from .env are used when the variable is unset.
func TestLoad_DotEnvFile(t *testing.T) {
	dir := setupDir(t, minimalEnvYAML, "line_channel_secret: s\nline_channel_access_token: tok\n")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CWA_API_KEY=CWA-FROM-DOTENV\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CWAAPIKey != "CWA-FROM-DOTENV" {
		t.Errorf("CWAAPIKey = %q, want value from .env", cfg.CWAAPIKey)
	}
}

// TestLoad_ActivityRegionsAddedToMonitored verifies travel and checkup regions are always monitored.
func TestLoad_ActivityRegionsAddedToMonitored(t *testing.T) {
	setupDir(t, minimalEnvYAML, minimalSecretsYAML)
	t.Setenv("MONITOR_LOCATIONS", "臺北市")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"臺北市", "金門縣", "臺南市"}
	if strings.Join(cfg.Regions, ",") != strings.Join(want, ",") {
		t.Errorf("Regions = %v, want %v", cfg.Regions, want)
	}
}

// TestLoad_InvalidValues verifies malformed options fail with a ConfigurationError.
func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		option string
	}{
		{"non-numeric interval", "CHECK_INTERVAL", "five", "CHECK_INTERVAL"},
		{"zero interval", "CHECK_INTERVAL", "0", "CHECK_INTERVAL"},
		{"bad travel date", "TRAVEL_DATE", "07/06/2025", "TRAVEL_DATE"},
		{"bad checkup date", "CHECKUP_DATE", "tomorrow", "CHECKUP_DATE"},
		{"unknown recipients backend", "RECIPIENTS_BACKEND", "redis", "recipients.backend"},
		{"unknown events backend", "EVENTS_BACKEND", "nats", "events.backend"},
		{"kafka without brokers", "EVENTS_BACKEND", "kafka", "events.kafka.brokers"},
		{"mqtt without broker", "EVENTS_BACKEND", "mqtt", "events.mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupDir(t, minimalEnvYAML, minimalSecretsYAML)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("Load() error = %v, want *ConfigurationError", err)
			}
			if cerr.Option != tt.option {
				t.Errorf("Option = %q, want %q", cerr.Option, tt.option)
			}
		})
	}
}

// TestLoad_AirportMonitoringRequiresFeed verifies the feature flag needs a feed URL.
func TestLoad_AirportMonitoringRequiresFeed(t *testing.T) {
	setupDir(t, minimalEnvYAML+"features:\n  airport_monitoring: true\n", minimalSecretsYAML)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "airport.feed_url") {
		t.Fatalf("Load() error = %v, want airport.feed_url", err)
	}
}

// TestLoad_FeatureFlagsFromYAML verifies explicit false survives the defaulting.
func TestLoad_FeatureFlagsFromYAML(t *testing.T) {
	yml := minimalEnvYAML + `
features:
  rich_messages: false
  fallback_on_failure: false
events:
  backend: kafka
  kafka:
    brokers: ["localhost:9092"]
`
	setupDir(t, yml, minimalSecretsYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RichMessages || cfg.FallbackOnFailure {
		t.Errorf("RichMessages=%v FallbackOnFailure=%v, want both false", cfg.RichMessages, cfg.FallbackOnFailure)
	}
	if cfg.EventsBackend != "kafka" || cfg.KafkaTopic != "typhoon.status" {
		t.Errorf("events = %q/%q, want kafka/typhoon.status", cfg.EventsBackend, cfg.KafkaTopic)
	}
}

// TestLoad_EnvFileNotFound verifies a missing config/{ENV_NAME}.yaml is reported.
func TestLoad_EnvFileNotFound(t *testing.T) {
	setupDir(t, minimalEnvYAML, minimalSecretsYAML)
	t.Setenv("ENV_NAME", "nonexistent")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("Load() error = %v, want config file not found", err)
	}
}

// TestLoad_InvalidDurationFallsBackToDefault verifies unparseable durations use defaults.
func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	yml := strings.Replace(minimalEnvYAML, `send_timeout: "10s"`, `send_timeout: "soon"`, 1)
	yml = strings.Replace(yml, `timeout: "10s"`, `timeout: ""`, 1)
	setupDir(t, yml, minimalSecretsYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SendTimeout != 10*time.Second {
		t.Errorf("SendTimeout = %v, want 10s default", cfg.SendTimeout)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s default", cfg.ShutdownTimeout)
	}
}

// TestLoad_RequestTimeoutExceedsSendTimeout verifies the request timeout is raised above the send timeout.
func TestLoad_RequestTimeoutExceedsSendTimeout(t *testing.T) {
	yml := strings.Replace(minimalEnvYAML, `request_timeout: "15s"`, `request_timeout: "5s"`, 1)
	setupDir(t, yml, minimalSecretsYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout <= cfg.SendTimeout {
		t.Errorf("RequestTimeout = %v, want > SendTimeout %v", cfg.RequestTimeout, cfg.SendTimeout)
	}
}

// TestLoad_InvalidSecretsYAML verifies a malformed secrets file is an error.
func TestLoad_InvalidSecretsYAML(t *testing.T) {
	setupDir(t, minimalEnvYAML, "cwa_api_key: [unclosed\n")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "parse secrets file") {
		t.Fatalf("Load() error = %v, want parse secrets file", err)
	}
}

// TestLoad_InvalidConfigYAML verifies a malformed config file is an error.
func TestLoad_InvalidConfigYAML(t *testing.T) {
	setupDir(t, "server: [unclosed\n", minimalSecretsYAML)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Fatalf("Load() error = %v, want parse config file", err)
	}
}

// TestLoad_ProjectDevConfig verifies the shipped config/dev.yaml loads.
func TestLoad_ProjectDevConfig(t *testing.T) {
	clearEnv(t)
	root := findProjectRoot(t)
	t.Chdir(root)
	t.Setenv("CWA_API_KEY", "CWA-0000-0000-0000")
	t.Setenv("LINE_CHANNEL_SECRET", "s")
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "tok")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Regions) < 2 {
		t.Errorf("Regions = %v, want at least the two activity regions", cfg.Regions)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
