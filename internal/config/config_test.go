package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://archive.example.com/v1/archive"
  timeout: "5s"
prediction_api:
  url: "http://predict.example.com/api/crop/predict"
  timeout: "10s"
request:
  timeout: "15s"
cache:
  ttl: "1h"
`

// clearEnv blanks every override so a developer's shell does not leak into Load.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "SERVER_PORT", "WEATHER_API_URL", "PREDICTION_API_URL", "DISEASE_API_URL", "CACHE_BACKEND", "MEMCACHED_ADDRS"} {
		t.Setenv(k, "")
	}
}

// loadFrom writes content as config/dev.yaml under a temp dir and loads it.
func loadFrom(t *testing.T, content string) (*Config, error) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	writeEnvFile(t, dir, content)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	return Load()
}

func TestLoad_Minimal(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, minimalEnvYAML)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIURL != "https://archive.example.com/v1/archive" {
		t.Errorf("WeatherAPIURL = %q", cfg.WeatherAPIURL)
	}
	if cfg.PredictionAPIURL != "http://predict.example.com/api/crop/predict" {
		t.Errorf("PredictionAPIURL = %q", cfg.PredictionAPIURL)
	}
	if cfg.DiseaseAPIURL != "" {
		t.Errorf("DiseaseAPIURL = %q, want empty (disabled)", cfg.DiseaseAPIURL)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if !cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled should default to true")
	}
	if !cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled should default to true")
	}
	if cfg.WeatherWindowDays != 30 {
		t.Errorf("WeatherWindowDays = %d, want 30", cfg.WeatherWindowDays)
	}
	if cfg.WeatherLocation != time.Local {
		t.Errorf("WeatherLocation = %v, want Local", cfg.WeatherLocation)
	}
	want := models.GeoPoint{Latitude: 12.9716, Longitude: 77.5946}
	if cfg.DefaultPoint != want {
		t.Errorf("DefaultPoint = %+v, want %+v", cfg.DefaultPoint, want)
	}
	if cfg.SessionSweepSchedule != "@every 1m" {
		t.Errorf("SessionSweepSchedule = %q", cfg.SessionSweepSchedule)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want 30m", cfg.SessionIdleTimeout)
	}
	if cfg.MaxPlotNameLength != 100 {
		t.Errorf("MaxPlotNameLength = %d, want 100", cfg.MaxPlotNameLength)
	}
	if cfg.MaxUploadBytes != 5<<20 {
		t.Errorf("MaxUploadBytes = %d, want 5MiB", cfg.MaxUploadBytes)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := loadFrom(t, minimalEnvYAML)
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, "not: valid: yaml: [[[")
	if err == nil {
		t.Fatal("Load() expected error for invalid config YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("WEATHER_API_URL", "http://weather.local/archive")
	t.Setenv("PREDICTION_API_URL", "http://predict.local/predict")
	t.Setenv("DISEASE_API_URL", "http://predict.local/disease")
	t.Setenv("CACHE_BACKEND", " Memcached ")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")

	cfg, err := loadFrom(t, minimalEnvYAML)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.WeatherAPIURL != "http://weather.local/archive" {
		t.Errorf("WeatherAPIURL = %q", cfg.WeatherAPIURL)
	}
	if cfg.PredictionAPIURL != "http://predict.local/predict" {
		t.Errorf("PredictionAPIURL = %q", cfg.PredictionAPIURL)
	}
	if cfg.DiseaseAPIURL != "http://predict.local/disease" {
		t.Errorf("DiseaseAPIURL = %q", cfg.DiseaseAPIURL)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
}

func TestLoad_EmptyDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, `
weather_api:
  timeout: ""
prediction_api:
  timeout: ""
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPITimeout != 5*time.Second {
		t.Errorf("WeatherAPITimeout = %v, want 5s default", cfg.WeatherAPITimeout)
	}
	if cfg.PredictionAPITimeout != 10*time.Second {
		t.Errorf("PredictionAPITimeout = %v, want 10s default", cfg.PredictionAPITimeout)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, minimalEnvYAML+`
session:
  idle_timeout: "soon"
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v, want 1h", cfg.CacheTTL)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want 30m default", cfg.SessionIdleTimeout)
	}
}

func TestLoad_ValidationFailsWhenWeatherAPITimeoutZero(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, `
weather_api:
  timeout: "0s"
`)
	if err == nil {
		t.Fatal("Load() expected error when weather timeout is zero, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "weather_api.timeout") {
		t.Errorf("Load() error = %v, want message about weather_api.timeout", err)
	}
}

func TestLoad_ValidationFailsOnUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", "redis")
	_, err := loadFrom(t, minimalEnvYAML)
	if err == nil || !strings.Contains(err.Error(), "cache.backend") {
		t.Fatalf("Load() error = %v, want cache.backend error", err)
	}
}

func TestLoad_RequestTimeoutRaisedAboveUpstreams(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, `
prediction_api:
  timeout: "20s"
request:
  timeout: "5s"
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 21*time.Second {
		t.Errorf("RequestTimeout = %v, want 21s", cfg.RequestTimeout)
	}
}

func TestLoad_LocationAndTimezone(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, `
weather_api:
  timezone: "Asia/Kolkata"
location:
  default:
    latitude: 28.6139
    longitude: 77.2090
cache:
  warm:
    enabled: true
    points:
      - latitude: 19.076
        longitude: 72.8777
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherLocation.String() != "Asia/Kolkata" {
		t.Errorf("WeatherLocation = %v, want Asia/Kolkata", cfg.WeatherLocation)
	}
	if cfg.DefaultPoint != (models.GeoPoint{Latitude: 28.6139, Longitude: 77.2090}) {
		t.Errorf("DefaultPoint = %+v", cfg.DefaultPoint)
	}
	if !cfg.WarmCache || len(cfg.WarmPoints) != 1 || cfg.WarmPoints[0].Latitude != 19.076 {
		t.Errorf("warm config = %v %+v", cfg.WarmCache, cfg.WarmPoints)
	}
}

func TestLoad_InvalidPoints(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"default out of range", "location:\n  default:\n    latitude: 95\n    longitude: 0\n", "location.default"},
		{"default missing longitude", "location:\n  default:\n    latitude: 10\n", "location.default"},
		{"warm point", "cache:\n  warm:\n    points:\n      - latitude: 0\n        longitude: 200\n", "cache.warm.points[0]"},
		{"bad timezone", "weather_api:\n  timezone: \"Mars/Olympus\"\n", "weather_api.timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := loadFrom(t, tt.yaml)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoad_CircuitBreakerConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, `
reliability:
  circuit_breaker:
    enabled: false
    failure_threshold: 3
    success_threshold: 1
    timeout: "10s"
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled = true, want false")
	}
	if cfg.CircuitBreakerFailureThreshold != 3 || cfg.CircuitBreakerSuccessThreshold != 1 {
		t.Errorf("thresholds = %d/%d, want 3/1", cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerSuccessThreshold)
	}
	if cfg.CircuitBreakerTimeout != 10*time.Second {
		t.Errorf("CircuitBreakerTimeout = %v, want 10s", cfg.CircuitBreakerTimeout)
	}

	_, err = loadFrom(t, `
reliability:
  circuit_breaker:
    failure_threshold: 2
    success_threshold: 4
`)
	if err == nil || !strings.Contains(err.Error(), "success_threshold") {
		t.Errorf("Load() error = %v, want success_threshold error", err)
	}
}

func TestLoad_ProjectDevConfig(t *testing.T) {
	clearEnv(t)
	origWd, _ := os.Getwd()
	if err := os.Chdir(findProjectRoot(t)); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIURL == "" || cfg.PredictionAPIURL == "" || cfg.ServerPort == "" {
		t.Errorf("Load() did not populate config from config/dev.yaml")
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
