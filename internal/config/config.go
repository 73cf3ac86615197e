package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	PredictionAPIURL     string
	PredictionAPITimeout time.Duration

	// DiseaseAPIURL empty disables the disease endpoint.
	DiseaseAPIURL     string
	DiseaseAPITimeout time.Duration

	RequestTimeout time.Duration

	DefaultPoint      models.GeoPoint
	WeatherWindowDays int
	WeatherLocation   *time.Location

	CacheTTL     time.Duration
	CacheBackend string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CoalesceEnabled bool

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	SessionIdleTimeout   time.Duration
	SessionSweepSchedule string

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	MaxPlotNameLength int
	MaxUploadBytes    int64

	WarmCache  bool
	WarmPoints []models.GeoPoint
}

type pointConfig struct {
	Latitude  *float64 `yaml:"latitude"`
	Longitude *float64 `yaml:"longitude"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL        string `yaml:"url"`
		Timeout    string `yaml:"timeout"`
		WindowDays int    `yaml:"window_days"`
		Timezone   string `yaml:"timezone"`
	} `yaml:"weather_api"`

	PredictionAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"prediction_api"`

	DiseaseAPI struct {
		URL            string `yaml:"url"`
		Timeout        string `yaml:"timeout"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	} `yaml:"disease_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Location struct {
		Default pointConfig `yaml:"default"`
	} `yaml:"location"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Coalesce  *bool  `yaml:"coalesce"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Warm struct {
			Enabled bool          `yaml:"enabled"`
			Points  []pointConfig `yaml:"points"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Health struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Session struct {
		IdleTimeout       string `yaml:"idle_timeout"`
		SweepSchedule     string `yaml:"sweep_schedule"`
		MaxPlotNameLength int    `yaml:"max_plot_name_length"`
	} `yaml:"session"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and
// applies env overrides. Call from project root.
func Load() (*Config, error) {
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

	cfg := &Config{}

	cfg.ServerPort = envOr("SERVER_PORT", fc.Server.Port, "8080")

	cfg.WeatherAPIURL = envOr("WEATHER_API_URL", fc.WeatherAPI.URL, "https://archive-api.open-meteo.com/v1/archive")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.WeatherWindowDays = fc.WeatherAPI.WindowDays
	if cfg.WeatherWindowDays <= 0 {
		cfg.WeatherWindowDays = 30
	}
	tz := strings.TrimSpace(fc.WeatherAPI.Timezone)
	if tz == "" {
		cfg.WeatherLocation = time.Local
	} else {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("weather_api.timezone %q: %w", tz, err)
		}
		cfg.WeatherLocation = loc
	}

	cfg.PredictionAPIURL = envOr("PREDICTION_API_URL", fc.PredictionAPI.URL, "http://127.0.0.1:8000/api/crop/predict")
	cfg.PredictionAPITimeout = parseDurationOrZero(fc.PredictionAPI.Timeout, 10*time.Second)

	cfg.DiseaseAPIURL = envOr("DISEASE_API_URL", fc.DiseaseAPI.URL, "")
	cfg.DiseaseAPITimeout = parseDuration(fc.DiseaseAPI.Timeout, 20*time.Second)
	cfg.MaxUploadBytes = fc.DiseaseAPI.MaxUploadBytes
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.DefaultPoint = models.GeoPoint{Latitude: 12.9716, Longitude: 77.5946}
	if d := fc.Location.Default; d.Latitude != nil || d.Longitude != nil {
		p, err := d.point()
		if err != nil {
			return nil, fmt.Errorf("location.default: %w", err)
		}
		cfg.DefaultPoint = p
	}

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CoalesceEnabled = true
	if fc.Cache.Coalesce != nil {
		cfg.CoalesceEnabled = *fc.Cache.Coalesce
	}
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.WarmCache = fc.Cache.Warm.Enabled
	for i, wp := range fc.Cache.Warm.Points {
		p, err := wp.point()
		if err != nil {
			return nil, fmt.Errorf("cache.warm.points[%d]: %w", i, err)
		}
		cfg.WarmPoints = append(cfg.WarmPoints, p)
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = true
	if cb.Enabled != nil {
		cfg.CircuitBreakerEnabled = *cb.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.OverloadWindow = parseDuration(fc.Health.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 20
	}

	cfg.SessionIdleTimeout = parseDuration(fc.Session.IdleTimeout, 30*time.Minute)
	cfg.SessionSweepSchedule = strings.TrimSpace(fc.Session.SweepSchedule)
	if cfg.SessionSweepSchedule == "" {
		cfg.SessionSweepSchedule = "@every 1m"
	}
	cfg.MaxPlotNameLength = fc.Session.MaxPlotNameLength
	if cfg.MaxPlotNameLength <= 0 {
		cfg.MaxPlotNameLength = 100
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p pointConfig) point() (models.GeoPoint, error) {
	if p.Latitude == nil || p.Longitude == nil {
		return models.GeoPoint{}, fmt.Errorf("latitude and longitude are both required")
	}
	gp := models.GeoPoint{Latitude: *p.Latitude, Longitude: *p.Longitude}
	if err := gp.Validate(); err != nil {
		return models.GeoPoint{}, err
	}
	return gp, nil
}

// envOr returns the trimmed env var when set, else the file value, else def.
func envOr(key, fileVal, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if v := strings.TrimSpace(fileVal); v != "" {
		return v
	}
	return def
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

// validate performs post-load validation of configuration values.
// Upstream timeouts must be positive; RequestTimeout is raised above the
// slowest upstream timeout when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.PredictionAPITimeout <= 0 {
		return fmt.Errorf("prediction_api.timeout must be positive")
	}
	if cfg.PredictionAPIURL == "" {
		return fmt.Errorf("prediction_api.url is required")
	}
	slowest := max(cfg.WeatherAPITimeout, cfg.PredictionAPITimeout)
	if cfg.DiseaseAPIURL != "" {
		slowest = max(slowest, cfg.DiseaseAPITimeout)
	}
	if cfg.RequestTimeout <= slowest {
		cfg.RequestTimeout = slowest + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.CircuitBreakerSuccessThreshold > cfg.CircuitBreakerFailureThreshold {
		return fmt.Errorf("circuit_breaker.success_threshold (%d) must not exceed failure_threshold (%d)",
			cfg.CircuitBreakerSuccessThreshold, cfg.CircuitBreakerFailureThreshold)
	}
	if cfg.WeatherWindowDays > 366 {
		return fmt.Errorf("weather_api.window_days must be at most 366, got %d", cfg.WeatherWindowDays)
	}
	return nil
}
