package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Breaker targets with their own tuning
const (
	TargetRedis    = "redis"
	TargetDatabase = "db"
	TargetHTTP     = "http"
)

// Settings is the tunable part of a breaker Config
type Settings struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
}

var targetDefaults = map[string]Settings{
	TargetRedis: {
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	},
	TargetDatabase: {
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	},
	TargetHTTP: {
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	},
}

// SettingsFor returns settings for target, starting from the built-in
// defaults and applying CB_<TARGET>_<FIELD> environment overrides,
// e.g. CB_REDIS_FAILURE_THRESHOLD=5 or CB_HTTP_TIMEOUT=20s.
func SettingsFor(target string) Settings {
	s, ok := targetDefaults[target]
	if !ok {
		s = targetDefaults[TargetHTTP]
	}
	prefix := "CB_" + strings.ToUpper(target) + "_"
	s.MaxRequests = getEnvUint32(prefix+"MAX_REQUESTS", s.MaxRequests)
	s.Interval = getEnvDuration(prefix+"INTERVAL", s.Interval)
	s.Timeout = getEnvDuration(prefix+"TIMEOUT", s.Timeout)
	s.FailureThreshold = getEnvUint32(prefix+"FAILURE_THRESHOLD", s.FailureThreshold)
	s.SuccessThreshold = getEnvUint32(prefix+"SUCCESS_THRESHOLD", s.SuccessThreshold)
	return s
}

// Merge overlays non-zero fields of o onto s
func (s Settings) Merge(o Settings) Settings {
	if o.MaxRequests > 0 {
		s.MaxRequests = o.MaxRequests
	}
	if o.Interval > 0 {
		s.Interval = o.Interval
	}
	if o.Timeout > 0 {
		s.Timeout = o.Timeout
	}
	if o.FailureThreshold > 0 {
		s.FailureThreshold = o.FailureThreshold
	}
	if o.SuccessThreshold > 0 {
		s.SuccessThreshold = o.SuccessThreshold
	}
	return s
}

// ToConfig converts Settings into a breaker Config
func (s Settings) ToConfig() Config {
	return Config{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
