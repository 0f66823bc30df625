package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvString reads an environment variable, reporting whether it was set.
func EnvString(name string) (string, bool) {
	value, ok := os.LookupEnv(name)
	return value, ok
}

// EnvInt reads an integer environment variable.
func EnvInt(name string) (int, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return value, true, nil
}

// EnvBool reads a boolean environment variable.
func EnvBool(name string) (bool, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s must be a boolean: %w", name, err)
	}
	return value, true, nil
}

// EnvDuration reads a duration environment variable ("30s", "12h").
func EnvDuration(name string) (time.Duration, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be a duration: %w", name, err)
	}
	return value, true, nil
}

// FromEnv overlays environment variables onto a default configuration.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v, ok := EnvString("PRICEBOT_REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := EnvString("PRICEBOT_REDIS_PASSWORD"); ok {
		cfg.RedisPassword = v
	}
	if v, ok, err := EnvInt("PRICEBOT_REDIS_DB"); err != nil {
		return nil, err
	} else if ok {
		cfg.RedisDB = v
	}
	if v, ok, err := EnvInt("PRICEBOT_MAX_CONCURRENT"); err != nil {
		return nil, err
	} else if ok {
		cfg.MaxConcurrent = v
	}
	if v, ok, err := EnvDuration("PRICEBOT_TIMEOUT"); err != nil {
		return nil, err
	} else if ok {
		cfg.Timeout = v
	}
	if v, ok, err := EnvBool("PRICEBOT_CACHE_ENABLED"); err != nil {
		return nil, err
	} else if ok {
		cfg.CacheEnabled = v
	}
	if v, ok, err := EnvBool("PRICEBOT_ENABLE_HEADLESS"); err != nil {
		return nil, err
	} else if ok {
		cfg.EnableHeadless = v
	}
	if v, ok, err := EnvInt("PRICEBOT_POOL_ENGINES"); err != nil {
		return nil, err
	} else if ok {
		cfg.PoolEngines = v
	}
	if v, ok, err := EnvInt("PRICEBOT_POOL_MAX_SESSIONS"); err != nil {
		return nil, err
	} else if ok {
		cfg.PoolMaxSessions = v
	}
	if v, ok := EnvString("PRICEBOT_ANALYTICS_PATH"); ok {
		cfg.AnalyticsPath = v
	}
	if v, ok := EnvString("PRICEBOT_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}

	return cfg, nil
}
