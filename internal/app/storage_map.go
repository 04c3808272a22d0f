package app

import (
	"fmt"
	"strings"

	"pushgate/internal/config"
	"pushgate/internal/correlation"
)

// mapCorrelationConfig returns the store config and the sweep schedule.
func mapCorrelationConfig(cfg *config.Config) (correlation.Config, string, error) {
	if cfg == nil {
		return correlation.Config{Driver: "memory", TTL: correlation.DefaultTTL}, correlation.DefaultSweep, nil
	}
	cc := cfg.Correlation
	ttl, err := config.ParseDurationOrDefault("correlation.ttl", cc.TTL, correlation.DefaultTTL)
	if err != nil {
		return correlation.Config{}, "", err
	}
	if cc.MaxEntries < 0 {
		return correlation.Config{}, "", fmt.Errorf("correlation.max_entries must be >= 0")
	}
	sweep := strings.TrimSpace(cc.Sweep)
	if sweep == "" {
		sweep = correlation.DefaultSweep
	}

	out := correlation.Config{TTL: ttl, MaxEntries: cc.MaxEntries}
	driver := strings.ToLower(strings.TrimSpace(cc.Driver))
	switch driver {
	case "", "memory":
		out.Driver = "memory"
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(cc.Path)
		if path == "" {
			return correlation.Config{}, "", fmt.Errorf("correlation.path is required when correlation.driver=sqlite")
		}
		out.Driver = "sqlite"
		out.Path = path
	case "redis":
		addr := strings.TrimSpace(cc.Redis.Addr)
		if addr == "" {
			return correlation.Config{}, "", fmt.Errorf("correlation.redis.addr is required when correlation.driver=redis")
		}
		out.Driver = "redis"
		out.Redis = correlation.RedisOptions{
			Addr:     addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
			Prefix:   strings.TrimSpace(cc.Redis.Prefix),
		}
	default:
		return correlation.Config{}, "", fmt.Errorf("unknown correlation.driver: %s", cc.Driver)
	}
	return out, sweep, nil
}
