package correlation

import (
	"fmt"
	"strings"

	"pushgate/pkg/logx"
)

// Open builds the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(cfg.TTL, cfg.MaxEntries, cfg.Clock), nil
	case "sqlite", "sqlite3":
		return OpenSQLite(cfg.Path, cfg.TTL, cfg.Clock, log)
	case "redis":
		return OpenRedis(cfg.Redis, cfg.TTL, log)
	default:
		return nil, fmt.Errorf("correlation: unknown driver %q", cfg.Driver)
	}
}
