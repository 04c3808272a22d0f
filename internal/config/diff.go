package config

import (
	"reflect"
	"strings"

	"pushgate/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (redis password, telegram token) are
// reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Correlation != newCfg.Correlation {
		changed = append(changed, "correlation")
		attrs = append(attrs,
			logx.String("correlation.driver", strings.TrimSpace(newCfg.Correlation.Driver)),
			logx.String("correlation.ttl", strings.TrimSpace(newCfg.Correlation.TTL)),
			logx.String("correlation.sweep", strings.TrimSpace(newCfg.Correlation.Sweep)),
			logx.Bool("correlation.redis_password_set", newCfg.Correlation.Redis.Password != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Permission, newCfg.Permission) {
		changed = append(changed, "permission")
		attrs = append(attrs,
			logx.String("permission.policy", strings.TrimSpace(newCfg.Permission.Policy)),
			logx.String("permission.default", strings.TrimSpace(newCfg.Permission.Default)),
			logx.Int("permission.allow_rules", len(newCfg.Permission.Allow)),
			logx.Int("permission.deny_rules", len(newCfg.Permission.Deny)),
			logx.Any("permission.rate_per_origin", newCfg.Permission.RatePerOrigin),
		)
	}

	if oldCfg.Presenter != newCfg.Presenter {
		changed = append(changed, "presenter")
		attrs = append(attrs,
			logx.String("presenter.driver", strings.TrimSpace(newCfg.Presenter.Driver)),
			logx.Bool("presenter.telegram_token_set", newCfg.Presenter.Telegram.Token != ""),
		)
	}

	if oldCfg.Dispatcher != newCfg.Dispatcher {
		changed = append(changed, "dispatcher")
		attrs = append(attrs, logx.Int("dispatcher.queue_size", newCfg.Dispatcher.QueueSize))
	}

	if oldCfg.Events != newCfg.Events {
		changed = append(changed, "events")
		attrs = append(attrs, logx.Bool("events.include_content", newCfg.Events.IncludeContent))
	}

	if oldCfg.Bridge != newCfg.Bridge {
		changed = append(changed, "bridge")
		attrs = append(attrs,
			logx.Bool("bridge.enabled", newCfg.Bridge.Enabled),
			logx.String("bridge.socket", newCfg.Bridge.Socket),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics != nil))
	}

	return changed, attrs
}

// RestartRequired reports which of the changed sections only take effect on
// the next start.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "correlation", "dispatcher", "bridge", "metrics":
			out = append(out, s)
		}
	}
	return out
}
