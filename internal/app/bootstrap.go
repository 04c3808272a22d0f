package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pushgate/internal/config"
	"pushgate/internal/correlation"
	"pushgate/internal/diag"
	"pushgate/internal/observability/debugserver"
	"pushgate/internal/permission"
	"pushgate/internal/presenter"
	"pushgate/internal/presenter/desktop"
	"pushgate/internal/presenter/headless"
	"pushgate/internal/presenter/telegram"
	"pushgate/pkg/logx"
)

// Version is reported to the metrics backend. It is set at build time.
var Version = "dev"

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapExportConfig(cfg *config.Config) (diag.ExportConfig, bool, error) {
	if cfg == nil || cfg.Metrics == nil || strings.TrimSpace(cfg.Metrics.OTLPEndpoint) == "" {
		return diag.ExportConfig{}, false, nil
	}
	interval, err := config.ParseDurationOrDefault("metrics.interval", cfg.Metrics.Interval, 15*time.Second)
	if err != nil {
		return diag.ExportConfig{}, false, err
	}
	return diag.ExportConfig{
		Endpoint: strings.TrimSpace(cfg.Metrics.OTLPEndpoint),
		Interval: interval,
		Insecure: cfg.Metrics.Insecure,
		Service:  "pushgated",
		Version:  Version,
	}, true, nil
}

func mapDebugConfig(cfg *config.Config) debugserver.Config {
	return debugserver.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          strings.TrimSpace(cfg.Debug.Addr),
		Token:         strings.TrimSpace(cfg.Debug.Token),
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}

// openPresenter builds the configured platform presenter. Driver "none"
// returns a nil presenter.
func openPresenter(pc config.PresenterConfig, log logx.Logger) (presenter.Presenter, error) {
	switch strings.ToLower(strings.TrimSpace(pc.Driver)) {
	case "", "headless":
		return headless.New(log.With(logx.String("driver", "headless"))), nil
	case "none":
		return nil, nil
	case "desktop":
		expire, err := config.ParseDurationOrDefault("presenter.expire_timeout", pc.ExpireTimeout, 0)
		if err != nil {
			return nil, err
		}
		p, err := desktop.Open(desktop.Config{AppName: pc.AppName, ExpireTimeout: expire}, log.With(logx.String("driver", "desktop")))
		if err != nil {
			return nil, err
		}
		return p, nil
	case "telegram":
		poll, err := config.ParseDurationOrDefault("presenter.telegram.poll_timeout", pc.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		p, err := telegram.Open(telegram.Config{
			Token:       pc.Telegram.Token,
			ChatID:      pc.Telegram.ChatID,
			ThreadID:    pc.Telegram.ThreadID,
			PollTimeout: poll,
		}, log.With(logx.String("driver", "telegram")))
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown presenter.driver: %s", pc.Driver)
	}
}

// Validate checks everything a config needs before components are built from
// it: durations, store settings, sweep schedule and permission rules.
func Validate(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, sweep, err := mapCorrelationConfig(cfg); err != nil {
		return err
	} else if err := correlation.ValidateSweep(sweep); err != nil {
		return fmt.Errorf("correlation.sweep: %w", err)
	}
	if _, err := permission.FromConfig(cfg.Permission, logx.Nop(), nil); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("presenter.telegram.poll_timeout", cfg.Presenter.Telegram.PollTimeout); err != nil {
		return err
	}
	if cfg.Dispatcher.QueueSize < 0 {
		return fmt.Errorf("dispatcher.queue_size must be >= 0")
	}
	if cfg.Events.Buffer < 0 {
		return fmt.Errorf("events.buffer must be >= 0")
	}
	if cfg.Bridge.Enabled && strings.TrimSpace(cfg.Bridge.Socket) == "" {
		return fmt.Errorf("bridge.socket is required when bridge.enabled is true")
	}
	if _, _, err := mapExportConfig(cfg); err != nil {
		return err
	}
	return debugserver.CheckBind(mapDebugConfig(cfg))
}
