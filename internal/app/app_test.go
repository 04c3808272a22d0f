package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pushgate/internal/config"
	"pushgate/internal/correlation"
	"pushgate/internal/eventbus"
	"pushgate/internal/notification"
)

const waitFor = 2 * time.Second

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pushgate.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const quietConfig = `{
	"logging": {"level": "error", "console": false},
	"bridge": {"enabled": false}
}`

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "sqlite without path",
			body: `{"correlation":{"driver":"sqlite"}}`,
			want: "correlation.path",
		},
		{
			name: "redis without addr",
			body: `{"correlation":{"driver":"redis"}}`,
			want: "correlation.redis.addr",
		},
		{
			name: "bad sweep",
			body: `{"correlation":{"sweep":"sometimes"}}`,
			want: "correlation.sweep",
		},
		{
			name: "bad rule",
			body: `{"permission":{"policy":"cel","deny":["origin +"]}}`,
			want: "permission",
		},
		{
			name: "bridge without socket",
			body: `{"bridge":{"enabled":true,"socket":""}}`,
			want: "bridge.socket",
		},
		{
			name: "public debug without token",
			body: `{"debug":{"enabled":true,"addr":"0.0.0.0:6060"}}`,
			want: "debug.addr",
		},
		{
			name: "negative queue",
			body: `{"dispatcher":{"queue_size":-1}}`,
			want: "dispatcher.queue_size",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewApp(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("NewApp error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestMapCorrelationConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cc, sweep, err := mapCorrelationConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if cc.Driver != "memory" || cc.TTL != correlation.DefaultTTL || sweep != correlation.DefaultSweep {
		t.Fatalf("defaults = %+v, %q", cc, sweep)
	}

	cfg.Correlation = config.CorrelationConfig{Driver: "SQLite3", Path: " /var/lib/pushgate/corr.db ", TTL: "30s", Sweep: "@every 5s"}
	cc, sweep, err = mapCorrelationConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if cc.Driver != "sqlite" || cc.Path != "/var/lib/pushgate/corr.db" || cc.TTL != 30*time.Second || sweep != "@every 5s" {
		t.Fatalf("sqlite = %+v, %q", cc, sweep)
	}
}

func startApp(t *testing.T) (*App, <-chan eventbus.Event) {
	t.Helper()
	a, err := NewApp(writeConfig(t, quietConfig))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	events, unsub := a.Bus().Subscribe(64)
	t.Cleanup(func() {
		unsub()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = a.Stop(sctx, StopAppStop)
		cancel()
	})
	return a, events
}

func display(a *App, id string, requester int) {
	ctx := context.Background()
	key := correlation.NewKey()
	a.Service().CheckPermissionOnIngress(ctx, key, "https://example.test", requester)
	a.Service().DisplayNotification(ctx, notification.Request{
		ID:        id,
		Origin:    "https://example.test",
		Data:      notification.Data{Title: "hello", Body: "world"},
		Requester: key,
	})
}

func TestAppDisplaysThroughWiredPipeline(t *testing.T) {
	a, events := startApp(t)

	display(a, "n1", 7)
	e, ok := eventbus.Wait(events, notification.EventShown, waitFor)
	if !ok {
		t.Fatal("notification was not shown")
	}
	ev := e.Data.(notification.DispatchEvent)
	if ev.ID != "n1" || ev.Requester != 7 {
		t.Fatalf("shown = %+v", ev)
	}

	a.Service().CloseNotification(context.Background(), "n1")
	if _, ok := eventbus.Wait(events, notification.EventClosed, waitFor); !ok {
		t.Fatal("notification was not closed")
	}
}

func TestAppAppliesReloadedConfig(t *testing.T) {
	a, events := startApp(t)
	ctx := context.Background()
	prev := a.cfgm.Get()

	denyAll := *prev
	denyAll.Permission = config.PermissionConfig{Policy: "cel", Default: "denied"}
	a.apply(ctx, prev, &denyAll)
	display(a, "denied", 1)
	if _, ok := eventbus.Wait(events, notification.EventDenied, waitFor); !ok {
		t.Fatal("reloaded permission policy was not applied")
	}

	noPresenter := denyAll
	noPresenter.Permission = prev.Permission
	noPresenter.Presenter.Driver = "none"
	a.apply(ctx, &denyAll, &noPresenter)
	display(a, "orphan", 2)
	if _, ok := eventbus.Wait(events, notification.EventPresenterUnavailable, waitFor); !ok {
		t.Fatal("presenter swap was not applied")
	}

	// A broken permission section keeps the running authority.
	broken := noPresenter
	broken.Presenter = prev.Presenter
	broken.Permission = config.PermissionConfig{Policy: "cel", Allow: []string{"origin +"}}
	a.apply(ctx, &noPresenter, &broken)
	display(a, "kept", 3)
	if _, ok := eventbus.Wait(events, notification.EventShown, waitFor); !ok {
		t.Fatal("previous authority should have been kept")
	}
}

func TestAppDebugServerFollowsConfig(t *testing.T) {
	a, _ := startApp(t)
	ctx := context.Background()
	prev := a.cfgm.Get()

	next := *prev
	next.Debug = config.DebugConfig{Enabled: true, Addr: "127.0.0.1:0"}
	a.apply(ctx, prev, &next)
	addr := a.debug.Addr()
	if addr == "" {
		t.Fatal("debug server did not start")
	}

	a.Service().CheckPermissionOnIngress(ctx, correlation.NewKey(), "https://example.test", 1)
	client := &http.Client{Timeout: waitFor}
	resp, err := client.Get("http://" + addr + "/debug/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()
	var stats map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n, _ := stats["correlation_entries"].(float64); n != 1 {
		t.Fatalf("stats = %v", stats)
	}
	if stats["presenter"] != true {
		t.Fatalf("presenter should be reported: %v", stats)
	}

	a.apply(ctx, &next, prev)
	if a.debug.Addr() != "" {
		t.Fatal("debug server should stop when disabled")
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()
	a, err := NewApp(writeConfig(t, quietConfig))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done should be closed before Start")
	}
	a.closeResources(context.Background())
}
