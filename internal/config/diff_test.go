package config

import (
	"reflect"
	"testing"
)

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	base := Default()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		want    []string
		restart []string
	}{
		{name: "identical", mutate: func(*Config) {}},
		{
			name:   "logging",
			mutate: func(c *Config) { c.Logging.Level = "debug" },
			want:   []string{"logging"},
		},
		{
			name:   "permission rules",
			mutate: func(c *Config) { c.Permission.Deny = []string{"host == 'x'"} },
			want:   []string{"permission"},
		},
		{
			name: "presenter and events",
			mutate: func(c *Config) {
				c.Presenter.Driver = "none"
				c.Events.IncludeContent = true
			},
			want: []string{"presenter", "events"},
		},
		{
			name: "restart sections",
			mutate: func(c *Config) {
				c.Correlation.Driver = "sqlite"
				c.Bridge.Socket = "/run/other.sock"
				c.Metrics = &MetricsConfig{OTLPEndpoint: "localhost:4317"}
			},
			want:    []string{"correlation", "bridge", "metrics"},
			restart: []string{"correlation", "bridge", "metrics"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := Default()
			tt.mutate(next)
			got, _ := SummarizeConfigChange(base, next)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("sections = %v, want %v", got, tt.want)
			}
			if r := RestartRequired(got); !reflect.DeepEqual(r, tt.restart) {
				t.Fatalf("restart = %v, want %v", r, tt.restart)
			}
		})
	}
}
