package permission

import (
	"fmt"
	"strings"

	"pushgate/internal/config"
	"pushgate/pkg/logx"
)

// FromConfig builds the authority described by cfg. onThrottled may be nil.
func FromConfig(cfg config.PermissionConfig, log logx.Logger, onThrottled func(origin string)) (Authority, error) {
	def, err := ParseStatus(cfg.Default)
	if err != nil {
		return nil, err
	}
	var auth Authority
	switch strings.ToLower(strings.TrimSpace(cfg.Policy)) {
	case "", "allow_all":
		auth = AllowAll{}
	case "cel":
		p, err := NewPolicy(PolicyConfig{Deny: cfg.Deny, Allow: cfg.Allow, Default: def}, log)
		if err != nil {
			return nil, err
		}
		auth = p
	default:
		return nil, fmt.Errorf("permission: unknown policy %q", cfg.Policy)
	}
	if cfg.RatePerOrigin > 0 {
		t := NewThrottle(auth, cfg.RatePerOrigin, cfg.Burst)
		t.OnThrottled = onThrottled
		auth = t
	}
	return auth, nil
}
