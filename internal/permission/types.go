// Package permission asks an Authority whether an origin may show
// notifications and turns its asynchronous answer into a Decision.
package permission

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Status is an Authority's answer. The zero value is Other.
type Status int

const (
	// Other means the authority has no answer yet (the user would be asked).
	Other Status = iota
	Granted
	Denied
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "ask"
	}
}

func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted", "grant", "allow":
		return Granted, nil
	case "denied", "deny":
		return Denied, nil
	case "", "ask", "other", "default":
		return Other, nil
	default:
		return Other, fmt.Errorf("permission: unknown status %q", s)
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Capability string

const Notifications Capability = "notifications"

// Query describes one permission check.
type Query struct {
	Capability  Capability
	Origin      string
	Frame       string // requesting frame URL; empty means Origin
	UserGesture bool
	Requester   int
}

// Authority is the permission store consulted by the Gate.
type Authority interface {
	// Check answers synchronously.
	Check(ctx context.Context, q Query) Status
	// RequestPermission answers by calling cb, possibly on another goroutine.
	// Implementations must call cb once; the Gate tolerates more.
	RequestPermission(ctx context.Context, q Query, cb func(Status))
}

// AllowAll grants everything.
type AllowAll struct{}

func (AllowAll) Check(context.Context, Query) Status { return Granted }

func (AllowAll) RequestPermission(_ context.Context, _ Query, cb func(Status)) { cb(Granted) }

// originParts splits an origin URL into scheme and host. Unparseable origins
// yield empty parts so rules on them simply do not match.
func originParts(origin string) (scheme, host string) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", ""
	}
	return strings.ToLower(u.Scheme), strings.ToLower(u.Hostname())
}

// originKey normalizes an origin to scheme://host[:port].
func originKey(origin string) string {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(origin)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
