package notification

import (
	"context"
	"image"
	"time"

	"pushgate/internal/correlation"
	"pushgate/internal/permission"
)

// Data is the notification content supplied by the requester.
type Data struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Tag     string `json:"tag,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
	Silent  bool   `json:"silent,omitempty"`
}

// Resources are fetched assets that accompany Data.
type Resources struct {
	Icon image.Image
}

// Request is one display call. It is consumed once.
type Request struct {
	ID     string
	Origin string
	Data   Data
	// Resources are optional.
	Resources Resources
	// Requester is the key recorded by CheckPermissionOnIngress.
	Requester   correlation.Key
	UserGesture bool
}

// PersistentRequest is a service-worker notification request. Persistent
// notifications are not supported.
type PersistentRequest struct {
	Origin    string
	Scope     string
	Data      Data
	Resources Resources
}

// TabResolver maps a requester to its tab.
type TabResolver interface {
	Tab(requester int) (tab int, ok bool)
}

// Service is the interface offered to embedders.
type Service interface {
	// CheckPermissionOnIngress records key -> requester for a later display
	// call and answers the permission check.
	CheckPermissionOnIngress(ctx context.Context, key correlation.Key, origin string, requester int) permission.Status
	CheckPermissionOnDecision(ctx context.Context, origin string, requester int) permission.Status
	DisplayNotification(ctx context.Context, req Request)
	DisplayPersistentNotification(ctx context.Context, req PersistentRequest)
	CloseNotification(ctx context.Context, id string)
	ClosePersistentNotification(ctx context.Context, id string)
	GetDisplayedNotifications(ctx context.Context) (ids []string, supportsSync bool)
}

// Unsupported implements the persistent and enumeration parts of Service as
// no-ops. Embed it to opt out of them.
type Unsupported struct{}

func (Unsupported) DisplayPersistentNotification(context.Context, PersistentRequest) {}

func (Unsupported) ClosePersistentNotification(context.Context, string) {}

func (Unsupported) GetDisplayedNotifications(context.Context) ([]string, bool) { return nil, false }

// DispatchEvent is the payload of dispatch.* bus events.
type DispatchEvent struct {
	ID        string    `json:"id"`
	Origin    string    `json:"origin,omitempty"`
	Requester int       `json:"requester"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Bus event types.
const (
	EventGranted              = "dispatch.granted"
	EventDenied               = "dispatch.denied"
	EventDropped              = "dispatch.dropped"
	EventRejected             = "dispatch.rejected"
	EventPresenterUnavailable = "dispatch.presenter_unavailable"
	EventCreateFailed         = "dispatch.create_failed"
	EventShown                = "dispatch.shown"
	EventCloseMiss            = "dispatch.close_miss"
	EventClosed               = "dispatch.closed"
)
