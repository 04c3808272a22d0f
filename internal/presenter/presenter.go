// Package presenter defines the platform side of notification display.
//
// A Presenter is only ever driven from the dispatcher's presentation worker.
// Implementations report lifecycle changes back through the Delegate they
// were created with, from any goroutine.
package presenter

import (
	"image"
	"io"
	"sync"
)

// ShowOptions is what a notification displays.
type ShowOptions struct {
	Title   string
	Body    string
	Tag     string
	IconURL string
	Icon    image.Image
	Silent  bool
}

// Delegate receives lifecycle callbacks for one notification.
type Delegate interface {
	ID() string
	NotificationDisplayed()
	NotificationClicked()
	NotificationClosed()
	NotificationFailed()
	NotificationDestroyed()
}

type Notification interface {
	Show(opts ShowOptions)
	Dismiss()
}

type Presenter interface {
	// CreateNotification returns nil when the platform cannot create one.
	CreateNotification(d Delegate) Notification
	// LookupNotification returns nil for unknown ids.
	LookupNotification(id string) Notification
}

// Host holds the current presenter. The zero value holds none.
type Host struct {
	mu sync.RWMutex
	p  Presenter
}

func NewHost(p Presenter) *Host { return &Host{p: p} }

// Get returns the current presenter, or nil when none is installed.
func (h *Host) Get() Presenter {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.p
}

// Swap installs p and returns the previous presenter.
func (h *Host) Swap(p Presenter) Presenter {
	h.mu.Lock()
	old := h.p
	h.p = p
	h.mu.Unlock()
	return old
}

// Close releases the current presenter if it holds resources.
func (h *Host) Close() error {
	return CloseQuietly(h.Swap(nil))
}

// CloseQuietly closes p when it implements io.Closer.
func CloseQuietly(p Presenter) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
