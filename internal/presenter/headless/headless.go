// Package headless is an in-process presenter. It keeps live notifications in
// memory and logs what a platform would show.
package headless

import (
	"sort"
	"sync"

	"pushgate/internal/presenter"
	"pushgate/pkg/logx"
)

type Presenter struct {
	log logx.Logger

	mu   sync.Mutex
	live map[string]*notification
}

func New(log logx.Logger) *Presenter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Presenter{log: log, live: make(map[string]*notification)}
}

type notification struct {
	p     *Presenter
	d     presenter.Delegate
	opts  presenter.ShowOptions
	shown bool
}

func (p *Presenter) CreateNotification(d presenter.Delegate) presenter.Notification {
	if d == nil || d.ID() == "" {
		return nil
	}
	return &notification{p: p, d: d}
}

func (p *Presenter) LookupNotification(id string) presenter.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.live[id]; ok {
		return n
	}
	return nil
}

// Live returns the ids of shown, undismissed notifications.
func (p *Presenter) Live() []string {
	p.mu.Lock()
	ids := make([]string, 0, len(p.live))
	for id := range p.live {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Options returns what the live notification id was shown with.
func (p *Presenter) Options(id string) (presenter.ShowOptions, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.live[id]
	if !ok {
		return presenter.ShowOptions{}, false
	}
	return n.opts, true
}

// Click simulates the user activating a live notification.
func (p *Presenter) Click(id string) bool {
	p.mu.Lock()
	n, ok := p.live[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	p.log.Debug("notification clicked", logx.String("id", id))
	n.d.NotificationClicked()
	return true
}

func (n *notification) Show(opts presenter.ShowOptions) {
	p := n.p
	id := n.d.ID()

	var replaced []*notification
	p.mu.Lock()
	if n.shown {
		p.mu.Unlock()
		return
	}
	n.shown = true
	n.opts = opts
	if old, ok := p.live[id]; ok && old != n {
		replaced = append(replaced, old)
	}
	if opts.Tag != "" {
		for oid, old := range p.live {
			if oid != id && old.opts.Tag == opts.Tag {
				delete(p.live, oid)
				replaced = append(replaced, old)
			}
		}
	}
	p.live[id] = n
	p.mu.Unlock()

	for _, old := range replaced {
		old.d.NotificationDestroyed()
	}
	p.log.Info("notification shown",
		logx.String("id", id),
		logx.String("title", opts.Title),
		logx.String("tag", opts.Tag),
		logx.Bool("silent", opts.Silent),
		logx.Bool("icon", opts.Icon != nil),
	)
	n.d.NotificationDisplayed()
}

func (n *notification) Dismiss() {
	p := n.p
	id := n.d.ID()
	p.mu.Lock()
	cur, ok := p.live[id]
	if !ok || cur != n {
		p.mu.Unlock()
		return
	}
	delete(p.live, id)
	p.mu.Unlock()

	p.log.Debug("notification dismissed", logx.String("id", id))
	n.d.NotificationClosed()
	n.d.NotificationDestroyed()
}
