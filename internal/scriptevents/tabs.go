package scriptevents

import "sync"

// TabDirectory maps requester ids to the tab hosting them.
type TabDirectory struct {
	mu   sync.RWMutex
	tabs map[int]int
}

func NewTabDirectory() *TabDirectory {
	return &TabDirectory{tabs: make(map[int]int)}
}

func (d *TabDirectory) Set(requester, tab int) {
	d.mu.Lock()
	d.tabs[requester] = tab
	d.mu.Unlock()
}

func (d *TabDirectory) Forget(requester int) {
	d.mu.Lock()
	delete(d.tabs, requester)
	d.mu.Unlock()
}

func (d *TabDirectory) Tab(requester int) (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tab, ok := d.tabs[requester]
	return tab, ok
}
