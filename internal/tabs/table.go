// Package tabs tracks what the browser currently shows: the url of every
// known tab and which tab has focus. The coordinator consults the table to
// decide whether a navigation belongs to the active packet.
package tabs

import "sync"

// Table is the in-memory tab registry, fed by tab events from the browser.
type Table struct {
	mu        sync.RWMutex
	urls      map[int]string
	activeTab int
	hasActive bool
}

func NewTable() *Table {
	return &Table{urls: make(map[int]string)}
}

// URLChanged records a navigation in a tab.
func (t *Table) URLChanged(tabID int, url string) {
	t.mu.Lock()
	t.urls[tabID] = url
	t.mu.Unlock()
}

// Activated records a focus change.
func (t *Table) Activated(tabID int) {
	t.mu.Lock()
	t.activeTab = tabID
	t.hasActive = true
	t.mu.Unlock()
}

// Closed forgets a tab. If it was focused, no tab is focused until the next
// Activated event.
func (t *Table) Closed(tabID int) {
	t.mu.Lock()
	delete(t.urls, tabID)
	if t.hasActive && t.activeTab == tabID {
		t.hasActive = false
	}
	t.mu.Unlock()
}

// URLOf returns the last known url of a tab.
func (t *Table) URLOf(tabID int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.urls[tabID]
	return u, ok
}

// Active returns the focused tab and its url.
func (t *Table) Active() (tabID int, url string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.hasActive {
		return 0, "", false
	}
	return t.activeTab, t.urls[t.activeTab], true
}

// IsFocused reports whether the given tab has focus.
func (t *Table) IsFocused(tabID int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hasActive && t.activeTab == tabID
}

// Snapshot copies the tab→url map, for persisting browser state.
func (t *Table) Snapshot() map[int]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]string, len(t.urls))
	for id, u := range t.urls {
		out[id] = u
	}
	return out
}
