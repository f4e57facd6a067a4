// Package visit implements the dwell rule of the visit adjudicator: an
// external item counts as visited once its tab has stayed focused on the url
// for the configured threshold.
package visit

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("unlock:visit")

// DefaultThreshold is the dwell time before an external url counts as
// visited.
const DefaultThreshold = 5 * time.Second

// DwellWatcher runs at most one timer per tab. The coordinator arms a timer
// when a focused tab lands on an external item of the active instance and
// cancels it on url change, blur, tab close or packet deactivation.
type DwellWatcher struct {
	mu        sync.Mutex
	threshold time.Duration
	fire      func(tabID int, url string)
	timers    map[int]*dwellTimer

	// afterFunc is swapped out by tests for a virtual clock.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

type dwellTimer struct {
	url   string
	timer *time.Timer
}

// New creates a watcher firing fire on the threshold. A zero threshold
// falls back to DefaultThreshold.
func New(threshold time.Duration, fire func(tabID int, url string)) *DwellWatcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &DwellWatcher{
		threshold: threshold,
		fire:      fire,
		timers:    make(map[int]*dwellTimer),
		afterFunc: time.AfterFunc,
	}
}

// SetThreshold applies a new dwell threshold to timers armed afterwards.
func (w *DwellWatcher) SetThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	w.threshold = d
	w.mu.Unlock()
}

// Arm starts (or restarts) the dwell timer for a tab. Re-arming the same
// url on the same tab restarts the countdown, which matches a reload.
func (w *DwellWatcher) Arm(tabID int, url string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[tabID]; ok {
		t.timer.Stop()
	}
	dt := &dwellTimer{url: url}
	dt.timer = w.afterFunc(w.threshold, func() {
		w.mu.Lock()
		// Only fire if this timer is still the tab's current one.
		cur, ok := w.timers[tabID]
		if !ok || cur != dt {
			w.mu.Unlock()
			return
		}
		delete(w.timers, tabID)
		w.mu.Unlock()
		log.Debugf("dwell reached for tab %d: %s", tabID, url)
		w.fire(tabID, url)
	})
	w.timers[tabID] = dt
}

// Cancel stops the timer for a tab, if any.
func (w *DwellWatcher) Cancel(tabID int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[tabID]; ok {
		t.timer.Stop()
		delete(w.timers, tabID)
	}
}

// CancelAll stops every timer; used on stop and packet deactivation.
func (w *DwellWatcher) CancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.timers {
		t.timer.Stop()
		delete(w.timers, id)
	}
}

// Watching returns the url the tab's timer is armed for, if any.
func (w *DwellWatcher) Watching(tabID int) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.timers[tabID]
	if !ok {
		return "", false
	}
	return t.url, true
}
