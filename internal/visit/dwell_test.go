package visit

import (
	"testing"
	"time"
)

// manualTimers collects armed callbacks so tests fire them by hand.
type manualTimers struct {
	fns []func()
}

func (m *manualTimers) afterFunc(d time.Duration, f func()) *time.Timer {
	m.fns = append(m.fns, f)
	// A far-future real timer; tests trigger f directly.
	t := time.AfterFunc(time.Hour, func() {})
	return t
}

func (m *manualTimers) fireAll() {
	fns := m.fns
	m.fns = nil
	for _, f := range fns {
		f()
	}
}

func newTestWatcher(fired *[]string) (*DwellWatcher, *manualTimers) {
	mt := &manualTimers{}
	w := New(5*time.Second, func(tabID int, url string) {
		*fired = append(*fired, url)
	})
	w.afterFunc = mt.afterFunc
	return w, mt
}

func TestDwellFires(t *testing.T) {
	var fired []string
	w, mt := newTestWatcher(&fired)

	w.Arm(1, "https://a.example/one")
	mt.fireAll()

	if len(fired) != 1 || fired[0] != "https://a.example/one" {
		t.Fatalf("fired: %v", fired)
	}
	if _, ok := w.Watching(1); ok {
		t.Fatal("timer should be consumed after firing")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	var fired []string
	w, mt := newTestWatcher(&fired)

	w.Arm(1, "https://a.example/one")
	w.Cancel(1)
	mt.fireAll()

	if len(fired) != 0 {
		t.Fatalf("fired after cancel: %v", fired)
	}
}

func TestRearmSupersedesOldTimer(t *testing.T) {
	var fired []string
	w, mt := newTestWatcher(&fired)

	w.Arm(1, "https://a.example/one")
	w.Arm(1, "https://a.example/two") // url changed before threshold
	mt.fireAll()

	// The first (stale) callback must be a no-op; only the second fires.
	if len(fired) != 1 || fired[0] != "https://a.example/two" {
		t.Fatalf("fired: %v", fired)
	}
}

func TestCancelAll(t *testing.T) {
	var fired []string
	w, mt := newTestWatcher(&fired)

	w.Arm(1, "https://a.example/one")
	w.Arm(2, "https://a.example/two")
	w.CancelAll()
	mt.fireAll()

	if len(fired) != 0 {
		t.Fatalf("fired after CancelAll: %v", fired)
	}
}
