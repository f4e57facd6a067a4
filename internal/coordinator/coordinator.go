// Package coordinator implements the authoritative playback state machine.
// Every input — UI intents, audio host events, tab observations, dwell
// firings, packet deletion — is serialized onto one queue and handled by a
// single goroutine; views only ever see versioned snapshots broadcast from
// here.
package coordinator

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/unlocklabs/unlock/internal/audio"
	"github.com/unlocklabs/unlock/internal/mention"
	"github.com/unlocklabs/unlock/internal/packet"
	"github.com/unlocklabs/unlock/internal/proto"
	"github.com/unlocklabs/unlock/internal/storage"
	"github.com/unlocklabs/unlock/internal/tabs"
	"github.com/unlocklabs/unlock/internal/urlnorm"
	"github.com/unlocklabs/unlock/internal/visit"
)

var log = logging.Logger("unlock:coordinator")

// Persistence cadence.
const (
	// MentionDebounce coalesces mentioned-link writes.
	MentionDebounce = 1500 * time.Millisecond
	// animateDelay suppresses the mention-pill animation right after the
	// overlay becomes visible (tab-switch re-shows).
	animateDelay = 500 * time.Millisecond
)

// AudioHost is the command surface of the offscreen audio host. It is
// deliberately an interface: the host can die and be recreated.
type AudioHost interface {
	Play(audio.PlayRequest) error
	Pause() error
	Stop() error
	Toggle() error
	Seek(t float64) error
	CurrentTime() float64
	Close()
}

// Options wires a coordinator.
type Options struct {
	DB   *storage.DB
	Norm *urlnorm.Matcher
	Tabs *tabs.Table

	// NewHost creates (or recreates) the audio host. The coordinator passes
	// an emit callback that feeds host events back into the queue.
	NewHost func(emit func(audio.Event)) AudioHost

	DwellThreshold time.Duration
	QueueSize      int

	// BaseURL prefixes engine page urls in ActiveURL so they match the
	// absolute urls the panel cards carry.
	BaseURL string

	// now is test-injectable.
	Now func() time.Time
}

// playbackState is the single process-wide PlaybackState. Only the loop
// goroutine touches it.
type playbackState struct {
	instanceID        string
	activeURL         string
	pageID            string
	isPlaying         bool
	isVisible         bool
	lastMentionedLink string
	newLinkMentioned  bool
	currentTime       float64
	duration          float64
	visibleSince      time.Time
}

// Coordinator is the sole writer of PlaybackState and of the mutable slice
// of the active PacketInstance.
type Coordinator struct {
	db      *storage.DB
	norm    *urlnorm.Matcher
	tabs    *tabs.Table
	dwell   *visit.DwellWatcher
	baseURL string
	now     func() time.Time

	newHost func(emit func(audio.Event)) AudioHost
	host    AudioHost

	events chan Event
	quit   chan struct{}
	wg     sync.WaitGroup

	version  atomic.Uint64
	lastSnap atomic.Value // proto.OverlaySnapshot
	lastErr  atomic.Value // proto.ErrorStatus

	subsMu     sync.RWMutex
	snapSubs   map[chan proto.OverlaySnapshot]struct{}
	noticeSubs map[chan Notice]struct{}

	// Loop-goroutine state.
	state        playbackState
	inst         *packet.PacketInstance
	cursor       *mention.Cursor
	cursorPageID string
	mentionDirty bool
	flushArmed   bool
}

// New creates a coordinator and starts its event loop.
func New(opt Options) *Coordinator {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 128
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Tabs == nil {
		opt.Tabs = tabs.NewTable()
	}
	if opt.Norm == nil {
		opt.Norm = urlnorm.NewMatcher(nil)
	}

	c := &Coordinator{
		db:         opt.DB,
		norm:       opt.Norm,
		tabs:       opt.Tabs,
		baseURL:    opt.BaseURL,
		now:        opt.Now,
		newHost:    opt.NewHost,
		events:     make(chan Event, opt.QueueSize),
		quit:       make(chan struct{}),
		snapSubs:   make(map[chan proto.OverlaySnapshot]struct{}),
		noticeSubs: make(map[chan Notice]struct{}),
	}
	c.lastSnap.Store(proto.OverlaySnapshot{})
	c.dwell = visit.New(opt.DwellThreshold, func(tabID int, url string) {
		c.Dispatch(Event{Type: EvDwellReached, TabID: tabID, URL: url})
	})
	c.host = c.newHost(c.enqueueAudioEvent)

	c.wg.Add(1)
	go c.loop()
	return c
}

// enqueueAudioEvent feeds host events into the queue. The loop goroutine
// itself triggers synchronous host emissions (Play and Seek under callHost),
// so this must never block: with the queue full the single consumer would be
// enqueuing onto itself. Time updates are dropped instead, the next tick
// carries a fresher position; terminal events fall back to a goroutine.
func (c *Coordinator) enqueueAudioEvent(ev audio.Event) {
	e := fromAudioEvent(ev)
	select {
	case c.events <- e:
		return
	case <-c.quit:
		return
	default:
	}
	if e.Type == EvAudioTimeUpdate {
		return
	}
	go c.Dispatch(e)
}

// Dispatch enqueues an event. FIFO order is the ordering guarantee views
// rely on, so this blocks rather than drops when the queue is full.
func (c *Coordinator) Dispatch(ev Event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

// Sync blocks until every event enqueued before it has been handled.
func (c *Coordinator) Sync() {
	done := make(chan struct{})
	c.Dispatch(Event{Type: "internal.sync", done: done})
	select {
	case <-done:
	case <-c.quit:
	}
}

func (c *Coordinator) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.quit:
			return
		case ev := <-c.events:
			c.safeHandle(ev)
			if ev.done != nil {
				close(ev.done)
			}
		}
	}
}

// safeHandle keeps one handler's panic from halting the queue.
func (c *Coordinator) safeHandle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler panic on %s: %v", ev.Type, r)
		}
	}()
	c.handle(ev)
}

func (c *Coordinator) handle(ev Event) {
	switch ev.Type {
	case EvIntent:
		c.handleIntent(ev.Action)
	case EvAudioTimeUpdate:
		c.handleTimeUpdate(ev)
	case EvPlaybackComplete:
		c.handlePlaybackComplete(ev)
	case EvAudioError:
		c.handleAudioError(ev)
	case EvTabURLChanged:
		c.handleTabURLChanged(ev.TabID, ev.URL)
	case EvTabActivated:
		c.handleTabActivated(ev.TabID)
	case EvTabClosed:
		c.handleTabClosed(ev.TabID)
	case EvPageComplete:
		c.handlePageComplete(ev.PageID, ev.URL)
	case EvDwellReached:
		c.handleDwellReached(ev.TabID, ev.URL)
	case EvPacketDelete:
		c.handlePacketDelete(ev.InstanceID)
	case evFlush:
		c.flushArmed = false
		c.flushMentions()
	case "internal.sync":
		// barrier only
	default:
		log.Debugf("unknown event type %q", ev.Type)
	}
}

// Close stops the loop and tears down the audio host.
func (c *Coordinator) Close() {
	select {
	case <-c.quit:
		return
	default:
	}
	close(c.quit)
	c.wg.Wait()
	if c.host != nil {
		c.host.Close()
	}
	c.dwell.CancelAll()
}

// ── Subscriptions ────────────────────────────────────────────────────────────

// Subscribe returns a channel of state snapshots. Slow subscribers drop
// snapshots rather than stall the loop; versions let them detect this.
func (c *Coordinator) Subscribe() (ch chan proto.OverlaySnapshot, cancel func()) {
	ch = make(chan proto.OverlaySnapshot, 32)
	c.subsMu.Lock()
	c.snapSubs[ch] = struct{}{}
	c.subsMu.Unlock()

	cancel = func() {
		c.subsMu.Lock()
		if _, ok := c.snapSubs[ch]; ok {
			delete(c.snapSubs, ch)
			close(ch)
		}
		c.subsMu.Unlock()
	}
	return ch, cancel
}

// SubscribeNotices returns a channel of packet.deleted notices.
func (c *Coordinator) SubscribeNotices() (ch chan Notice, cancel func()) {
	ch = make(chan Notice, 8)
	c.subsMu.Lock()
	c.noticeSubs[ch] = struct{}{}
	c.subsMu.Unlock()

	cancel = func() {
		c.subsMu.Lock()
		if _, ok := c.noticeSubs[ch]; ok {
			delete(c.noticeSubs, ch)
			close(ch)
		}
		c.subsMu.Unlock()
	}
	return ch, cancel
}

// State returns the last broadcast snapshot (get_playback_state).
func (c *Coordinator) State() proto.OverlaySnapshot {
	return c.lastSnap.Load().(proto.OverlaySnapshot)
}

// LastError returns the most recent non-fatal error status, if any.
func (c *Coordinator) LastError() (proto.ErrorStatus, bool) {
	v := c.lastErr.Load()
	if v == nil {
		return proto.ErrorStatus{}, false
	}
	return v.(proto.ErrorStatus), true
}

// ActiveInstance returns a point-in-time copy of the active instance for
// rendering. Views must not observe the loop's mutable record directly, so
// pending mention writes are flushed and the stored record is read back.
func (c *Coordinator) ActiveInstance() (*packet.PacketInstance, bool) {
	c.Dispatch(Event{Type: evFlush})
	c.Sync()
	snap := c.State()
	if snap.InstanceID == "" {
		return nil, false
	}
	inst, err := c.db.GetInstance(snap.InstanceID)
	if err != nil {
		return nil, false
	}
	return inst, true
}

// SetDwellThreshold changes the dwell threshold for timers armed from now on.
// Already-armed timers keep the threshold they were armed with.
func (c *Coordinator) SetDwellThreshold(d time.Duration) {
	c.dwell.SetThreshold(d)
}

// ── Broadcast ────────────────────────────────────────────────────────────────

func (c *Coordinator) buildSnapshot() proto.OverlaySnapshot {
	s := &c.state
	snap := proto.OverlaySnapshot{
		Version:           c.version.Add(1),
		InstanceID:        s.instanceID,
		ActiveURL:         s.activeURL,
		PageID:            s.pageID,
		IsPlaying:         s.isPlaying,
		IsVisible:         s.isVisible,
		Animate:           s.isVisible && c.now().Sub(s.visibleSince) >= animateDelay,
		LastMentionedLink: s.lastMentionedLink,
		NewLinkMentioned:  s.newLinkMentioned,
		CurrentTime:       s.currentTime,
		Duration:          s.duration,
		TS:                proto.NowMillis(),
	}
	if c.inst != nil {
		snap.Topic = c.inst.Topic
		p := packet.ComputeProgress(c.inst, c.norm)
		snap.CompletedCount = p.CompletedCount
		snap.TotalCount = p.TotalCount
		snap.Percent = p.Percent
	}
	return snap
}

// broadcast publishes the current state. The new-link flag is consumed by
// exactly one broadcast.
func (c *Coordinator) broadcast() {
	snap := c.buildSnapshot()
	c.state.newLinkMentioned = false

	c.lastSnap.Store(snap)
	c.mirrorSession(snap)

	c.subsMu.RLock()
	for ch := range c.snapSubs {
		select {
		case ch <- snap:
		default:
			// drop on slow subscriber; versions expose the gap
		}
	}
	c.subsMu.RUnlock()
}

func (c *Coordinator) notify(n Notice) {
	c.subsMu.RLock()
	for ch := range c.noticeSubs {
		select {
		case ch <- n:
		default:
		}
	}
	c.subsMu.RUnlock()
}

// mirrorSession writes the PlaybackState mirror a reloading side panel
// reads back.
func (c *Coordinator) mirrorSession(snap proto.OverlaySnapshot) {
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.db.SessionPut(proto.PlaybackStateKey, string(b)); err != nil {
		log.Debugf("session mirror: %v", err)
	}
}

func (c *Coordinator) setError(kind, msg string) {
	c.lastErr.Store(proto.ErrorStatus{Kind: kind, Message: msg})
	log.Warnf("%s: %s", kind, msg)
}
