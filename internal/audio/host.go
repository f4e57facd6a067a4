// Package audio implements the audio host: the single owner of the decoded
// narration stream. It obeys play/pause/stop/toggle/seek commands, advances
// a monotonic position clock while playing, and emits time-update and
// completion events toward the coordinator.
package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/unlocklabs/unlock/internal/proto"
)

var log = logging.Logger("unlock:audio")

var (
	ErrAssetMissing = errors.New("audio asset missing")
	ErrDecodeFailed = errors.New("audio decode failed")
	ErrHostClosed   = errors.New("audio host closed")
	ErrNoStream     = errors.New("no active stream")
)

// TickInterval is the time-update cadence while playing.
const TickInterval = 250 * time.Millisecond

// AssetSource loads raw audio payloads; the blob store satisfies it.
type AssetSource interface {
	GetAsset(imageID, pageID string) ([]byte, string, error)
}

// Event is emitted toward the coordinator's queue.
type Event struct {
	Type        string // proto.VerbAudioTimeUpdate, proto.VerbMediaPlaybackComplete, "error"
	InstanceID  string
	PageID      string
	CurrentTime float64
	Duration    float64
	Kind        string // error kind for Type "error"
	Message     string
}

// PlayRequest identifies the stream to own and where to start.
type PlayRequest struct {
	InstanceID string
	ImageID    string
	PageID     string
	StartTime  float64
}

type session struct {
	instanceID string
	imageID    string
	pageID     string
	clip       *Clip
	pos        float64
	playing    bool
	lastTick   time.Time
}

// Host owns at most one decoded audio stream at a time.
type Host struct {
	src   AssetSource
	emit  func(Event)
	cache *clipCache
	now   func() time.Time

	mu     sync.Mutex
	sess   *session
	closed bool
	stopCh chan struct{}
}

// New creates a host and starts its tick loop.
func New(src AssetSource, emit func(Event)) *Host {
	h := newHost(src, emit, time.Now)
	go h.loop()
	return h
}

// NewManual creates a host without a tick loop; the caller drives time via
// Tick() and the supplied clock. Used by tests.
func NewManual(src AssetSource, emit func(Event), now func() time.Time) *Host {
	return newHost(src, emit, now)
}

func newHost(src AssetSource, emit func(Event), now func() time.Time) *Host {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Host{
		src:    src,
		emit:   emit,
		cache:  newClipCache(8),
		now:    now,
		stopCh: make(chan struct{}),
	}
}

func (h *Host) loop() {
	t := time.NewTicker(TickInterval)
	defer t.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-t.C:
			h.Tick()
		}
	}
}

// load decodes the asset for (imageID, pageID), consulting the clip cache.
func (h *Host) load(imageID, pageID string) (*Clip, error) {
	if clip, ok := h.cache.get(imageID, pageID); ok {
		return clip, nil
	}
	raw, _, err := h.src.GetAsset(imageID, pageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrAssetMissing, imageID, pageID)
	}
	clip, err := DecodeWAV(raw)
	if err != nil {
		return nil, err
	}
	h.cache.put(imageID, pageID, clip)
	return clip, nil
}

// Play replaces any current stream with the requested one. Replaying the
// same (instance, page) at the same position while already playing is a
// no-op. Errors: ErrAssetMissing, ErrDecodeFailed, ErrHostClosed.
func (h *Host) Play(req PlayRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}

	if s := h.sess; s != nil && s.playing &&
		s.instanceID == req.InstanceID && s.pageID == req.PageID &&
		sameOffset(s.pos, req.StartTime) {
		return nil
	}

	clip, err := h.load(req.ImageID, req.PageID)
	if err != nil {
		h.emitError(err)
		return err
	}

	pos := clampPos(req.StartTime, clip.Duration())
	h.sess = &session{
		instanceID: req.InstanceID,
		imageID:    req.ImageID,
		pageID:     req.PageID,
		clip:       clip,
		pos:        pos,
		playing:    true,
		lastTick:   h.now(),
	}
	log.Infof("play %s/%s at %.2fs (%.1fs total)", req.InstanceID, req.PageID, pos, clip.Duration())
	h.emitLocked(proto.VerbAudioTimeUpdate)
	return nil
}

// Pause halts the clock but keeps the stream loaded. Idempotent.
func (h *Host) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}
	if h.sess == nil || !h.sess.playing {
		return nil
	}
	h.advanceLocked(h.now())
	h.sess.playing = false
	log.Debugf("paused at %.2fs", h.sess.pos)
	return nil
}

// Stop releases the stream entirely. Idempotent.
func (h *Host) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}
	if h.sess != nil {
		log.Debugf("stopped %s/%s", h.sess.instanceID, h.sess.pageID)
	}
	h.sess = nil
	return nil
}

// Toggle flips between playing and paused.
func (h *Host) Toggle() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}
	if h.sess == nil {
		return ErrNoStream
	}
	if h.sess.playing {
		h.advanceLocked(h.now())
		h.sess.playing = false
	} else {
		h.sess.playing = true
		h.sess.lastTick = h.now()
	}
	return nil
}

// Seek jumps to t, clamped to [0, duration]. A paused stream stays paused.
func (h *Host) Seek(t float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}
	if h.sess == nil {
		return ErrNoStream
	}
	h.sess.pos = clampPos(t, h.sess.clip.Duration())
	h.sess.lastTick = h.now()
	h.emitLocked(proto.VerbAudioTimeUpdate)
	return nil
}

// CurrentTime returns the playhead in seconds, advanced to now.
func (h *Host) CurrentTime() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess == nil {
		return 0
	}
	pos := h.sess.pos
	if h.sess.playing {
		pos += h.now().Sub(h.sess.lastTick).Seconds()
		if d := h.sess.clip.Duration(); pos > d {
			pos = d
		}
	}
	return pos
}

// Tick advances the clock and emits a time-update; on reaching the end of
// the stream it emits playback-complete and stops the clock.
func (h *Host) Tick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.sess == nil || !h.sess.playing {
		return
	}
	h.advanceLocked(h.now())

	s := h.sess
	dur := s.clip.Duration()
	if s.pos >= dur {
		s.pos = dur
		s.playing = false
		h.emitLocked(proto.VerbAudioTimeUpdate)
		ev := Event{
			Type:        proto.VerbMediaPlaybackComplete,
			InstanceID:  s.instanceID,
			PageID:      s.pageID,
			CurrentTime: dur,
			Duration:    dur,
		}
		h.mu.Unlock()
		h.emit(ev)
		h.mu.Lock()
		return
	}
	h.emitLocked(proto.VerbAudioTimeUpdate)
}

func (h *Host) advanceLocked(now time.Time) {
	s := h.sess
	if s == nil || !s.playing {
		return
	}
	s.pos += now.Sub(s.lastTick).Seconds()
	s.lastTick = now
}

// emitLocked sends an event without holding the mutex across the callback.
func (h *Host) emitLocked(typ string) {
	s := h.sess
	ev := Event{
		Type:        typ,
		InstanceID:  s.instanceID,
		PageID:      s.pageID,
		CurrentTime: s.pos,
		Duration:    s.clip.Duration(),
	}
	h.mu.Unlock()
	h.emit(ev)
	h.mu.Lock()
}

func (h *Host) emitError(err error) {
	kind := proto.ErrKindDecodeFailed
	if errors.Is(err, ErrAssetMissing) {
		kind = proto.ErrKindAssetMissing
	}
	ev := Event{Type: "error", Kind: kind, Message: err.Error()}
	h.mu.Unlock()
	h.emit(ev)
	h.mu.Lock()
}

// Stream returns the asset for (imageID, pageID) re-encoded as PCM16 WAV
// for the HTTP audio endpoint.
func (h *Host) Stream(imageID, pageID string) ([]byte, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHostClosed
	}
	h.mu.Unlock()

	clip, err := h.load(imageID, pageID)
	if err != nil {
		return nil, err
	}
	return EncodeWAV(clip), nil
}

// ClipFor exposes the decoded clip for waveform rendering.
func (h *Host) ClipFor(imageID, pageID string) (*Clip, error) {
	return h.load(imageID, pageID)
}

// Evict drops a cached decode, forcing the next load to re-decode. Used
// after a decode failure is repaired by re-uploading the asset.
func (h *Host) Evict(imageID, pageID string) {
	h.cache.drop(imageID, pageID)
}

// Close tears the host down. All later commands fail with ErrHostClosed;
// the coordinator treats that as host-unavailable and recreates the host.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.sess = nil
	close(h.stopCh)
	h.mu.Unlock()
}

func clampPos(t, dur float64) float64 {
	if t < 0 {
		return 0
	}
	if t > dur {
		return dur
	}
	return t
}

// sameOffset treats positions within half a tick as identical, so a
// redelivered play command does not restart the stream.
func sameOffset(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= TickInterval.Seconds()/2
}
