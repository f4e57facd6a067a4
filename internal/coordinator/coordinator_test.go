package coordinator

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/unlocklabs/unlock/internal/audio"
	"github.com/unlocklabs/unlock/internal/packet"
	"github.com/unlocklabs/unlock/internal/proto"
	"github.com/unlocklabs/unlock/internal/storage"
)

const (
	instID    = "inst-1"
	imgID     = "img-1"
	artAlpha  = "https://example.com/articles/alpha"
	artBeta   = "https://Example.com/articles/Beta" // canonical: lowercase
	betaCanon = "https://example.com/articles/beta"
	mediaPage = "page-audio"
	quizPage  = "page-quiz"
)

// fakeHost stands in for the audio host. kill simulates the offscreen
// document being torn down underneath the coordinator.
type fakeHost struct {
	mu      sync.Mutex
	dead    bool
	playing bool
	pos     float64
	plays   []audio.PlayRequest
}

func (h *fakeHost) Play(req audio.PlayRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead {
		return audio.ErrHostClosed
	}
	h.plays = append(h.plays, req)
	h.pos = req.StartTime
	h.playing = true
	return nil
}

func (h *fakeHost) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead {
		return audio.ErrHostClosed
	}
	h.playing = false
	return nil
}

func (h *fakeHost) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead {
		return audio.ErrHostClosed
	}
	h.playing = false
	h.pos = 0
	return nil
}

func (h *fakeHost) Toggle() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead {
		return audio.ErrHostClosed
	}
	h.playing = !h.playing
	return nil
}

func (h *fakeHost) Seek(t float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead {
		return audio.ErrHostClosed
	}
	h.pos = t
	return nil
}

func (h *fakeHost) CurrentTime() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *fakeHost) Close() {
	h.mu.Lock()
	h.dead = true
	h.mu.Unlock()
}

func (h *fakeHost) kill() { h.Close() }

func (h *fakeHost) isPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

type fixture struct {
	t  *testing.T
	db *storage.DB
	c  *Coordinator

	mu    sync.Mutex
	hosts []*fakeHost
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	f := &fixture{t: t, db: db}
	f.c = New(Options{
		DB: db,
		NewHost: func(emit func(audio.Event)) AudioHost {
			h := &fakeHost{}
			f.mu.Lock()
			f.hosts = append(f.hosts, h)
			f.mu.Unlock()
			return h
		},
	})
	t.Cleanup(func() {
		f.c.Close()
		db.Close()
	})
	return f
}

func (f *fixture) host(i int) *fakeHost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hosts[i]
}

func (f *fixture) hostCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hosts)
}

// seed stores an instance with one item of each consumable kind: an
// external article, a generated quiz page and a narrated media page whose
// narration mentions the article and one standalone link.
func (f *fixture) seed() *packet.PacketInstance {
	f.t.Helper()
	inst := &packet.PacketInstance{
		InstanceID: instID,
		ImageID:    imgID,
		Topic:      "Rust Ownership",
		Contents: []packet.ContentItem{
			{Kind: packet.KindExternal, Title: "Alpha", URL: artAlpha},
			{Kind: packet.KindGenerated, Title: "Quiz", PageID: quizPage},
			{Kind: packet.KindMedia, Title: "Narration", PageID: mediaPage,
				MimeType: "audio/wav",
				Timestamps: []packet.Timestamp{
					{StartTime: 10, EndTime: 15, URL: artAlpha},
					{StartTime: 40, EndTime: 45, URL: artBeta},
				},
			},
		},
		VisitedUrls:             packet.NewStringSet(),
		VisitedGeneratedPageIds: packet.NewStringSet(),
		MentionedMediaLinks:     packet.NewStringSet(),
		Created:                 time.Now().UnixMilli(),
		Status:                  packet.StatusActive,
	}
	if err := f.db.PutInstance(inst); err != nil {
		f.t.Fatalf("seed instance: %v", err)
	}
	return inst
}

func (f *fixture) reload() *packet.PacketInstance {
	f.t.Helper()
	inst, err := f.db.GetInstance(instID)
	if err != nil {
		f.t.Fatalf("reload instance: %v", err)
	}
	return inst
}

func (f *fixture) play(pageID string) {
	f.c.Dispatch(Event{Type: EvIntent, Action: proto.PlaybackAction{
		Intent:     proto.IntentPlay,
		InstanceID: instID,
		PageID:     pageID,
	}})
	f.c.Sync()
}

func (f *fixture) intent(intent string) {
	f.c.Dispatch(Event{Type: EvIntent, Action: proto.PlaybackAction{Intent: intent}})
	f.c.Sync()
}

func (f *fixture) tick(t float64) {
	f.c.Dispatch(Event{
		Type:        EvAudioTimeUpdate,
		InstanceID:  instID,
		PageID:      mediaPage,
		CurrentTime: t,
		Duration:    60,
	})
	f.c.Sync()
}

func (f *fixture) flush() {
	f.c.Dispatch(Event{Type: evFlush})
	f.c.Sync()
}

func drain(ch chan proto.OverlaySnapshot) []proto.OverlaySnapshot {
	var out []proto.OverlaySnapshot
	for {
		select {
		case s := <-ch:
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestDwellMarksExternalVisited(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.play(mediaPage)

	// A messy variant of the article url lands in a focused tab.
	variant := "https://EXAMPLE.com/articles/alpha?utm_source=mail"
	f.c.Dispatch(Event{Type: EvTabActivated, TabID: 7})
	f.c.Dispatch(Event{Type: EvTabURLChanged, TabID: 7, URL: variant})
	f.c.Sync()

	if url, ok := f.c.dwell.Watching(7); !ok || url != variant {
		t.Fatalf("dwell timer not armed for tab 7, got %q %v", url, ok)
	}

	f.c.Dispatch(Event{Type: EvDwellReached, TabID: 7, URL: variant})
	f.c.Sync()

	inst := f.reload()
	if !inst.VisitedUrls.Has(artAlpha) {
		t.Fatalf("visited urls = %v, want %s", inst.VisitedUrls.Sorted(), artAlpha)
	}
	snap := f.c.State()
	if snap.CompletedCount != 1 || snap.TotalCount != 3 {
		t.Fatalf("progress = %d/%d, want 1/3", snap.CompletedCount, snap.TotalCount)
	}

	// A second firing for the same url changes nothing.
	v1 := snap.Version
	f.c.Dispatch(Event{Type: EvDwellReached, TabID: 7, URL: variant})
	f.c.Sync()
	if got := f.c.State(); got.Version != v1 || got.CompletedCount != 1 {
		t.Fatalf("duplicate dwell changed state: v%d %d/%d", got.Version, got.CompletedCount, got.TotalCount)
	}
}

func TestBlurCancelsDwell(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.play(mediaPage)

	f.c.Dispatch(Event{Type: EvTabActivated, TabID: 1})
	f.c.Dispatch(Event{Type: EvTabURLChanged, TabID: 1, URL: artAlpha})
	f.c.Sync()
	if _, ok := f.c.dwell.Watching(1); !ok {
		t.Fatal("dwell timer not armed")
	}

	// Focus moves to an unrelated tab before the threshold.
	f.c.Dispatch(Event{Type: EvTabActivated, TabID: 2})
	f.c.Sync()
	if _, ok := f.c.dwell.Watching(1); ok {
		t.Fatal("dwell timer survived blur")
	}

	// Returning re-arms for the still unvisited url.
	f.c.Dispatch(Event{Type: EvTabActivated, TabID: 1})
	f.c.Sync()
	if url, ok := f.c.dwell.Watching(1); !ok || url != artAlpha {
		t.Fatalf("dwell timer not re-armed, got %q %v", url, ok)
	}
}

func TestMentionSequence(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ch, cancel := f.c.Subscribe()
	defer cancel()

	f.play(mediaPage)
	f.tick(9.9)
	drain(ch)

	f.tick(10.1) // crosses the alpha window
	f.tick(10.4)

	snaps := drain(ch)
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	first, second := snaps[0], snaps[1]
	if !first.NewLinkMentioned || first.LastMentionedLink != artAlpha {
		t.Fatalf("first snapshot = new:%v link:%q", first.NewLinkMentioned, first.LastMentionedLink)
	}
	if second.NewLinkMentioned {
		t.Fatal("new-link flag survived a second broadcast")
	}
	if second.LastMentionedLink != artAlpha {
		t.Fatalf("last mentioned link lost: %q", second.LastMentionedLink)
	}
	if second.Version <= first.Version {
		t.Fatalf("versions not increasing: %d then %d", first.Version, second.Version)
	}

	// The mention write is debounced, not immediate.
	if inst := f.reload(); inst.MentionedMediaLinks.Has(artAlpha) {
		t.Fatal("mention persisted before the debounce fired")
	}
	f.flush()
	if inst := f.reload(); !inst.MentionedMediaLinks.Has(artAlpha) {
		t.Fatal("mention not persisted after flush")
	}
}

func TestAllLinksMentionedMarksMediaVisited(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.play(mediaPage)

	f.tick(10.1) // alpha
	f.tick(41)   // beta: every narrated link now mentioned

	inst := f.reload()
	if !inst.MentionedMediaLinks.Has(betaCanon) {
		t.Fatalf("mentions = %v", inst.MentionedMediaLinks.Sorted())
	}
	if !inst.VisitedGeneratedPageIds.Has(mediaPage) {
		t.Fatal("media page not marked visited after all links mentioned")
	}
	if snap := f.c.State(); snap.CompletedCount != 1 {
		t.Fatalf("completed = %d, want 1 (media only)", snap.CompletedCount)
	}
}

func TestPlaybackCompleteMarksVisited(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.play(mediaPage)
	f.tick(10.1)

	f.c.Dispatch(Event{
		Type:       EvPlaybackComplete,
		InstanceID: instID,
		PageID:     mediaPage,
		Duration:   60,
	})
	f.c.Sync()

	inst := f.reload()
	if !inst.VisitedGeneratedPageIds.Has(mediaPage) {
		t.Fatal("end of stream did not mark the media page visited")
	}
	// End of stream persists pending mentions too.
	if !inst.MentionedMediaLinks.Has(artAlpha) {
		t.Fatal("pending mention lost at end of stream")
	}
	if snap := f.c.State(); snap.IsPlaying {
		t.Fatal("still playing after completion")
	}
}

func TestStopDiscardsLateAudioEvents(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.play(mediaPage)
	f.tick(10.2) // alpha mentioned

	f.intent(proto.IntentStop)

	// A tick that was already in flight when the user stopped.
	f.tick(41)

	inst := f.reload()
	if !inst.MentionedMediaLinks.Has(artAlpha) {
		t.Fatalf("mentions = %v, want alpha persisted by stop", inst.MentionedMediaLinks.Sorted())
	}
	if inst.MentionedMediaLinks.Has(betaCanon) {
		t.Fatal("late tick mutated mentions after stop")
	}
	snap := f.c.State()
	if snap.IsVisible || snap.IsPlaying || snap.InstanceID != "" {
		t.Fatalf("stop left residue: %+v", snap)
	}
}

func TestDeleteWhileActive(t *testing.T) {
	f := newFixture(t)
	f.seed()
	nch, ncancel := f.c.SubscribeNotices()
	defer ncancel()

	f.play(mediaPage)
	f.tick(10.2)

	f.c.Dispatch(Event{Type: EvPacketDelete, InstanceID: instID})
	f.c.Sync()

	select {
	case n := <-nch:
		if n.Verb != proto.VerbPacketDeleted || n.InstanceID != instID {
			t.Fatalf("notice = %+v", n)
		}
	default:
		t.Fatal("no packet.deleted notice")
	}

	snap := f.c.State()
	if snap.IsVisible || snap.IsPlaying || snap.InstanceID != "" {
		t.Fatalf("final snapshot not cleared: %+v", snap)
	}
	if _, err := f.db.GetInstance(instID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("instance still stored: %v", err)
	}

	// A play intent referencing the dead instance is stale, not fatal.
	f.play(mediaPage)
	st, ok := f.c.LastError()
	if !ok || st.Kind != proto.ErrKindStaleEvent {
		t.Fatalf("error = %+v %v, want stale-event", st, ok)
	}
	if f.c.State().IsPlaying {
		t.Fatal("playback started for deleted instance")
	}
}

func TestHostRestartResumes(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.play(mediaPage)
	f.tick(30) // resume position lands in session kv

	f.host(0).kill()
	f.intent(proto.IntentPause)

	if n := f.hostCount(); n != 2 {
		t.Fatalf("hosts created = %d, want 2", n)
	}
	h2 := f.host(1)
	h2.mu.Lock()
	plays := append([]audio.PlayRequest(nil), h2.plays...)
	h2.mu.Unlock()
	if len(plays) == 0 {
		t.Fatal("new host never received the resume play")
	}
	if math.Abs(plays[0].StartTime-30) > 0.01 {
		t.Fatalf("resumed at %.3fs, want 30s", plays[0].StartTime)
	}
	if plays[0].InstanceID != instID || plays[0].PageID != mediaPage {
		t.Fatalf("resume request = %+v", plays[0])
	}

	// The pause the user asked for still lands on the new host.
	if f.c.State().IsPlaying {
		t.Fatal("state still playing after pause")
	}
	if h2.isPlaying() {
		t.Fatal("new host still playing after pause")
	}
	st, ok := f.c.LastError()
	if !ok || st.Kind != proto.ErrKindHostUnavailable {
		t.Fatalf("error = %+v %v, want host-unavailable", st, ok)
	}
}

func TestSeekSwallowsSkippedWindows(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.play(mediaPage)

	f.c.Dispatch(Event{Type: EvIntent, Action: proto.PlaybackAction{
		Intent:   proto.IntentSeek,
		SeekTime: 42,
	}})
	f.c.Sync()

	// Windows jumped over never fire; only ones crossed after the seek do.
	f.tick(43)
	f.flush()
	inst := f.reload()
	if len(inst.MentionedMediaLinks) != 0 {
		t.Fatalf("forward seek yielded mentions: %v", inst.MentionedMediaLinks.Sorted())
	}

	// Seeking back re-arms them.
	f.c.Dispatch(Event{Type: EvIntent, Action: proto.PlaybackAction{
		Intent:   proto.IntentSeek,
		SeekTime: 5,
	}})
	f.c.Sync()
	f.tick(12)
	f.flush()
	if inst := f.reload(); !inst.MentionedMediaLinks.Has(artAlpha) {
		t.Fatal("backward seek did not re-arm the alpha window")
	}
}

func TestMentionWindowOpeningAtZero(t *testing.T) {
	f := newFixture(t)
	inst := &packet.PacketInstance{
		InstanceID: instID,
		ImageID:    imgID,
		Topic:      "Go Generics",
		Contents: []packet.ContentItem{
			{Kind: packet.KindMedia, Title: "Narration", PageID: mediaPage,
				MimeType: "audio/wav",
				Timestamps: []packet.Timestamp{
					{StartTime: 0, EndTime: 1, URL: artAlpha},
					{StartTime: 1, EndTime: 2, URL: artBeta},
				},
			},
		},
		VisitedUrls:             packet.NewStringSet(),
		VisitedGeneratedPageIds: packet.NewStringSet(),
		MentionedMediaLinks:     packet.NewStringSet(),
		Created:                 time.Now().UnixMilli(),
		Status:                  packet.StatusActive,
	}
	if err := f.db.PutInstance(inst); err != nil {
		t.Fatalf("seed instance: %v", err)
	}
	ch, cancel := f.c.Subscribe()
	defer cancel()

	f.play(mediaPage)
	drain(ch)

	// The very first tick crosses the window that opens at 0:00. Playing
	// from the start must not count it as already behind the cursor.
	f.tick(0.5)
	snaps := drain(ch)
	if len(snaps) == 0 {
		t.Fatal("no snapshot for the zero-start window")
	}
	if s := snaps[0]; !s.NewLinkMentioned || s.LastMentionedLink != artAlpha {
		t.Fatalf("snapshot = new:%v link:%q, want %s", s.NewLinkMentioned, s.LastMentionedLink, artAlpha)
	}

	f.tick(1.2) // crosses the beta window
	f.flush()
	got := f.reload()
	if !got.MentionedMediaLinks.Has(artAlpha) || !got.MentionedMediaLinks.Has(betaCanon) {
		t.Fatalf("mentions = %v", got.MentionedMediaLinks.Sorted())
	}
	if !got.VisitedGeneratedPageIds.Has(mediaPage) {
		t.Fatal("media page not visited after every narrated link was mentioned")
	}
}

func TestNavigationAdoptsMediaLessPacket(t *testing.T) {
	f := newFixture(t)
	inst := &packet.PacketInstance{
		InstanceID: instID,
		ImageID:    imgID,
		Topic:      "Reading List",
		Contents: []packet.ContentItem{
			{Kind: packet.KindExternal, Title: "Alpha", URL: artAlpha},
		},
		VisitedUrls:             packet.NewStringSet(),
		VisitedGeneratedPageIds: packet.NewStringSet(),
		MentionedMediaLinks:     packet.NewStringSet(),
		Created:                 time.Now().UnixMilli(),
		Status:                  packet.StatusActive,
	}
	if err := f.db.PutInstance(inst); err != nil {
		t.Fatalf("seed instance: %v", err)
	}

	// No play intent ever arrives: the packet has nothing to play. Visiting
	// one of its links is what binds the coordinator to it.
	f.c.Dispatch(Event{Type: EvTabActivated, TabID: 3})
	f.c.Dispatch(Event{Type: EvTabURLChanged, TabID: 3, URL: artAlpha})
	f.c.Sync()

	if url, ok := f.c.dwell.Watching(3); !ok || url != artAlpha {
		t.Fatalf("dwell timer not armed after adoption, got %q %v", url, ok)
	}
	snap := f.c.State()
	if snap.InstanceID != instID || !snap.IsVisible {
		t.Fatalf("snapshot after adoption = %+v", snap)
	}

	f.c.Dispatch(Event{Type: EvDwellReached, TabID: 3, URL: artAlpha})
	f.c.Sync()

	got := f.reload()
	if !got.VisitedUrls.Has(artAlpha) {
		t.Fatalf("visited urls = %v, want %s", got.VisitedUrls.Sorted(), artAlpha)
	}
	if got.Status != packet.StatusComplete {
		t.Fatalf("status = %q, want complete", got.Status)
	}
	if snap := f.c.State(); snap.Percent != 100 {
		t.Fatalf("percent = %d, want 100", snap.Percent)
	}
}

func TestPageInteractionComplete(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.play(mediaPage)

	f.c.Dispatch(Event{Type: EvPageComplete, PageID: quizPage})
	f.c.Sync()

	inst := f.reload()
	if !inst.VisitedGeneratedPageIds.Has(quizPage) {
		t.Fatal("quiz page not marked visited")
	}
	if snap := f.c.State(); snap.CompletedCount != 1 {
		t.Fatalf("completed = %d, want 1", snap.CompletedCount)
	}
}

func TestFullConsumptionCompletesInstance(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.play(mediaPage)

	f.c.Dispatch(Event{Type: EvDwellReached, TabID: 1, URL: artAlpha})
	f.c.Dispatch(Event{Type: EvPageComplete, PageID: quizPage})
	f.c.Dispatch(Event{
		Type:       EvPlaybackComplete,
		InstanceID: instID,
		PageID:     mediaPage,
		Duration:   60,
	})
	f.c.Sync()

	inst := f.reload()
	if inst.Status != packet.StatusComplete {
		t.Fatalf("status = %q, want complete", inst.Status)
	}
	snap := f.c.State()
	if snap.Percent != 100 || snap.CompletedCount != 3 {
		t.Fatalf("progress = %d%% (%d/%d)", snap.Percent, snap.CompletedCount, snap.TotalCount)
	}
}

func TestMediaActiveURLIsAbsolute(t *testing.T) {
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	base := "http://127.0.0.1:8976"
	c := New(Options{
		DB:      db,
		BaseURL: base,
		NewHost: func(emit func(audio.Event)) AudioHost { return &fakeHost{} },
	})
	t.Cleanup(func() {
		c.Close()
		db.Close()
	})

	f := &fixture{t: t, db: db, c: c}
	f.seed()
	f.play(mediaPage)

	// The same absolute url the panel cards carry, so content matching
	// works on one form.
	want := base + "/pages/" + imgID + "/" + mediaPage
	if got := c.State().ActiveURL; got != want {
		t.Fatalf("active url = %q, want %q", got, want)
	}
}

func TestAudioEmitNeverBlocksOnFullQueue(t *testing.T) {
	// Host emissions can originate from the loop goroutine itself, so they
	// must not wait on queue capacity.
	c := &Coordinator{
		events: make(chan Event, 1),
		quit:   make(chan struct{}),
	}
	c.events <- Event{Type: evFlush} // fill the queue

	done := make(chan struct{})
	go func() {
		c.enqueueAudioEvent(audio.Event{Type: proto.VerbAudioTimeUpdate, CurrentTime: 3})
		c.enqueueAudioEvent(audio.Event{Type: proto.VerbMediaPlaybackComplete})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("host emission blocked on a full queue")
	}

	// The position snapshot is droppable; the terminal event is not and
	// lands once the queue drains.
	<-c.events
	select {
	case ev := <-c.events:
		if ev.Type != EvPlaybackComplete {
			t.Fatalf("got %v, want playback-complete", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("terminal event lost under backpressure")
	}
	if len(c.events) != 0 {
		t.Fatal("dropped time update was queued anyway")
	}
}

func TestResumePositionSurvivesPlay(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.play(mediaPage)
	f.tick(25.5)
	f.intent(proto.IntentPause)

	// A fresh play without an explicit offset resumes where it left off.
	f.play(mediaPage)
	h := f.host(0)
	h.mu.Lock()
	last := h.plays[len(h.plays)-1]
	h.mu.Unlock()
	if math.Abs(last.StartTime-25.5) > 0.01 {
		t.Fatalf("resumed at %.3fs, want 25.5s", last.StartTime)
	}
}
