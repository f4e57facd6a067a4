package coordinator

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/unlocklabs/unlock/internal/audio"
	"github.com/unlocklabs/unlock/internal/mention"
	"github.com/unlocklabs/unlock/internal/packet"
	"github.com/unlocklabs/unlock/internal/proto"
	"github.com/unlocklabs/unlock/internal/storage"
)

// ── Intents ──────────────────────────────────────────────────────────────────

func (c *Coordinator) handleIntent(a proto.PlaybackAction) {
	switch a.Intent {
	case proto.IntentPlay:
		c.intentPlay(a)
	case proto.IntentPause:
		c.intentPause()
	case proto.IntentToggle:
		c.intentToggle()
	case proto.IntentStop:
		c.intentStop()
	case proto.IntentSeek:
		c.intentSeek(a.SeekTime)
	default:
		c.setError(proto.ErrKindInvalidIntent, fmt.Sprintf("unknown intent %q", a.Intent))
	}
}

func (c *Coordinator) intentPlay(a proto.PlaybackAction) {
	if a.InstanceID == "" || a.PageID == "" {
		c.setError(proto.ErrKindInvalidIntent, "play requires instance_id and page_id")
		return
	}

	if c.inst == nil || c.inst.InstanceID != a.InstanceID {
		inst, err := c.db.GetInstance(a.InstanceID)
		if err != nil {
			// Deleted or never existed: the intent references a dead world.
			c.setError(proto.ErrKindStaleEvent, "play for unknown instance "+a.InstanceID)
			return
		}
		c.swapInstance(inst)
	}

	item := packet.FindByPageID(c.inst, a.PageID)
	if item == nil || item.Kind != packet.KindMedia {
		c.setError(proto.ErrKindInvalidIntent, "no media item with page id "+a.PageID)
		return
	}

	start := a.SeekTime
	if start == 0 {
		start = c.resumePosition(a.InstanceID, a.PageID)
	}

	// Optimistic transition; reverted if the host refuses the stream.
	prev := c.state
	c.state.instanceID = c.inst.InstanceID
	c.state.pageID = a.PageID
	c.state.activeURL = c.mediaLogicalURL(c.inst, item)
	c.state.isPlaying = true
	if !c.state.isVisible {
		c.state.isVisible = true
		c.state.visibleSince = c.now()
	}

	err := c.callHost(func() error {
		return c.host.Play(audio.PlayRequest{
			InstanceID: c.inst.InstanceID,
			ImageID:    c.inst.ImageID,
			PageID:     a.PageID,
			StartTime:  start,
		})
	})
	if err != nil {
		c.state = prev
		c.broadcast()
		return
	}

	c.rebuildCursor(item, start)
	log.Infof("playing %s/%s from %.1fs", c.inst.InstanceID, a.PageID, start)
	c.broadcast()
}

func (c *Coordinator) intentPause() {
	if c.state.instanceID == "" {
		c.setError(proto.ErrKindInvalidIntent, "pause with no active stream")
		return
	}
	if err := c.callHost(func() error { return c.host.Pause() }); err == nil {
		c.state.isPlaying = false
	}
	c.broadcast()
}

func (c *Coordinator) intentToggle() {
	if c.state.instanceID == "" {
		c.setError(proto.ErrKindInvalidIntent, "toggle with no active stream")
		return
	}
	if err := c.callHost(func() error { return c.host.Toggle() }); err == nil {
		c.state.isPlaying = !c.state.isPlaying
	}
	c.broadcast()
}

// intentStop is the full teardown path shared with packet deletion:
// stop the host, flush pending persistence, clear PlaybackState, and
// broadcast one final snapshot with isVisible=false.
func (c *Coordinator) intentStop() {
	_ = c.callHost(func() error { return c.host.Stop() })
	c.flushMentions()
	c.persistInstanceEager()
	c.dwell.CancelAll()

	c.state = playbackState{}
	c.inst = nil
	c.cursor = nil
	c.cursorPageID = ""
	c.broadcast()
	log.Infof("playback stopped")
}

func (c *Coordinator) intentSeek(t float64) {
	if c.state.instanceID == "" || c.state.pageID == "" {
		c.setError(proto.ErrKindInvalidIntent, "seek with no active stream")
		return
	}
	if err := c.callHost(func() error { return c.host.Seek(t) }); err != nil {
		return
	}
	if c.cursor != nil {
		// Windows skipped by a forward seek are not counted as mentioned;
		// a backward seek re-arms them.
		c.cursor.Seek(t)
	}
	c.state.currentTime = t
	c.saveResumePosition(t)
	c.broadcast()
}

// callHost runs a host command, transparently recreating the host when it
// has disappeared and resuming the active stream from the last persisted
// position.
func (c *Coordinator) callHost(cmd func() error) error {
	err := cmd()
	if err == nil {
		return nil
	}
	if !errors.Is(err, audio.ErrHostClosed) {
		return err
	}

	log.Warnf("audio host gone, recreating")
	c.setError(proto.ErrKindHostUnavailable, "audio host restarted")
	c.host = c.newHost(c.enqueueAudioEvent)

	if c.state.instanceID != "" && c.state.pageID != "" && c.inst != nil {
		pos := c.resumePosition(c.state.instanceID, c.state.pageID)
		rerr := c.host.Play(audio.PlayRequest{
			InstanceID: c.state.instanceID,
			ImageID:    c.inst.ImageID,
			PageID:     c.state.pageID,
			StartTime:  pos,
		})
		if rerr != nil {
			return rerr
		}
		if !c.state.isPlaying {
			_ = c.host.Pause()
		}
		log.Infof("resumed %s/%s at %.1fs", c.state.instanceID, c.state.pageID, pos)
	}
	// The original command still has to land on the new host.
	return cmd()
}

// ── Audio events ─────────────────────────────────────────────────────────────

// stale reports whether an audio event belongs to anything but the active
// stream. Stale events are discarded without touching state.
func (c *Coordinator) stale(instanceID, pageID string) bool {
	return c.state.instanceID == "" ||
		c.state.instanceID != instanceID ||
		c.state.pageID != pageID
}

func (c *Coordinator) handleTimeUpdate(ev Event) {
	if c.stale(ev.InstanceID, ev.PageID) {
		log.Debugf("stale time-update %s/%s", ev.InstanceID, ev.PageID)
		return
	}
	c.state.currentTime = ev.CurrentTime
	c.state.duration = ev.Duration
	c.saveResumePosition(ev.CurrentTime)

	if c.cursor != nil {
		for _, raw := range c.cursor.Advance(ev.CurrentTime) {
			c.recordMention(raw)
		}
	}
	c.checkMediaVisited(ev.PageID)
	c.broadcast()
}

// recordMention adds a crossed mention window to the instance and arms the
// one-broadcast new-link flag. MentionedMediaLinks only ever holds
// timestamp urls of the instance's own media items.
func (c *Coordinator) recordMention(raw string) {
	if !packet.MediaLinkKnown(c.inst, raw, c.norm) {
		return
	}
	canon := c.norm.Canonical(raw)
	if c.inst.MentionedMediaLinks.Add(canon) {
		c.mentionDirty = true
		c.armFlush()
	}
	c.state.lastMentionedLink = raw
	c.state.newLinkMentioned = true
}

// checkMediaVisited applies the all-links-mentioned rule after a tick.
func (c *Coordinator) checkMediaVisited(pageID string) {
	item := packet.FindByPageID(c.inst, pageID)
	if item == nil || item.Kind != packet.KindMedia || len(item.Timestamps) == 0 {
		return
	}
	if c.inst.VisitedGeneratedPageIds.Has(pageID) {
		return
	}
	if !packet.ItemComplete(c.inst, item, c.norm) {
		return
	}
	c.inst.VisitedGeneratedPageIds.Add(pageID)
	log.Infof("media %s visited (all links mentioned)", pageID)
	c.persistInstanceEager()
	c.maybeComplete()
}

func (c *Coordinator) handlePlaybackComplete(ev Event) {
	if c.stale(ev.InstanceID, ev.PageID) {
		log.Debugf("stale playback-complete %s/%s", ev.InstanceID, ev.PageID)
		return
	}
	c.state.isPlaying = false
	c.state.currentTime = ev.Duration
	c.inst.VisitedGeneratedPageIds.Add(ev.PageID)
	c.flushMentions()
	c.persistInstanceEager()
	c.maybeComplete()
	log.Infof("media %s finished", ev.PageID)
	c.broadcast()
}

func (c *Coordinator) handleAudioError(ev Event) {
	c.setError(ev.Kind, ev.Message)
	if ev.Kind == proto.ErrKindAssetMissing || ev.Kind == proto.ErrKindDecodeFailed {
		// The playback intent is dropped, not the whole session.
		c.state.isPlaying = false
		c.broadcast()
	}
}

// ── Tab events ───────────────────────────────────────────────────────────────

func (c *Coordinator) handleTabURLChanged(tabID int, url string) {
	c.tabs.URLChanged(tabID, url)
	// Navigating away always cancels the tab's dwell timer.
	c.dwell.Cancel(tabID)

	if c.inst == nil {
		c.adoptInstanceFor(url)
	}
	if c.inst == nil {
		return
	}
	item := packet.FindByURL(c.inst, url, c.norm)
	if item == nil {
		c.persistBrowserState()
		return
	}

	c.state.activeURL = url
	if item.Kind == packet.KindExternal && c.tabs.IsFocused(tabID) &&
		!c.inst.VisitedUrls.Has(c.norm.Canonical(url)) {
		c.dwell.Arm(tabID, url)
	}
	c.persistBrowserState()
	c.broadcast()
}

func (c *Coordinator) handleTabActivated(tabID int) {
	c.tabs.Activated(tabID)
	// Focus moved: only the focused tab may accrue dwell.
	c.dwell.CancelAll()

	url, ok := c.tabs.URLOf(tabID)
	if !ok {
		return
	}
	if c.inst == nil {
		c.adoptInstanceFor(url)
	}
	if c.inst == nil {
		return
	}
	item := packet.FindByURL(c.inst, url, c.norm)
	if item == nil {
		return
	}
	c.state.activeURL = url
	if item.Kind == packet.KindExternal && !c.inst.VisitedUrls.Has(c.norm.Canonical(url)) {
		c.dwell.Arm(tabID, url)
	}
	c.broadcast()
}

func (c *Coordinator) handleTabClosed(tabID int) {
	c.dwell.Cancel(tabID)
	c.tabs.Closed(tabID)
	if c.inst != nil {
		c.persistBrowserState()
	}
}

// ── Adjudicator events ───────────────────────────────────────────────────────

func (c *Coordinator) handleDwellReached(tabID int, url string) {
	if c.inst == nil {
		return
	}
	item := packet.FindByURL(c.inst, url, c.norm)
	if item == nil || item.Kind != packet.KindExternal {
		return
	}
	if !c.inst.VisitedUrls.Add(c.norm.Canonical(url)) {
		return // set semantics: second rule firing is a no-op
	}
	log.Infof("dwell visit: %s", url)
	c.persistInstanceEager()
	c.maybeComplete()
	c.broadcast()
}

func (c *Coordinator) handlePageComplete(pageID, url string) {
	if c.inst == nil {
		return
	}
	if pageID == "" && url != "" {
		if item := packet.FindByURL(c.inst, url, c.norm); item != nil {
			if item.Kind == packet.KindExternal {
				if c.inst.VisitedUrls.Add(c.norm.Canonical(url)) {
					c.persistInstanceEager()
					c.maybeComplete()
					c.broadcast()
				}
				return
			}
			pageID = item.PageID
		}
	}
	if pageID == "" {
		return
	}
	if item := packet.FindByPageID(c.inst, pageID); item == nil {
		return
	}
	if !c.inst.VisitedGeneratedPageIds.Add(pageID) {
		return
	}
	log.Infof("page %s completed", pageID)
	c.persistInstanceEager()
	c.maybeComplete()
	c.broadcast()
}

// ── Deletion ─────────────────────────────────────────────────────────────────

func (c *Coordinator) handlePacketDelete(instanceID string) {
	wasActive := c.inst != nil && c.inst.InstanceID == instanceID

	if wasActive {
		_ = c.callHost(func() error { return c.host.Stop() })
		c.dwell.CancelAll()
		c.mentionDirty = false // record is about to be deleted
		c.state = playbackState{}
		c.inst = nil
		c.cursor = nil
		c.cursorPageID = ""
	}

	if err := c.db.DeleteInstance(instanceID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.setError(proto.ErrKindPersistenceFailed, err.Error())
	}
	log.Infof("packet %s deleted (active=%v)", instanceID, wasActive)

	if wasActive {
		c.broadcast() // final snapshot, isVisible=false
	}
	c.notify(Notice{Verb: proto.VerbPacketDeleted, InstanceID: instanceID})
}

// ── Instance plumbing ────────────────────────────────────────────────────────

func (c *Coordinator) swapInstance(inst *packet.PacketInstance) {
	if c.inst != nil && c.inst.InstanceID != inst.InstanceID {
		c.flushMentions()
		c.persistInstanceEager()
		c.dwell.CancelAll()
	}
	c.inst = inst
	c.cursor = nil
	c.cursorPageID = ""
}

// adoptInstanceFor binds the coordinator to a stored instance that tracks
// url. Packets without a media item never see a play intent, so navigating
// to one of their links is their activation path.
func (c *Coordinator) adoptInstanceFor(url string) {
	insts, err := c.db.ListInstances()
	if err != nil {
		log.Warnf("instance lookup for %s failed: %v", url, err)
		return
	}
	for _, inst := range insts {
		if inst.Status == packet.StatusComplete {
			continue
		}
		if packet.FindByURL(inst, url, c.norm) == nil {
			continue
		}
		c.swapInstance(inst)
		c.state.instanceID = inst.InstanceID
		if !c.state.isVisible {
			c.state.isVisible = true
			c.state.visibleSince = c.now()
		}
		log.Infof("adopted instance %s on navigation to %s", inst.InstanceID, url)
		return
	}
}

func (c *Coordinator) rebuildCursor(item *packet.ContentItem, startTime float64) {
	if c.cursorPageID == item.PageID && c.cursor != nil {
		c.cursor.Seek(startTime)
		return
	}
	idx := mention.NewIndex(item.Timestamps)
	c.cursor = idx.Cursor()
	c.cursor.Seek(startTime)
	c.cursorPageID = item.PageID
}

// mediaLogicalURL is the url a media item is addressed by in ActiveURL and
// open_content: its published url when it has one, else the absolute engine
// page url, the same form the panel cards carry.
func (c *Coordinator) mediaLogicalURL(inst *packet.PacketInstance, item *packet.ContentItem) string {
	if item.PublishedURL != "" {
		return item.PublishedURL
	}
	return c.baseURL + "/pages/" + inst.ImageID + "/" + item.PageID
}

// ── Persistence policy ───────────────────────────────────────────────────────

// persistInstanceEager writes the instance now. Visited-set additions are
// never debounced because they govern completion. One retry; after that the
// in-memory record stays authoritative until the next write opportunity.
func (c *Coordinator) persistInstanceEager() {
	if c.inst == nil {
		return
	}
	if err := c.db.PutInstance(c.inst); err != nil {
		log.Warnf("persist instance failed, retrying: %v", err)
		if err := c.db.PutInstance(c.inst); err != nil {
			c.setError(proto.ErrKindPersistenceFailed, err.Error())
		}
	}
	c.mentionDirty = false
}

// armFlush schedules a debounced mention write.
func (c *Coordinator) armFlush() {
	if c.flushArmed {
		return
	}
	c.flushArmed = true
	time.AfterFunc(MentionDebounce, func() {
		c.Dispatch(Event{Type: evFlush})
	})
}

// flushMentions writes the instance if mention additions are pending.
func (c *Coordinator) flushMentions() {
	if !c.mentionDirty || c.inst == nil {
		c.mentionDirty = false
		return
	}
	c.persistInstanceEager()
}

func (c *Coordinator) persistBrowserState() {
	if c.inst == nil {
		return
	}
	st := &packet.BrowserState{
		InstanceID: c.inst.InstanceID,
		TabToURL:   c.tabs.Snapshot(),
	}
	if err := c.db.PutBrowserState(st); err != nil {
		log.Debugf("persist browser state: %v", err)
	}
}

// maybeComplete flips the instance to complete when progress reaches 100%.
func (c *Coordinator) maybeComplete() {
	if c.inst == nil || c.inst.Status == packet.StatusComplete {
		return
	}
	if packet.ComputeProgress(c.inst, c.norm).Percent == 100 {
		c.inst.Status = packet.StatusComplete
		log.Infof("packet %s complete", c.inst.InstanceID)
		c.persistInstanceEager()
	}
}

// ── Resume positions ─────────────────────────────────────────────────────────

func (c *Coordinator) saveResumePosition(t float64) {
	key := proto.SessionKey(c.state.instanceID, c.state.pageID)
	if err := c.db.SessionPut(key, strconv.FormatFloat(t, 'f', 3, 64)); err != nil {
		log.Debugf("save resume position: %v", err)
	}
}

func (c *Coordinator) resumePosition(instanceID, pageID string) float64 {
	v, err := c.db.SessionGet(proto.SessionKey(instanceID, pageID))
	if err != nil {
		return 0
	}
	t, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return t
}
