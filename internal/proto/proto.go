package proto

import "time"

// Message verbs exchanged between the coordinator and the browser views.
const (
	// View → coordinator
	VerbRequestPlaybackAction   = "request_playback_action"
	VerbGetPlaybackState        = "get_playback_state"
	VerbOpenContent             = "open_content"
	VerbPageInteractionComplete = "page_interaction_complete"

	// Coordinator → views (broadcast)
	VerbSyncOverlayState = "sync_overlay_state"
	VerbPacketDeleted    = "packet.deleted"

	// Audio host → coordinator
	VerbAudioTimeUpdate       = "audio_time_update"
	VerbMediaPlaybackComplete = "media_playback_complete"
)

// Playback intents carried by request_playback_action.
const (
	IntentPlay   = "play"
	IntentPause  = "pause"
	IntentToggle = "toggle"
	IntentStop   = "stop"
	IntentSeek   = "seek"
)

// Error kinds surfaced on the wire. Views render these as a short status
// string and never crash on them.
const (
	ErrKindAssetMissing      = "asset-missing"
	ErrKindDecodeFailed      = "decode-failed"
	ErrKindHostUnavailable   = "host-unavailable"
	ErrKindPersistenceFailed = "persistence-failed"
	ErrKindStaleEvent        = "stale-event"
	ErrKindInvalidIntent     = "invalid-intent"
)

// PlaybackAction is the body of request_playback_action.
type PlaybackAction struct {
	Intent     string  `json:"intent"` // play|pause|toggle|stop|seek
	InstanceID string  `json:"instance_id,omitempty"`
	PageID     string  `json:"page_id,omitempty"`
	SeekTime   float64 `json:"seek_time,omitempty"`
}

// OverlaySnapshot is the single authoritative projection broadcast as
// sync_overlay_state. Views apply a snapshot only if its Version is newer
// than the last one they applied.
type OverlaySnapshot struct {
	Version           uint64  `json:"version"`
	InstanceID        string  `json:"instance_id,omitempty"`
	Topic             string  `json:"topic,omitempty"`
	ActiveURL         string  `json:"active_url,omitempty"`
	PageID            string  `json:"page_id,omitempty"`
	IsPlaying         bool    `json:"is_playing"`
	IsVisible         bool    `json:"is_visible"`
	Animate           bool    `json:"animate"`
	LastMentionedLink string  `json:"last_mentioned_link,omitempty"`
	NewLinkMentioned  bool    `json:"new_link_mentioned"`
	CurrentTime       float64 `json:"current_time"`
	Duration          float64 `json:"duration"`
	CompletedCount    int     `json:"completed_count"`
	TotalCount        int     `json:"total_count"`
	Percent           int     `json:"percent"`
	TS                int64   `json:"ts"`
}

// OverlayIntent is what an overlay WebSocket client sends upstream.
type OverlayIntent struct {
	Verb   string         `json:"verb"` // request_playback_action | open_content
	Action PlaybackAction `json:"action"`
	URL    string         `json:"url,omitempty"`
}

// ErrorStatus is a non-fatal error pushed to views.
type ErrorStatus struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionKey builds the session KV key that stores the last known playback
// position for resume after a host restart.
func SessionKey(instanceID, pageID string) string {
	return "audio_progress_" + instanceID + "_" + pageID
}

// PlaybackStateKey is the session KV key for the PlaybackState mirror.
const PlaybackStateKey = "playback_state"

func NowMillis() int64 { return time.Now().UnixMilli() }
