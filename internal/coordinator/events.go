package coordinator

import (
	"github.com/unlocklabs/unlock/internal/audio"
	"github.com/unlocklabs/unlock/internal/proto"
)

// Event types serialized onto the coordinator queue.
const (
	EvIntent           = "intent"
	EvAudioTimeUpdate  = proto.VerbAudioTimeUpdate
	EvPlaybackComplete = proto.VerbMediaPlaybackComplete
	EvAudioError       = "audio.error"
	EvTabURLChanged    = "tab.url-changed"
	EvTabActivated     = "tab.activated"
	EvTabClosed        = "tab.closed"
	EvPageComplete     = proto.VerbPageInteractionComplete
	EvDwellReached     = "dwell.threshold-reached"
	EvPacketDelete     = "packet.delete"

	evFlush = "internal.flush"
)

// Event is one unit of work for the queue. Which fields are meaningful
// depends on Type.
type Event struct {
	Type string

	Action proto.PlaybackAction // EvIntent

	InstanceID  string
	PageID      string
	URL         string
	TabID       int
	CurrentTime float64
	Duration    float64

	Kind    string // EvAudioError
	Message string

	// done, when non-nil, is closed once the event has been handled.
	// Used by Sync and tests.
	done chan struct{}
}

func fromAudioEvent(ev audio.Event) Event {
	switch ev.Type {
	case proto.VerbAudioTimeUpdate:
		return Event{
			Type:        EvAudioTimeUpdate,
			InstanceID:  ev.InstanceID,
			PageID:      ev.PageID,
			CurrentTime: ev.CurrentTime,
			Duration:    ev.Duration,
		}
	case proto.VerbMediaPlaybackComplete:
		return Event{
			Type:        EvPlaybackComplete,
			InstanceID:  ev.InstanceID,
			PageID:      ev.PageID,
			CurrentTime: ev.CurrentTime,
			Duration:    ev.Duration,
		}
	default:
		return Event{Type: EvAudioError, Kind: ev.Kind, Message: ev.Message}
	}
}

// Notice is a broadcast that is not a state snapshot (packet.deleted).
type Notice struct {
	Verb       string `json:"verb"`
	InstanceID string `json:"instance_id,omitempty"`
}
