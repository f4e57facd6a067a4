// Package packet defines the packet data model: immutable PacketImage
// templates, their ContentItem variants, and the mutable PacketInstance
// playback record, together with the pure progress functions over it.
package packet

import (
	"encoding/json"
	"sort"
)

// Content item kinds.
const (
	KindExternal    = "external"
	KindGenerated   = "generated"
	KindMedia       = "media"
	KindAlternative = "alternative"
)

// Instance lifecycle states.
const (
	StatusCreating = "creating"
	StatusActive   = "active"
	StatusComplete = "complete"
)

// Timestamp marks the window during which a link is mentioned in a
// narration. Lists are sorted by StartTime and non-overlapping within a
// single media item.
type Timestamp struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	URL       string  `json:"url"`
}

// ContentItem is the tagged union over the four item variants. Which fields
// are meaningful depends on Kind.
type ContentItem struct {
	Kind      string `json:"kind"`
	Title     string `json:"title,omitempty"`
	Relevance string `json:"relevance,omitempty"`

	// external
	URL string `json:"url,omitempty"`

	// generated + media
	PageID       string `json:"page_id,omitempty"`
	PublishedURL string `json:"published_url,omitempty"`

	// media
	MimeType   string      `json:"mime_type,omitempty"`
	Timestamps []Timestamp `json:"timestamps,omitempty"`

	// alternative
	Alternatives []ContentItem `json:"alternatives,omitempty"`
}

// PacketImage is the immutable template a PacketInstance is stamped from.
// Editing an image produces a new revision with a new ID.
type PacketImage struct {
	ID            string        `json:"id"`
	Topic         string        `json:"topic"`
	SourceContent []ContentItem `json:"source_content"`
	Created       int64         `json:"created"`
}

// PacketInstance is the authoritative runtime record for one playback of a
// packet. The visited/mentioned sets hold canonical URLs.
type PacketInstance struct {
	InstanceID              string        `json:"instance_id"`
	ImageID                 string        `json:"image_id"`
	Topic                   string        `json:"topic"`
	Contents                []ContentItem `json:"contents"`
	VisitedUrls             StringSet     `json:"visited_urls"`
	VisitedGeneratedPageIds StringSet     `json:"visited_generated_page_ids"`
	MentionedMediaLinks     StringSet     `json:"mentioned_media_links"`
	Created                 int64         `json:"created"`
	Status                  string        `json:"status"`
}

// BrowserState tracks which tabs currently show an instance's content.
type BrowserState struct {
	InstanceID string         `json:"instance_id"`
	TabGroupID int            `json:"tab_group_id,omitempty"`
	TabToURL   map[int]string `json:"tab_to_url"`
}

// StringSet is a set of strings that marshals as a sorted JSON array.
type StringSet map[string]struct{}

func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Add inserts v and reports whether it was newly added.
func (s StringSet) Add(v string) bool {
	if _, ok := s[v]; ok {
		return false
	}
	s[v] = struct{}{}
	return true
}

func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *StringSet) UnmarshalJSON(b []byte) error {
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*s = NewStringSet(items...)
	return nil
}
