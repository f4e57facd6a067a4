package packet

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Instantiate stamps a live PacketInstance from an image. Alternative items
// are resolved to a single child here; preferKind picks which variant wins
// when both are present (generated is the fallback).
func Instantiate(img *PacketImage, preferKind string) (*PacketInstance, error) {
	if img.ID == "" {
		return nil, fmt.Errorf("image has no id")
	}
	contents := make([]ContentItem, 0, len(img.SourceContent))
	for _, item := range img.SourceContent {
		if item.Kind == KindAlternative {
			resolved, err := resolveAlternative(item, preferKind)
			if err != nil {
				return nil, err
			}
			contents = append(contents, resolved)
			continue
		}
		item.Timestamps = sortedTimestamps(item.Timestamps)
		contents = append(contents, item)
	}

	return &PacketInstance{
		InstanceID:              uuid.NewString(),
		ImageID:                 img.ID,
		Topic:                   img.Topic,
		Contents:                contents,
		VisitedUrls:             NewStringSet(),
		VisitedGeneratedPageIds: NewStringSet(),
		MentionedMediaLinks:     NewStringSet(),
		Created:                 time.Now().UnixMilli(),
		Status:                  StatusActive,
	}, nil
}

func resolveAlternative(item ContentItem, preferKind string) (ContentItem, error) {
	if len(item.Alternatives) == 0 {
		return ContentItem{}, fmt.Errorf("alternative item %q has no children", item.Title)
	}
	for _, alt := range item.Alternatives {
		if alt.Kind == preferKind {
			alt.Timestamps = sortedTimestamps(alt.Timestamps)
			return alt, nil
		}
	}
	alt := item.Alternatives[0]
	alt.Timestamps = sortedTimestamps(alt.Timestamps)
	return alt, nil
}

func sortedTimestamps(ts []Timestamp) []Timestamp {
	if len(ts) < 2 {
		return ts
	}
	out := make([]Timestamp, len(ts))
	copy(out, ts)
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// NewImage builds a packet image with a fresh id.
func NewImage(topic string, items []ContentItem) *PacketImage {
	return &PacketImage{
		ID:            uuid.NewString(),
		Topic:         topic,
		SourceContent: items,
		Created:       time.Now().UnixMilli(),
	}
}

// Validate checks structural invariants on an image before it is stored.
func (img *PacketImage) Validate() error {
	if img.Topic == "" {
		return fmt.Errorf("image topic is required")
	}
	for i, item := range img.SourceContent {
		if err := validateItem(item); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func validateItem(item ContentItem) error {
	switch item.Kind {
	case KindExternal:
		if item.URL == "" {
			return fmt.Errorf("external item requires url")
		}
	case KindGenerated:
		if item.PageID == "" {
			return fmt.Errorf("generated item requires page_id")
		}
	case KindMedia:
		if item.PageID == "" {
			return fmt.Errorf("media item requires page_id")
		}
		for j := 1; j < len(item.Timestamps); j++ {
			if item.Timestamps[j].StartTime < item.Timestamps[j-1].EndTime {
				return fmt.Errorf("timestamps overlap at %d", j)
			}
		}
	case KindAlternative:
		if len(item.Alternatives) == 0 {
			return fmt.Errorf("alternative item requires children")
		}
		for _, alt := range item.Alternatives {
			if alt.Kind == KindAlternative {
				return fmt.Errorf("alternatives cannot nest")
			}
			if err := validateItem(alt); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown item kind %q", item.Kind)
	}
	return nil
}
