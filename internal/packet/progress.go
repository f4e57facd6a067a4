package packet

// Canonicalizer maps raw URLs to their canonical comparison form. The
// visited/mentioned sets are keyed by canonical URLs, so all membership
// checks go through one of these.
type Canonicalizer interface {
	Canonical(raw string) string
}

// Progress summarizes how much of an instance has been consumed.
type Progress struct {
	CompletedCount int `json:"completed_count"`
	TotalCount     int `json:"total_count"`
	Percent        int `json:"percent"`
}

// ComputeProgress evaluates completion over all items. An empty instance is
// degenerate-complete at 100%.
func ComputeProgress(inst *PacketInstance, c Canonicalizer) Progress {
	total := len(inst.Contents)
	if total == 0 {
		return Progress{Percent: 100}
	}
	done := 0
	for i := range inst.Contents {
		if ItemComplete(inst, &inst.Contents[i], c) {
			done++
		}
	}
	return Progress{
		CompletedCount: done,
		TotalCount:     total,
		Percent:        100 * done / total,
	}
}

// ItemComplete reports whether a single item has met its completion rule:
//
//   - external: url in VisitedUrls
//   - generated: page id in VisitedGeneratedPageIds
//   - media: every timestamp url mentioned, or page id in
//     VisitedGeneratedPageIds (end-of-stream)
//   - alternative: any resolved child complete
func ItemComplete(inst *PacketInstance, item *ContentItem, c Canonicalizer) bool {
	switch item.Kind {
	case KindExternal:
		return inst.VisitedUrls.Has(c.Canonical(item.URL))
	case KindGenerated:
		return inst.VisitedGeneratedPageIds.Has(item.PageID)
	case KindMedia:
		if inst.VisitedGeneratedPageIds.Has(item.PageID) {
			return true
		}
		// A media item with no timestamps completes only via end-of-stream,
		// which lands its page id in VisitedGeneratedPageIds above.
		if len(item.Timestamps) == 0 {
			return false
		}
		for _, ts := range item.Timestamps {
			if !inst.MentionedMediaLinks.Has(c.Canonical(ts.URL)) {
				return false
			}
		}
		return true
	case KindAlternative:
		for i := range item.Alternatives {
			if ItemComplete(inst, &item.Alternatives[i], c) {
				return true
			}
		}
		return false
	}
	return false
}

// FindByURL returns the item whose URL is equivalent to raw, or nil.
// Only external and generated (published) items carry URLs.
func FindByURL(inst *PacketInstance, raw string, c Canonicalizer) *ContentItem {
	want := c.Canonical(raw)
	for i := range inst.Contents {
		item := &inst.Contents[i]
		switch item.Kind {
		case KindExternal:
			if c.Canonical(item.URL) == want {
				return item
			}
		case KindGenerated:
			if item.PublishedURL != "" && c.Canonical(item.PublishedURL) == want {
				return item
			}
		}
	}
	return nil
}

// FindByPageID returns the generated or media item with the given page id.
func FindByPageID(inst *PacketInstance, pageID string) *ContentItem {
	for i := range inst.Contents {
		item := &inst.Contents[i]
		if (item.Kind == KindGenerated || item.Kind == KindMedia) && item.PageID == pageID {
			return item
		}
	}
	return nil
}

// MediaLinkKnown reports whether url is one of the timestamp links of any
// media item, in canonical form. Guards invariant 3: MentionedMediaLinks
// stays a subset of the union of all timestamp urls.
func MediaLinkKnown(inst *PacketInstance, raw string, c Canonicalizer) bool {
	want := c.Canonical(raw)
	for i := range inst.Contents {
		item := &inst.Contents[i]
		if item.Kind != KindMedia {
			continue
		}
		for _, ts := range item.Timestamps {
			if c.Canonical(ts.URL) == want {
				return true
			}
		}
	}
	return false
}
