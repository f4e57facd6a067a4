// Package mention answers "which link does the narration reference at time
// t" from a sorted timestamp index, and renders waveform columns for the
// side panel's audio cards.
package mention

import (
	"sort"

	"github.com/unlocklabs/unlock/internal/packet"
)

// Interval is one (startTime, endTime, url) mention window.
type Interval struct {
	Start float64
	End   float64
	URL   string
}

// Index is an immutable, start-sorted list of mention intervals.
type Index struct {
	iv []Interval
}

// NewIndex builds an index from a media item's timestamps. Input order does
// not matter; the index sorts by start time.
func NewIndex(ts []packet.Timestamp) *Index {
	iv := make([]Interval, len(ts))
	for i, t := range ts {
		iv[i] = Interval{Start: t.StartTime, End: t.EndTime, URL: t.URL}
	}
	sort.Slice(iv, func(i, j int) bool { return iv[i].Start < iv[j].Start })
	return &Index{iv: iv}
}

func (x *Index) Len() int             { return len(x.iv) }
func (x *Index) Intervals() []Interval { return x.iv }

// LinkAt returns the url mentioned at time t, if any. Binary search over the
// start-sorted, non-overlapping intervals.
func (x *Index) LinkAt(t float64) (string, bool) {
	i := sort.Search(len(x.iv), func(i int) bool { return x.iv[i].Start > t })
	if i == 0 {
		return "", false
	}
	iv := x.iv[i-1]
	if t >= iv.Start && t < iv.End {
		return iv.URL, true
	}
	return "", false
}

// MentionedUpTo returns every url whose mention window has started by t, in
// start order. Duplicates are preserved in window order; callers dedupe via
// their sets.
func (x *Index) MentionedUpTo(t float64) []string {
	var out []string
	for _, iv := range x.iv {
		if iv.Start > t {
			break
		}
		out = append(out, iv.URL)
	}
	return out
}

// Cursor walks the index forward with the audio clock, yielding each newly
// crossed mention exactly once. Amortized O(1) per tick.
type Cursor struct {
	x    *Index
	next int
}

func (x *Index) Cursor() *Cursor {
	return &Cursor{x: x}
}

// Advance moves the cursor to time t and returns the urls of all windows
// whose start has been crossed since the previous call.
func (c *Cursor) Advance(t float64) []string {
	var out []string
	for c.next < len(c.x.iv) && c.x.iv[c.next].Start <= t {
		out = append(out, c.x.iv[c.next].URL)
		c.next++
	}
	return out
}

// Seek repositions the cursor for a jump to time t. Windows starting strictly
// before t count as already delivered; a window starting exactly at t stays
// pending, so playing from 0 still yields a window that opens at 0. A backward
// seek re-arms everything from t on.
func (c *Cursor) Seek(t float64) {
	c.next = sort.Search(len(c.x.iv), func(i int) bool { return c.x.iv[i].Start >= t })
}
