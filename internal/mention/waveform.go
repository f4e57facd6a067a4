package mention

// Waveform rendering for audio cards. A pure function of the decoded
// samples, the playhead, the mention windows and the visited set; the view
// paints the returned columns without further logic.

// Column classes, in priority order.
const (
	ClassMentionVisited = "mention-visited"
	ClassMention        = "mention"
	ClassPlayed         = "played"
	ClassIdle           = ""
)

// Column is one pixel column of a waveform strip.
type Column struct {
	Peak  float64 `json:"peak"` // 0..1
	Class string  `json:"class,omitempty"`
}

// Waveform downsamples mono samples into width peak columns and classifies
// each column against the playhead and the mention windows.
//
// visited reports whether a mention url already counts as visited; passing
// nil treats every mention as unvisited.
func Waveform(samples []float64, currentTime, duration float64, idx *Index, visited func(url string) bool, width int) []Column {
	if width <= 0 || duration <= 0 {
		return nil
	}
	cols := make([]Column, width)

	window := len(samples) / width
	for i := range cols {
		peak := 0.0
		if window > 0 {
			lo := i * window
			hi := lo + window
			if hi > len(samples) {
				hi = len(samples)
			}
			for _, s := range samples[lo:hi] {
				if s < 0 {
					s = -s
				}
				if s > peak {
					peak = s
				}
			}
		}
		if peak > 1 {
			peak = 1
		}
		cols[i].Peak = peak

		colTime := duration * (float64(i) + 0.5) / float64(width)
		cols[i].Class = classify(colTime, currentTime, idx, visited)
	}
	return cols
}

func classify(colTime, currentTime float64, idx *Index, visited func(string) bool) string {
	if idx != nil {
		if url, ok := idx.LinkAt(colTime); ok {
			if visited != nil && visited(url) {
				return ClassMentionVisited
			}
			return ClassMention
		}
	}
	if colTime <= currentTime {
		return ClassPlayed
	}
	return ClassIdle
}
