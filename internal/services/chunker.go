package services

import "strings"

// Chunk is a merged run of consecutive transcript segments sized for
// embedding, carrying the time range it covers.
type Chunk struct {
	Text         string  `json:"text"`
	StartTime    float64 `json:"startTime"`
	EndTime      float64 `json:"endTime"`
	SegmentCount int     `json:"segmentCount"`
}

const (
	DefaultMinChunkSize = 100
	DefaultMaxChunkSize = 1000
)

// ChunkSegments greedily merges consecutive segments into variable-length
// chunks. A chunk closes when appending the next segment would push it past
// maxSize; it is emitted only if it reached minSize, otherwise discarded as
// too short to be independently meaningful. The same rule applies to the
// trailing chunk, so very short trailing content can be dropped. This is a
// deliberate lossy edge: variable boundaries track topic shifts better than
// fixed windows.
//
// Pure function of its inputs: identical segments and bounds always produce
// identical chunk boundaries.
func ChunkSegments(segments []TranscriptSegment, minSize, maxSize int) []Chunk {
	if minSize <= 0 {
		minSize = DefaultMinChunkSize
	}
	if maxSize < minSize {
		maxSize = minSize
	}

	chunks := make([]Chunk, 0, len(segments)/2+1)

	var (
		buf     strings.Builder
		start   float64
		end     float64
		members int
	)

	emit := func() {
		if members > 0 && buf.Len() >= minSize {
			chunks = append(chunks, Chunk{
				Text:         buf.String(),
				StartTime:    start,
				EndTime:      end,
				SegmentCount: members,
			})
		}
		buf.Reset()
		members = 0
	}

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		grown := len(text)
		if buf.Len() > 0 {
			grown += buf.Len() + 1
		}

		if members > 0 && grown > maxSize {
			emit()
		}
		if members == 0 {
			start = seg.Start
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(text)
		end = seg.End
		members++
	}
	emit()

	return chunks
}
