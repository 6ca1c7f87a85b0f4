package services

import (
	"fmt"
	"strconv"
	"strings"
)

// TranscriptSegment is one caption cue: seconds-based bounds plus text.
// Segments are ordered by start time and non-overlapping by construction.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ParseCaptionTrack parses a WebVTT or SRT caption track into ordered
// segments. Cue identifiers, sequence numbers, headers, NOTE/STYLE blocks
// and cue settings are dropped; multi-line cue text is joined with spaces.
func ParseCaptionTrack(track string) ([]TranscriptSegment, error) {
	if strings.TrimSpace(track) == "" {
		return nil, fmt.Errorf("caption track is empty")
	}

	lines := strings.Split(strings.ReplaceAll(track, "\r\n", "\n"), "\n")

	var (
		segments  []TranscriptSegment
		current   *TranscriptSegment
		inComment bool
	)

	flush := func() {
		if current != nil && strings.TrimSpace(current.Text) != "" {
			current.Text = strings.TrimSpace(current.Text)
			segments = append(segments, *current)
		}
		current = nil
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)

		if line == "" {
			flush()
			inComment = false
			continue
		}
		if inComment {
			continue
		}
		if strings.HasPrefix(line, "WEBVTT") {
			continue
		}
		if strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") || strings.HasPrefix(line, "REGION") {
			inComment = true
			continue
		}

		if strings.Contains(line, "-->") {
			flush()
			parts := strings.SplitN(line, "-->", 2)
			start, err := parseTimestamp(strings.TrimSpace(parts[0]))
			if err != nil {
				return nil, fmt.Errorf("bad cue start %q: %w", parts[0], err)
			}
			// Cue settings ("align:start position:0%") follow the end stamp.
			endField := strings.Fields(strings.TrimSpace(parts[1]))
			if len(endField) == 0 {
				return nil, fmt.Errorf("cue missing end timestamp: %q", line)
			}
			end, err := parseTimestamp(endField[0])
			if err != nil {
				return nil, fmt.Errorf("bad cue end %q: %w", endField[0], err)
			}
			current = &TranscriptSegment{Start: start, End: end}
			continue
		}

		// SRT sequence numbers and VTT cue identifiers sit on their own line
		// before the timestamp; skip them.
		if current == nil {
			continue
		}

		if current.Text != "" {
			current.Text += " "
		}
		current.Text += line
	}
	flush()

	if len(segments) == 0 {
		return nil, fmt.Errorf("caption track contained no cues")
	}
	return segments, nil
}

// PlainText joins segment text in time order with single spaces.
func PlainText(segments []TranscriptSegment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// TotalDuration is the end of the last cue in seconds.
func TotalDuration(segments []TranscriptSegment) float64 {
	var max float64
	for _, s := range segments {
		if s.End > max {
			max = s.End
		}
	}
	return max
}

// parseTimestamp accepts "HH:MM:SS.mmm", "HH:MM:SS,mmm" (SRT) and the
// short "MM:SS.mmm" form.
func parseTimestamp(stamp string) (float64, error) {
	stamp = strings.ReplaceAll(stamp, ",", ".")
	parts := strings.Split(stamp, ":")

	var hours, minutes int
	var seconds float64
	var err error

	switch len(parts) {
	case 3:
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0, err
		}
		if minutes, err = strconv.Atoi(parts[1]); err != nil {
			return 0, err
		}
		if seconds, err = strconv.ParseFloat(parts[2], 64); err != nil {
			return 0, err
		}
	case 2:
		if minutes, err = strconv.Atoi(parts[0]); err != nil {
			return 0, err
		}
		if seconds, err = strconv.ParseFloat(parts[1], 64); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("unrecognized timestamp %q", stamp)
	}

	if minutes < 0 || minutes > 59 || seconds < 0 || seconds >= 60 || hours < 0 {
		return 0, fmt.Errorf("timestamp out of range %q", stamp)
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, nil
}

// NormalizeLanguage maps common language names and locale codes to the
// two-letter code the caption service expects. Unknown inputs pass through
// lowercased so new languages do not need a code change here.
func NormalizeLanguage(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if l == "" {
		return "en"
	}
	if i := strings.IndexAny(l, "-_"); i > 0 {
		l = l[:i]
	}
	switch l {
	case "english":
		return "en"
	case "spanish", "espanol", "español":
		return "es"
	case "french", "francais", "français":
		return "fr"
	case "german", "deutsch":
		return "de"
	case "portuguese", "portugues", "português":
		return "pt"
	case "chinese", "mandarin":
		return "zh"
	case "japanese":
		return "ja"
	case "korean":
		return "ko"
	default:
		return l
	}
}
