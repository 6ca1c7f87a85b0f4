package services

import (
	"reflect"
	"strings"
	"testing"
)

func segs(texts ...string) []TranscriptSegment {
	out := make([]TranscriptSegment, 0, len(texts))
	for i, t := range texts {
		out = append(out, TranscriptSegment{
			Start: float64(i) * 2,
			End:   float64(i)*2 + 2,
			Text:  t,
		})
	}
	return out
}

func TestChunkSegmentsRespectsMaxSize(t *testing.T) {
	input := segs(
		"Hello world.",
		"This is a test.",
		"Goodbye.",
	)

	chunks := ChunkSegments(input, 5, 20)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for i, c := range chunks {
		if len(c.Text) > 20 && c.SegmentCount > 1 {
			t.Fatalf("chunk %d exceeds max size: %d chars across %d segments", i, len(c.Text), c.SegmentCount)
		}
		if len(c.Text) < 5 {
			t.Fatalf("chunk %d below min size: %q", i, c.Text)
		}
	}

	joined := strings.Join([]string{chunks[0].Text, chunks[1].Text, chunks[2].Text}, " ")
	if joined != "Hello world. This is a test. Goodbye." {
		t.Fatalf("chunks lost text: %q", joined)
	}
}

func TestChunkSegmentsDeterministic(t *testing.T) {
	input := segs("one two three", "four five six", "seven eight nine", "ten")

	a := ChunkSegments(input, 10, 30)
	b := ChunkSegments(input, 10, 30)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("chunking not deterministic: %v vs %v", a, b)
	}
}

func TestChunkSegmentsDropsShortTail(t *testing.T) {
	input := segs(
		"a long opening segment with plenty of characters in it",
		"ok",
	)

	chunks := ChunkSegments(input, 20, 55)
	if len(chunks) != 1 {
		t.Fatalf("want 1 chunk got %d: %v", len(chunks), chunks)
	}
	if strings.Contains(chunks[0].Text, "ok") {
		t.Fatalf("short tail should have been dropped, got %q", chunks[0].Text)
	}
}

func TestChunkSegmentsSkipsEmptySegments(t *testing.T) {
	input := []TranscriptSegment{
		{Start: 0, End: 2, Text: "first part of the lecture content"},
		{Start: 2, End: 4, Text: "   "},
		{Start: 4, End: 6, Text: "second part of the lecture content"},
	}

	chunks := ChunkSegments(input, 10, 100)
	if len(chunks) != 1 {
		t.Fatalf("want 1 chunk got %d", len(chunks))
	}
	if chunks[0].SegmentCount != 2 {
		t.Fatalf("want 2 member segments got %d", chunks[0].SegmentCount)
	}
	if chunks[0].StartTime != 0 || chunks[0].EndTime != 6 {
		t.Fatalf("chunk bounds wrong: [%v, %v]", chunks[0].StartTime, chunks[0].EndTime)
	}
}

func TestChunkSegmentsTimeBounds(t *testing.T) {
	input := segs(
		"segment one has enough text to matter here",
		"segment two has enough text to matter here",
		"segment three has enough text to matter too",
	)

	chunks := ChunkSegments(input, 10, 50)
	if len(chunks) != 3 {
		t.Fatalf("want 3 chunks got %d", len(chunks))
	}
	for i, c := range chunks {
		wantStart := float64(i) * 2
		if c.StartTime != wantStart || c.EndTime != wantStart+2 {
			t.Fatalf("chunk %d bounds [%v, %v], want [%v, %v]", i, c.StartTime, c.EndTime, wantStart, wantStart+2)
		}
	}
}

func TestChunkSegmentsEmptyInput(t *testing.T) {
	if got := ChunkSegments(nil, 100, 1000); len(got) != 0 {
		t.Fatalf("want no chunks got %v", got)
	}
}
