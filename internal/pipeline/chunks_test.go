package pipeline

import (
	"math"
	"testing"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

func TestMergeChunkParts_ShiftsTimestampsByOffset(t *testing.T) {
	parts := []chunkPart{
		{
			OffsetSec: 55.0,
			Result: &domain.TranscriptResult{
				FullText: "second chunk",
				Words: []domain.Word{
					{Word: "second", Start: 1.0, End: 1.4},
					{Word: "chunk", Start: 1.5, End: 2.0},
				},
				Segments: []domain.Segment{{Start: 1.0, End: 2.0, Text: "second chunk"}},
			},
		},
		{
			OffsetSec: 0,
			Result: &domain.TranscriptResult{
				FullText: "first chunk",
				Words: []domain.Word{
					{Word: "first", Start: 0.5, End: 0.9},
					{Word: "chunk", Start: 1.0, End: 1.5},
				},
				Segments: []domain.Segment{{Start: 0.5, End: 1.5, Text: "first chunk"}},
			},
		},
	}

	merged := MergeChunkParts(parts)

	if merged.FullText != "first chunk second chunk" {
		t.Fatalf("unexpected full text: %q", merged.FullText)
	}
	if len(merged.Words) != 4 {
		t.Fatalf("expected 4 words, got %d", len(merged.Words))
	}
	if merged.Words[0].Word != "first" {
		t.Fatalf("chunks not reordered by offset: %+v", merged.Words[0])
	}
	if math.Abs(merged.Words[2].Start-56.0) > 1e-9 {
		t.Fatalf("expected shifted start 56.0, got %v", merged.Words[2].Start)
	}
	for i := 1; i < len(merged.Words); i++ {
		if merged.Words[i].Start < merged.Words[i-1].Start {
			t.Fatalf("timeline not monotonic at %d: %+v", i, merged.Words)
		}
	}
	if len(merged.Segments) != 2 || math.Abs(merged.Segments[1].End-57.0) > 1e-9 {
		t.Fatalf("unexpected segments: %+v", merged.Segments)
	}
}

func TestMergeChunkParts_SkipsEmptyParts(t *testing.T) {
	merged := MergeChunkParts([]chunkPart{
		{OffsetSec: 0, Result: nil},
		{OffsetSec: 55, Result: &domain.TranscriptResult{FullText: "  "}},
		{OffsetSec: 110, Result: &domain.TranscriptResult{
			FullText: "only this",
			Words:    []domain.Word{{Word: "only", Start: 0, End: 0.5}},
		}},
	})
	if merged.FullText != "only this" {
		t.Fatalf("unexpected full text: %q", merged.FullText)
	}
	if len(merged.Words) != 1 || merged.Words[0].Start != 110 {
		t.Fatalf("unexpected words: %+v", merged.Words)
	}
}

func TestMergeChunkParts_NoParts(t *testing.T) {
	merged := MergeChunkParts(nil)
	if merged.FullText != "" || len(merged.Words) != 0 || len(merged.Segments) != 0 {
		t.Fatalf("expected empty result, got %+v", merged)
	}
}
