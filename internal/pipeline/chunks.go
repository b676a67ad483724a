package pipeline

import (
	"sort"
	"strings"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

// chunkSeconds bounds the audio length sent in one recognition request.
// Longer recordings are cut into chunks of this size and reassembled.
const chunkSeconds = 55.0

// chunkPart is one independently transcribed slice of the recording.
type chunkPart struct {
	OffsetSec float64
	Result    *domain.TranscriptResult
}

// MergeChunkParts reassembles independently transcribed chunks into one
// transcript on a single monotonic timeline: each chunk's word and
// segment timestamps are shifted by its start offset, then concatenated
// in offset order.
func MergeChunkParts(parts []chunkPart) *domain.TranscriptResult {
	sorted := make([]chunkPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OffsetSec < sorted[j].OffsetSec })

	merged := &domain.TranscriptResult{Words: []domain.Word{}, Segments: []domain.Segment{}}
	var textParts []string
	for _, p := range sorted {
		if p.Result == nil {
			continue
		}
		if t := strings.TrimSpace(p.Result.FullText); t != "" {
			textParts = append(textParts, t)
		}
		for _, w := range p.Result.Words {
			w.Start += p.OffsetSec
			w.End += p.OffsetSec
			merged.Words = append(merged.Words, w)
		}
		for _, s := range p.Result.Segments {
			s.Start += p.OffsetSec
			s.End += p.OffsetSec
			merged.Segments = append(merged.Segments, s)
		}
	}
	merged.FullText = strings.Join(textParts, " ")
	return merged
}
