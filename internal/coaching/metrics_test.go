package coaching

import (
	"math"
	"testing"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

func w(word string, start, end float64) domain.Word {
	return domain.Word{Word: word, Start: start, End: end}
}

func TestComputeDerivedMetrics_Empty(t *testing.T) {
	m := ComputeDerivedMetrics(nil)
	if m.TotalWords != 0 || m.DurationSec != 0 || m.PauseCount != 0 {
		t.Fatalf("expected zero metrics, got %+v", m)
	}
	if m.TopFillers == nil || len(m.TopFillers) != 0 {
		t.Fatalf("expected empty (non-nil) top_fillers, got %v", m.TopFillers)
	}
}

func TestComputeDerivedMetrics_PausesAndWPM(t *testing.T) {
	words := []domain.Word{
		w("our", 0.0, 0.4),
		w("product", 0.5, 1.0),
		// 0.59s gap, under the threshold
		w("saves", 1.59, 2.0),
		// 0.60s gap, exactly at the threshold
		w("teams", 2.6, 3.0),
		// 2.0s gap
		w("hours.", 5.0, 6.0),
	}
	m := ComputeDerivedMetrics(words)

	if m.PauseCount != 2 {
		t.Fatalf("expected 2 pauses, got %d", m.PauseCount)
	}
	if math.Abs(m.TotalPauseSec-2.6) > 1e-9 {
		t.Fatalf("expected total pause 2.6, got %v", m.TotalPauseSec)
	}
	if math.Abs(m.MaxPauseSec-2.0) > 1e-9 {
		t.Fatalf("expected max pause 2.0, got %v", m.MaxPauseSec)
	}
	if math.Abs(m.AvgPauseSec-1.3) > 1e-9 {
		t.Fatalf("expected avg pause 1.3, got %v", m.AvgPauseSec)
	}

	if m.TotalWords != 5 {
		t.Fatalf("expected 5 words, got %d", m.TotalWords)
	}
	if m.DurationSec != 6.0 {
		t.Fatalf("expected duration 6.0, got %v", m.DurationSec)
	}
	wantWPM := 5.0 / (6.0 / 60.0)
	if math.Abs(m.WPM-wantWPM) > 1e-9 {
		t.Fatalf("expected wpm %v, got %v", wantWPM, m.WPM)
	}
}

func TestComputeDerivedMetrics_FillersIncludingPairs(t *testing.T) {
	words := []domain.Word{
		w("Um,", 0, 0.2),
		w("we", 0.3, 0.5),
		w("are,", 0.6, 0.8),
		w("you", 0.9, 1.0),
		w("know,", 1.0, 1.2),
		w("like", 1.3, 1.5),
		w("basically", 1.6, 2.0),
		w("um", 2.1, 2.3),
		w("done.", 2.4, 2.8),
	}
	m := ComputeDerivedMetrics(words)

	if m.FillerCount != 5 {
		t.Fatalf("expected 5 fillers (um x2, you know, like, basically), got %d", m.FillerCount)
	}
	if len(m.TopFillers) == 0 {
		t.Fatalf("expected ranked fillers")
	}
	if m.TopFillers[0].Token != "um" || m.TopFillers[0].Count != 2 {
		t.Fatalf("expected um x2 first, got %+v", m.TopFillers[0])
	}
	// Ties break alphabetically.
	if m.TopFillers[1].Token != "basically" {
		t.Fatalf("expected basically second, got %+v", m.TopFillers[1])
	}
}

func TestComputeDerivedMetrics_NonAlphaTokensExcludedFromWPM(t *testing.T) {
	words := []domain.Word{
		w("100", 0, 0.5),
		w("percent", 0.5, 1.0),
		w("-", 1.0, 1.1),
		w("growth", 1.1, 2.0),
	}
	m := ComputeDerivedMetrics(words)
	if m.TotalWords != 2 {
		t.Fatalf("expected 2 alpha words, got %d", m.TotalWords)
	}
}

func TestComputeSentencePacing_SplitsOnPunctuationAndLength(t *testing.T) {
	var words []domain.Word
	words = append(words,
		w("Hello", 0, 0.5),
		w("investors.", 0.5, 1.0),
	)
	// 31 unpunctuated words forces a length split at 30.
	for i := 0; i < 31; i++ {
		start := 1.0 + float64(i)*0.2
		words = append(words, w("word", start, start+0.15))
	}

	paces := ComputeSentencePacing(words)
	if len(paces) != 3 {
		t.Fatalf("expected 3 sentences, got %d", len(paces))
	}
	if paces[0].Sentence != "Hello investors." {
		t.Fatalf("unexpected first sentence: %q", paces[0].Sentence)
	}
	if paces[1].End <= paces[1].Start {
		t.Fatalf("expected positive duration, got %+v", paces[1])
	}
}

func TestComputeSentencePacing_ZeroDurationClamped(t *testing.T) {
	paces := ComputeSentencePacing([]domain.Word{w("hi.", 1.0, 1.0)})
	if len(paces) != 1 {
		t.Fatalf("expected 1 sentence, got %d", len(paces))
	}
	if paces[0].DurationSec != 0.001 {
		t.Fatalf("expected clamped duration 0.001, got %v", paces[0].DurationSec)
	}
}

func TestBuildEnergyTimeline_AttachesTextAndPauses(t *testing.T) {
	frames := []AudioFrame{
		{Sec: 0, RMSDB: -20.1, F0Hz: 120},
		{Sec: 1, RMSDB: -60.0, F0Hz: 0},
		{Sec: 2, RMSDB: -22.4, F0Hz: 130},
	}
	words := []domain.Word{
		w("we", 0.1, 0.4),
		w("build", 0.5, 0.9),
		w("rockets", 2.2, 2.8),
	}
	tl := BuildEnergyTimeline(frames, words)
	if len(tl) != 3 {
		t.Fatalf("expected 3 points, got %d", len(tl))
	}
	if tl[0].Text != "we build" {
		t.Fatalf("unexpected second-0 text: %q", tl[0].Text)
	}
	if tl[1].Text != "(pause)" {
		t.Fatalf("expected (pause) at second 1, got %q", tl[1].Text)
	}
	if tl[2].Text != "rockets" {
		t.Fatalf("unexpected second-2 text: %q", tl[2].Text)
	}
}
