package coaching

import (
	"sort"
	"strings"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

// PauseThreshold is the minimum inter-word gap counted as a pause.
const PauseThreshold = 0.60

var fillerWords = map[string]struct{}{
	"um":        {},
	"uh":        {},
	"like":      {},
	"actually":  {},
	"basically": {},
	"literally": {},
}

var multiFillers = []string{"you know", "kind of", "sort of"}

const tokenPunct = ".,!?;:"

// ComputeDerivedMetrics computes pause/filler/pace statistics from the
// timed word list. Deterministic and cheap; runs on the pipeline's
// critical path.
func ComputeDerivedMetrics(words []domain.Word) domain.DerivedMetrics {
	m := domain.DerivedMetrics{TopFillers: []domain.FillerCount{}}
	if len(words) == 0 {
		return m
	}

	minStart := words[0].Start
	maxEnd := words[0].End
	for _, w := range words {
		if w.Start < minStart {
			minStart = w.Start
		}
		if w.End > maxEnd {
			maxEnd = w.End
		}
	}
	duration := maxEnd - minStart
	if duration < 0 {
		duration = 0
	}
	m.DurationSec = duration

	tokens := make([]string, len(words))
	alphaCount := 0
	for i, w := range words {
		t := strings.ToLower(strings.TrimSpace(w.Word))
		tokens[i] = t
		if strings.ContainsFunc(t, isAlpha) {
			alphaCount++
		}
	}
	m.TotalWords = alphaCount
	if duration > 0 {
		m.WPM = float64(alphaCount) / (duration / 60.0)
	}

	for i := 1; i < len(words); i++ {
		gap := words[i].Start - words[i-1].End
		if gap >= PauseThreshold {
			m.PauseCount++
			m.TotalPauseSec += gap
			if gap > m.MaxPauseSec {
				m.MaxPauseSec = gap
			}
		}
	}
	if m.PauseCount > 0 {
		m.AvgPauseSec = m.TotalPauseSec / float64(m.PauseCount)
	}

	counts := map[string]int{}
	stripped := make([]string, len(tokens))
	for i, t := range tokens {
		stripped[i] = strings.Trim(t, tokenPunct)
	}
	for _, t := range stripped {
		if _, ok := fillerWords[t]; ok {
			counts[t]++
		}
	}
	for i := 0; i+1 < len(stripped); i++ {
		pair := stripped[i] + " " + stripped[i+1]
		for _, mf := range multiFillers {
			if pair == mf {
				counts[mf]++
			}
		}
	}
	for _, c := range counts {
		m.FillerCount += c
	}
	if duration > 0 {
		m.FillerRatePerMin = float64(m.FillerCount) / (duration / 60.0)
	}

	type kv struct {
		token string
		count int
	}
	ranked := make([]kv, 0, len(counts))
	for t, c := range counts {
		ranked = append(ranked, kv{t, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].token < ranked[j].token
	})
	for i, r := range ranked {
		if i >= 5 {
			break
		}
		m.TopFillers = append(m.TopFillers, domain.FillerCount{Token: r.token, Count: r.count})
	}
	return m
}

// ComputeSentencePacing splits the word stream into sentences at
// terminal punctuation or at 30 tokens, whichever comes first, and
// reports per-sentence words-per-minute.
func ComputeSentencePacing(words []domain.Word) []domain.SentencePace {
	out := []domain.SentencePace{}
	if len(words) == 0 {
		return out
	}

	flush := func(run []domain.Word) {
		if len(run) == 0 {
			return
		}
		parts := make([]string, len(run))
		for i, w := range run {
			parts[i] = strings.TrimSpace(w.Word)
		}
		start := run[0].Start
		end := run[len(run)-1].End
		dur := end - start
		if dur < 0.001 {
			dur = 0.001
		}
		out = append(out, domain.SentencePace{
			Sentence:    strings.Join(parts, " "),
			WPM:         float64(len(run)) / (dur / 60.0),
			DurationSec: dur,
			Start:       start,
			End:         end,
		})
	}

	var run []domain.Word
	for _, w := range words {
		run = append(run, w)
		t := strings.TrimSpace(w.Word)
		if strings.HasSuffix(t, ".") || strings.HasSuffix(t, "!") || strings.HasSuffix(t, "?") || len(run) >= 30 {
			flush(run)
			run = nil
		}
	}
	flush(run)
	return out
}

// AudioFrame is one second of audio-level analysis produced by the
// local media tooling.
type AudioFrame struct {
	Sec   int
	RMSDB float64
	F0Hz  float64
}

// BuildEnergyTimeline attaches the spoken text of each second to the
// audio-level frames. Seconds with no overlapping words read "(pause)".
func BuildEnergyTimeline(frames []AudioFrame, words []domain.Word) []domain.EnergyPoint {
	out := make([]domain.EnergyPoint, 0, len(frames))
	for _, f := range frames {
		lo := float64(f.Sec)
		hi := lo + 1.0
		var parts []string
		for _, w := range words {
			if w.End > lo && w.Start < hi {
				parts = append(parts, strings.TrimSpace(w.Word))
			}
		}
		text := "(pause)"
		if len(parts) > 0 {
			text = strings.Join(parts, " ")
		}
		out = append(out, domain.EnergyPoint{Sec: f.Sec, Text: text, RMSDB: f.RMSDB, F0Hz: f.F0Hz})
	}
	return out
}

func isAlpha(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
