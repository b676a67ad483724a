package rounds

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

// BackfillSpokenText walks the response payload and, for every object
// carrying a human-readable "time_range", overwrites its spoken-text
// field with the transcript words that overlap the window. The model's
// own claim is discarded: timestamp-derived text is ground truth. When
// no words overlap, the field is set to null.
func BackfillSpokenText(raw []byte, words []domain.Word) ([]byte, error) {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	backfillNode(root, words)
	return json.Marshal(root)
}

func backfillNode(node any, words []domain.Word) {
	switch v := node.(type) {
	case map[string]any:
		if tr, ok := v["time_range"].(string); ok {
			if start, end, ok := ParseTimeRange(tr); ok {
				text := spokenTextForRange(words, start, end)
				key := spokenTextKey(v)
				if text == "" {
					v[key] = nil
				} else {
					v[key] = text
				}
			}
		}
		for _, child := range v {
			backfillNode(child, words)
		}
	case []any:
		for _, child := range v {
			backfillNode(child, words)
		}
	}
}

// spokenTextKey picks which field to overwrite. Rounds use different
// names for the claimed quote; default to "spoken_text" when none is
// present yet.
func spokenTextKey(obj map[string]any) string {
	for _, k := range []string{"sentence_text", "spoken_text", "quote"} {
		if _, ok := obj[k]; ok {
			return k
		}
	}
	return "spoken_text"
}

func spokenTextForRange(words []domain.Word, start, end float64) string {
	var parts []string
	for _, w := range words {
		if w.End > start && w.Start < end {
			t := strings.TrimSpace(w.Word)
			if t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

// ParseTimeRange parses a window like "0:10.5–0:12.0". Any mix of
// hyphen, en dash, em dash, or minus separates the endpoints.
func ParseTimeRange(s string) (start, end float64, ok bool) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '-', '–', '—', '−':
			return true
		default:
			return false
		}
	})
	cleaned := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) < 2 {
		return 0, 0, false
	}
	var err error
	if start, err = parseClock(cleaned[0]); err != nil {
		return 0, 0, false
	}
	if end, err = parseClock(cleaned[len(cleaned)-1]); err != nil {
		return 0, 0, false
	}
	if end < start {
		return 0, 0, false
	}
	return start, end, true
}

// parseClock parses "M:SS.s", "H:MM:SS", or plain seconds.
func parseClock(s string) (float64, error) {
	total := 0.0
	for _, part := range strings.Split(strings.TrimSpace(s), ":") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return 0, fmt.Errorf("bad clock value %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}
