package rounds

import (
	"encoding/json"
	"fmt"
	"strings"
)

var validVerdicts = map[string]struct{}{
	"strong": {},
	"mixed":  {},
	"weak":   {},
}

// decodeObject decodes raw into a field map, preserving each value as
// raw JSON so callers can check its type explicitly.
func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return m, nil
}

func requireRoundNumber(m map[string]json.RawMessage, want int) error {
	v, ok := m["round"]
	if !ok {
		return fmt.Errorf("missing required field %q", "round")
	}
	var n int
	if err := json.Unmarshal(v, &n); err != nil || n != want {
		return fmt.Errorf("field %q must be %d, got %s", "round", want, strings.TrimSpace(string(v)))
	}
	return nil
}

func requireNonEmptyString(m map[string]json.RawMessage, field string) error {
	v, ok := m[field]
	if !ok {
		return fmt.Errorf("missing required field %q", field)
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return fmt.Errorf("field %q must be a string", field)
	}
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("field %q must be a non-empty string", field)
	}
	return nil
}

func requireStringList(m map[string]json.RawMessage, field string, exactLen int) error {
	v, ok := m[field]
	if !ok {
		return fmt.Errorf("missing required field %q", field)
	}
	var items []string
	if err := json.Unmarshal(v, &items); err != nil {
		return fmt.Errorf("field %q must be a list of strings", field)
	}
	if exactLen > 0 && len(items) != exactLen {
		return fmt.Errorf("field %q must contain exactly %d items, got %d", field, exactLen, len(items))
	}
	return nil
}

func requireObjectWithKeys(m map[string]json.RawMessage, field string, keys []string) error {
	v, ok := m[field]
	if !ok {
		return fmt.Errorf("missing required field %q", field)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(v, &obj); err != nil {
		return fmt.Errorf("field %q must be an object", field)
	}
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return fmt.Errorf("field %q is missing key %q", field, k)
		}
	}
	return nil
}

// validateSections checks the controlled section vocabulary: every
// expected criterion appears exactly once, nothing extra, and each
// section carries a valid verdict plus typed evidence lists.
func validateSections(m map[string]json.RawMessage, criteria []string) error {
	v, ok := m["sections"]
	if !ok {
		return fmt.Errorf("missing required field %q", "sections")
	}
	var sections []map[string]json.RawMessage
	if err := json.Unmarshal(v, &sections); err != nil {
		return fmt.Errorf("field %q must be a list of objects", "sections")
	}
	if len(sections) != len(criteria) {
		return fmt.Errorf("field %q must contain exactly %d sections, got %d", "sections", len(criteria), len(sections))
	}

	expected := make(map[string]bool, len(criteria))
	for _, c := range criteria {
		expected[c] = false
	}

	for _, sec := range sections {
		cv, ok := sec["criterion"]
		if !ok {
			return fmt.Errorf("section is missing field %q", "criterion")
		}
		var criterion string
		if err := json.Unmarshal(cv, &criterion); err != nil {
			return fmt.Errorf("section field %q must be a string", "criterion")
		}
		seen, known := expected[criterion]
		if !known {
			return fmt.Errorf("unexpected section criterion %q", criterion)
		}
		if seen {
			return fmt.Errorf("duplicate section criterion %q", criterion)
		}
		expected[criterion] = true

		if err := validateVerdict(sec, criterion); err != nil {
			return err
		}
		for _, field := range []string{"strengths", "weaknesses", "suggestions"} {
			if err := requireStringList(sec, field, 0); err != nil {
				return fmt.Errorf("section %q: %w", criterion, err)
			}
		}
	}

	for criterion, seen := range expected {
		if !seen {
			return fmt.Errorf("missing section criterion %q", criterion)
		}
	}
	return nil
}

func validateVerdict(sec map[string]json.RawMessage, criterion string) error {
	v, ok := sec["verdict"]
	if !ok {
		return fmt.Errorf("section %q is missing field %q", criterion, "verdict")
	}
	var verdict string
	if err := json.Unmarshal(v, &verdict); err != nil {
		return fmt.Errorf("section %q field %q must be a string", criterion, "verdict")
	}
	if _, ok := validVerdicts[verdict]; !ok {
		return fmt.Errorf("invalid verdict %q for section %q (want strong, mixed, or weak)", verdict, criterion)
	}
	return nil
}

// requireObjectList validates a list of objects that each carry the
// given non-empty string fields.
func requireObjectList(m map[string]json.RawMessage, field string, keys []string) error {
	v, ok := m[field]
	if !ok {
		return fmt.Errorf("missing required field %q", field)
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return fmt.Errorf("field %q must be a list of objects", field)
	}
	for i, item := range items {
		for _, k := range keys {
			kv, ok := item[k]
			if !ok {
				return fmt.Errorf("%s[%d] is missing field %q", field, i, k)
			}
			var s string
			if err := json.Unmarshal(kv, &s); err != nil || strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s[%d] field %q must be a non-empty string", field, i, k)
			}
		}
	}
	return nil
}

// requireMomentList validates objects that carry a time_range for
// ground-truth backfill.
func requireMomentList(m map[string]json.RawMessage, field string) error {
	v, ok := m[field]
	if !ok {
		return fmt.Errorf("missing required field %q", field)
	}
	var moments []map[string]json.RawMessage
	if err := json.Unmarshal(v, &moments); err != nil {
		return fmt.Errorf("field %q must be a list of objects", field)
	}
	for i, moment := range moments {
		tv, ok := moment["time_range"]
		if !ok {
			return fmt.Errorf("%s[%d] is missing field %q", field, i, "time_range")
		}
		var tr string
		if err := json.Unmarshal(tv, &tr); err != nil || strings.TrimSpace(tr) == "" {
			return fmt.Errorf("%s[%d] field %q must be a non-empty string", field, i, "time_range")
		}
	}
	return nil
}
