package rounds

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseJSONObject decodes the model output as a JSON object. When the
// output has prose or fencing around the object, it recovers by slicing
// between the first '{' and the last '}' and re-parsing.
func parseJSONObject(out string) ([]byte, error) {
	trimmed := strings.TrimSpace(out)
	if isJSONObject(trimmed) {
		return []byte(trimmed), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("model output contains no JSON object")
	}
	sliced := trimmed[start : end+1]
	if !isJSONObject(sliced) {
		return nil, fmt.Errorf("model output is not valid JSON even after brace slicing")
	}
	return []byte(sliced), nil
}

func isJSONObject(s string) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &m) == nil
}

// repairPrompt asks for a corrected response, embedding the invalid
// output verbatim so the model can fix it in place.
func repairPrompt(invalid string) string {
	return "Your previous output was invalid JSON or did not match the required schema. " +
		"Return ONLY corrected valid JSON matching the schema. Here is the invalid output:\n" +
		"<<<" + invalid + ">>>"
}
