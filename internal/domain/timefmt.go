package domain

import "fmt"

// FormatTimestamp renders seconds as "M:SS.s", e.g. 7.5 -> "0:07.5".
func FormatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	m := int(sec) / 60
	s := sec - float64(m*60)
	return fmt.Sprintf("%d:%04.1f", m, s)
}

// FormatTimeRange renders a human-readable window like "0:07.5–0:11.0".
func FormatTimeRange(startSec, endSec float64) string {
	return FormatTimestamp(startSec) + "–" + FormatTimestamp(endSec)
}
