package domain

import "testing"

func TestFormatTimestamp(t *testing.T) {
	cases := map[float64]string{
		0:     "0:00.0",
		7.5:   "0:07.5",
		59.9:  "0:59.9",
		60:    "1:00.0",
		125.3: "2:05.3",
		-3:    "0:00.0",
	}
	for in, want := range cases {
		if got := FormatTimestamp(in); got != want {
			t.Fatalf("FormatTimestamp(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatTimeRange(t *testing.T) {
	if got := FormatTimeRange(7.5, 11.0); got != "0:07.5–0:11.0" {
		t.Fatalf("unexpected range: %q", got)
	}
}
