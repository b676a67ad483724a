package gcp

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestParseOffsetSeconds(t *testing.T) {
	cases := map[string]float64{
		"1.100s":  1.1,
		"0s":      0,
		"":        0,
		"garbage": 0,
		" 12.5s ": 12.5,
		"3":       3,
	}
	for in, want := range cases {
		if got := parseOffsetSeconds(in); got != want {
			t.Fatalf("parseOffsetSeconds(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNormalizeSpeakerLabel(t *testing.T) {
	cases := map[string]string{
		"":         "",
		"1":        "spk1",
		" 2 ":      "spk2",
		"spk3":     "spk3",
		"SPK4":     "spk4",
		"speakerA": "spk_speakera",
	}
	for in, want := range cases {
		if got := normalizeSpeakerLabel(in); got != want {
			t.Fatalf("normalizeSpeakerLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseBatchOutput(t *testing.T) {
	data := []byte(`{
		"results": [
			{
				"alternatives": [
					{
						"transcript": "we build rockets",
						"words": [
							{"word": "we", "startOffset": "0.100s", "endOffset": "0.300s", "speakerLabel": "1"},
							{"word": "build", "startOffset": "0.400s", "endOffset": "0.800s", "speakerLabel": "1"},
							{"word": "rockets", "startOffset": "0.900s", "endOffset": "1.500s", "speakerLabel": "2"}
						]
					}
				]
			},
			{"alternatives": [{"transcript": "", "words": []}]},
			{
				"alternatives": [
					{
						"transcript": "for the mid market",
						"words": [
							{"word": "for", "startOffset": "2.000s", "endOffset": "2.200s"},
							{"word": "the", "startOffset": "2.300s", "endOffset": "2.400s"},
							{"word": "mid", "startOffset": "2.500s", "endOffset": "2.700s"},
							{"word": "market", "startOffset": "2.800s", "endOffset": "3.300s"}
						]
					}
				]
			}
		]
	}`)

	res, err := parseBatchOutput(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.FullText != "we build rockets for the mid market" {
		t.Fatalf("unexpected full text: %q", res.FullText)
	}
	if len(res.Words) != 7 {
		t.Fatalf("expected 7 words, got %d", len(res.Words))
	}
	if res.Words[0].Speaker == nil || *res.Words[0].Speaker != "spk1" {
		t.Fatalf("expected speaker spk1, got %v", res.Words[0].Speaker)
	}
	if res.Words[2].Speaker == nil || *res.Words[2].Speaker != "spk2" {
		t.Fatalf("expected speaker spk2, got %v", res.Words[2].Speaker)
	}
	if res.Words[3].Speaker != nil {
		t.Fatalf("expected no speaker on undiarized word, got %v", *res.Words[3].Speaker)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(res.Segments))
	}
	if res.Segments[0].Start != 0.1 || res.Segments[0].End != 1.5 {
		t.Fatalf("unexpected segment bounds: %+v", res.Segments[0])
	}
}

func TestParseBatchOutput_RejectsNonJSON(t *testing.T) {
	if _, err := parseBatchOutput([]byte("not json")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestIsDiarizationUnsupported(t *testing.T) {
	if !isDiarizationUnsupported(errors.New("recognizer does not support speaker diarization")) {
		t.Fatalf("expected diarization error to match")
	}
	if isDiarizationUnsupported(errors.New("quota exceeded")) {
		t.Fatalf("quota error must not match")
	}
	if isDiarizationUnsupported(nil) {
		t.Fatalf("nil must not match")
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(status.Error(codes.Unavailable, "down")) {
		t.Fatalf("Unavailable should be retryable")
	}
	if !isRetryable(status.Error(codes.ResourceExhausted, "quota")) {
		t.Fatalf("ResourceExhausted should be retryable")
	}
	if isRetryable(status.Error(codes.InvalidArgument, "bad")) {
		t.Fatalf("InvalidArgument must not be retryable")
	}
	if isRetryable(errors.New("plain")) {
		t.Fatalf("non-status errors must not be retryable")
	}
}

func TestParseGCSURI(t *testing.T) {
	bucket, key, err := ParseGCSURI("gs://media-bucket/jobs/abc/audio.wav")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if bucket != "media-bucket" || key != "jobs/abc/audio.wav" {
		t.Fatalf("unexpected parts: %q %q", bucket, key)
	}
	if _, _, err := ParseGCSURI("https://example.com/x"); err == nil {
		t.Fatalf("expected non-gs URI to fail")
	}
	if _, _, err := ParseGCSURI("gs://bucket-only"); err == nil {
		t.Fatalf("expected missing key to fail")
	}
}
