package gcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	videointelligence "cloud.google.com/go/videointelligence/apiv1"
	vipb "cloud.google.com/go/videointelligence/apiv1/videointelligencepb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/ctxutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
)

// Body-language thresholds. Tuned against single-presenter pitch
// recordings; calibration data on the job can override the shoulder
// baseline.
const (
	lookAwayMinSec      = 2.0
	turnedAwayMinSec    = 3.0
	eyeContactThreshold = 0.5
	shoulderDeviation   = 0.035
	facingWidthRatio    = 0.55
)

// VideoService derives body-language timelines from the durably stored
// media via the provider's face/person detection.
type VideoService interface {
	ExtractBodyLanguage(ctx context.Context, videoURI string, calibration map[string]any) (*domain.BodyLanguage, error)
	Close() error
}

type videoService struct {
	log    *logger.Logger
	client *videointelligence.Client
}

func NewVideoService(log *logger.Logger) (VideoService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	ctx := context.Background()
	client, err := videointelligence.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("videointelligence client: %w", err)
	}
	return &videoService{
		log:    log.With("service", "gcp.Video"),
		client: client,
	}, nil
}

func (s *videoService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *videoService) ExtractBodyLanguage(ctx context.Context, videoURI string, calibration map[string]any) (*domain.BodyLanguage, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	if !strings.HasPrefix(videoURI, "gs://") {
		return nil, fmt.Errorf("videoURI must be gs://... got %q", videoURI)
	}

	op, err := s.client.AnnotateVideo(ctx, &vipb.AnnotateVideoRequest{
		InputUri: videoURI,
		Features: []vipb.Feature{
			vipb.Feature_FACE_DETECTION,
			vipb.Feature_PERSON_DETECTION,
		},
		VideoContext: &vipb.VideoContext{
			FaceDetectionConfig: &vipb.FaceDetectionConfig{
				IncludeBoundingBoxes: true,
				IncludeAttributes:    true,
			},
			PersonDetectionConfig: &vipb.PersonDetectionConfig{
				IncludeBoundingBoxes: true,
				IncludePoseLandmarks: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("videointelligence AnnotateVideo: %w", err)
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("videointelligence annotate wait: %w", err)
	}
	if resp == nil || len(resp.AnnotationResults) == 0 {
		return nil, fmt.Errorf("videointelligence returned no annotation results")
	}
	return buildBodyLanguage(resp.AnnotationResults[0], calibration), nil
}

type sample struct {
	sec   float64
	value float64
}

func buildBodyLanguage(res *vipb.VideoAnnotationResults, calibration map[string]any) *domain.BodyLanguage {
	bl := &domain.BodyLanguage{
		PostureTimeline:    []domain.TimelinePoint{},
		EyeContactTimeline: []domain.TimelinePoint{},
		FacingTimeline:     []domain.TimelinePoint{},
		UnstableEvents:     []domain.BodyEvent{},
		LookAwayEvents:     []domain.BodyEvent{},
		TurnedAwayEvents:   []domain.BodyEvent{},
		Summary:            map[string]any{},
	}

	eye := eyeContactSamples(res)
	center, width := shoulderSamples(res)

	baseline := calibratedShoulderWidth(calibration)

	for _, sm := range eye {
		state := "contact"
		if sm.value < eyeContactThreshold {
			state = "away"
		}
		bl.EyeContactTimeline = append(bl.EyeContactTimeline, domain.TimelinePoint{Sec: sm.sec, Value: sm.value, State: state})
	}
	bl.LookAwayEvents = eventsBelow(eye, eyeContactThreshold, lookAwayMinSec, "away")

	if len(center) > 0 {
		base := rollingMean(center, 10)
		for i, sm := range center {
			dev := sm.value - base[i]
			if dev < 0 {
				dev = -dev
			}
			state := "stable"
			if dev > shoulderDeviation {
				state = "unstable"
			}
			bl.PostureTimeline = append(bl.PostureTimeline, domain.TimelinePoint{Sec: sm.sec, Value: dev, State: state})
		}
		bl.UnstableEvents = eventsAbove(deviationSeries(center, base), shoulderDeviation, lookAwayMinSec, "")
	}

	if len(width) > 0 {
		ref := baseline
		if ref <= 0 {
			ref = maxValue(width)
		}
		facing := make([]sample, len(width))
		for i, sm := range width {
			ratio := 0.0
			if ref > 0 {
				ratio = sm.value / ref
			}
			facing[i] = sample{sec: sm.sec, value: ratio}
			state := "facing"
			if ratio < facingWidthRatio {
				state = "turned"
			}
			bl.FacingTimeline = append(bl.FacingTimeline, domain.TimelinePoint{Sec: sm.sec, Value: ratio, State: state})
		}
		bl.TurnedAwayEvents = eventsBelow(facing, facingWidthRatio, turnedAwayMinSec, "away")
	}

	bl.Summary = summarize(bl)
	return bl
}

func calibratedShoulderWidth(calibration map[string]any) float64 {
	if calibration == nil {
		return 0
	}
	if v, ok := calibration["shoulder_width"]; ok {
		if f, ok := v.(float64); ok && f > 0 {
			return f
		}
	}
	return 0
}

func eyeContactSamples(res *vipb.VideoAnnotationResults) []sample {
	var out []sample
	for _, fa := range res.FaceDetectionAnnotations {
		for _, track := range fa.Tracks {
			for _, ts := range track.TimestampedObjects {
				sec := offsetSec(ts.TimeOffset)
				val := 0.0
				for _, attr := range ts.Attributes {
					if strings.EqualFold(attr.Name, "looking_at_camera") {
						val = float64(attr.Confidence)
					}
				}
				out = append(out, sample{sec: sec, value: val})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].sec < out[j].sec })
	return out
}

// shoulderSamples reads left/right shoulder landmarks per timestamp and
// returns the horizontal midpoint series and the shoulder-width series,
// both in normalized frame coordinates.
func shoulderSamples(res *vipb.VideoAnnotationResults) (center, width []sample) {
	for _, pa := range res.PersonDetectionAnnotations {
		for _, track := range pa.Tracks {
			for _, ts := range track.TimestampedObjects {
				var lx, rx float64
				var haveL, haveR bool
				for _, lm := range ts.Landmarks {
					switch strings.ToLower(lm.Name) {
					case "left_shoulder":
						if lm.Point != nil {
							lx, haveL = float64(lm.Point.X), true
						}
					case "right_shoulder":
						if lm.Point != nil {
							rx, haveR = float64(lm.Point.X), true
						}
					}
				}
				if !haveL || !haveR {
					continue
				}
				sec := offsetSec(ts.TimeOffset)
				center = append(center, sample{sec: sec, value: (lx + rx) / 2})
				w := lx - rx
				if w < 0 {
					w = -w
				}
				width = append(width, sample{sec: sec, value: w})
			}
		}
	}
	sort.Slice(center, func(i, j int) bool { return center[i].sec < center[j].sec })
	sort.Slice(width, func(i, j int) bool { return width[i].sec < width[j].sec })
	return center, width
}

func deviationSeries(center []sample, base []float64) []sample {
	out := make([]sample, len(center))
	for i, sm := range center {
		dev := sm.value - base[i]
		if dev < 0 {
			dev = -dev
		}
		out[i] = sample{sec: sm.sec, value: dev}
	}
	return out
}

func rollingMean(in []sample, window int) []float64 {
	out := make([]float64, len(in))
	sum := 0.0
	for i := range in {
		sum += in[i].value
		if i >= window {
			sum -= in[i-window].value
		}
		n := i + 1
		if n > window {
			n = window
		}
		out[i] = sum / float64(n)
	}
	return out
}

func maxValue(in []sample) float64 {
	max := 0.0
	for _, sm := range in {
		if sm.value > max {
			max = sm.value
		}
	}
	return max
}

func eventsBelow(in []sample, threshold, minDur float64, direction string) []domain.BodyEvent {
	return collectEvents(in, func(v float64) bool { return v < threshold }, minDur, direction)
}

func eventsAbove(in []sample, threshold, minDur float64, direction string) []domain.BodyEvent {
	return collectEvents(in, func(v float64) bool { return v > threshold }, minDur, direction)
}

func collectEvents(in []sample, hit func(float64) bool, minDur float64, direction string) []domain.BodyEvent {
	events := []domain.BodyEvent{}
	start := -1.0
	last := 0.0
	for _, sm := range in {
		if hit(sm.value) {
			if start < 0 {
				start = sm.sec
			}
			last = sm.sec
			continue
		}
		if start >= 0 {
			events = appendEvent(events, start, last, minDur, direction)
			start = -1
		}
	}
	if start >= 0 {
		events = appendEvent(events, start, last, minDur, direction)
	}
	return events
}

func appendEvent(events []domain.BodyEvent, start, end, minDur float64, direction string) []domain.BodyEvent {
	dur := end - start
	if dur < minDur {
		return events
	}
	ev := domain.BodyEvent{
		StartSec:    start,
		EndSec:      end,
		DurationSec: dur,
		TimeRange:   domain.FormatTimeRange(start, end),
	}
	if direction != "" {
		ev.Direction = direction
	}
	return append(events, ev)
}

func summarize(bl *domain.BodyLanguage) map[string]any {
	pct := func(points []domain.TimelinePoint, good string) float64 {
		if len(points) == 0 {
			return 0
		}
		n := 0
		for _, p := range points {
			if p.State == good {
				n++
			}
		}
		return float64(n) / float64(len(points)) * 100
	}
	return map[string]any{
		"posture_stability_pct": pct(bl.PostureTimeline, "stable"),
		"eye_contact_pct":       pct(bl.EyeContactTimeline, "contact"),
		"facing_pct":            pct(bl.FacingTimeline, "facing"),
		"unstable_event_count":  len(bl.UnstableEvents),
		"look_away_count":       len(bl.LookAwayEvents),
		"turned_away_count":     len(bl.TurnedAwayEvents),
	}
}

func offsetSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}
