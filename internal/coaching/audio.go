package coaching

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// AnalyzeWAVEnergy reads a 16-bit PCM mono wav file and computes one
// loudness/pitch frame per second. Pitch is a coarse autocorrelation
// estimate bounded to the speaking range; seconds that are effectively
// silent report 0 Hz.
func AnalyzeWAVEnergy(path string) ([]AudioFrame, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	samples, sampleRate, err := decodePCM16Mono(raw)
	if err != nil {
		return nil, err
	}
	if sampleRate <= 0 || len(samples) == 0 {
		return []AudioFrame{}, nil
	}

	frames := []AudioFrame{}
	for sec := 0; sec*sampleRate < len(samples); sec++ {
		lo := sec * sampleRate
		hi := lo + sampleRate
		if hi > len(samples) {
			hi = len(samples)
		}
		win := samples[lo:hi]

		rms := rmsOf(win)
		rmsDB := 20 * math.Log10(rms+1e-9)

		f0 := 0.0
		if rms > 1e-4 {
			f0 = estimatePitch(win, sampleRate)
		}
		frames = append(frames, AudioFrame{
			Sec:   sec,
			RMSDB: round1(rmsDB),
			F0Hz:  round1(f0),
		})
	}
	return frames, nil
}

func decodePCM16Mono(raw []byte) ([]float64, int, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE file")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		data       []byte
	)
	pos := 12
	for pos+8 <= len(raw) {
		id := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(raw) {
			size = len(raw) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("wav fmt chunk too short")
			}
			format := int(binary.LittleEndian.Uint16(raw[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(raw[body+14 : body+16]))
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported wav encoding %d (want PCM)", format)
			}
		case "data":
			data = raw[body : body+size]
		}
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}
	if sampleRate == 0 || data == nil {
		return nil, 0, fmt.Errorf("wav missing fmt or data chunk")
	}
	if channels != 1 || bits != 16 {
		return nil, 0, fmt.Errorf("unsupported wav layout: %d ch / %d bit (want mono 16-bit)", channels, bits)
	}

	n := len(data) / 2
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[2*i : 2*i+2]))
		samples[i] = float64(v) / 32768.0
	}
	return samples, sampleRate, nil
}

func rmsOf(win []float64) float64 {
	if len(win) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range win {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(win)))
}

// estimatePitch finds the autocorrelation peak between 50 and 400 Hz.
func estimatePitch(win []float64, sampleRate int) float64 {
	minLag := sampleRate / 400
	maxLag := sampleRate / 50
	if maxLag >= len(win) {
		maxLag = len(win) - 1
	}
	if minLag < 1 || minLag >= maxLag {
		return 0
	}

	bestLag := 0
	bestCorr := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		corr := 0.0
		for i := 0; i+lag < len(win); i++ {
			corr += win[i] * win[i+lag]
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 || bestCorr <= 0 {
		return 0
	}
	return float64(sampleRate) / float64(bestLag)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
