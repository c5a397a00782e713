// Package synth renders single notes into 8-bit PCM buffers.
//
// Buffers hold signed samples in two's complement, one byte per sample, mono.
package synth

import "math"

// Amplitude is the peak sample value of a rendered tone.
const Amplitude = 127

// SampleCount returns floor(durationMS/1000 * sampleRate), never negative.
func SampleCount(durationMS, sampleRate int) int {
	n := int(math.Floor(float64(durationMS) / 1000.0 * float64(sampleRate)))
	if n < 0 {
		return 0
	}
	return n
}

// Tone renders a sine wave at frequency Hz. Phase starts at zero and no fade
// is applied at either end.
func Tone(frequency float64, durationMS, sampleRate int) []byte {
	n := SampleCount(durationMS, sampleRate)
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) * frequency / float64(sampleRate)
		buf[i] = byte(quantize(math.Sin(angle)))
	}
	return buf
}

// Silence renders a zero-valued buffer of the same length Tone would produce.
func Silence(durationMS, sampleRate int) []byte {
	return make([]byte, SampleCount(durationMS, sampleRate))
}

func quantize(v float64) int8 {
	s := math.Round(v * Amplitude)
	switch {
	case math.IsNaN(s):
		return 0
	case s > math.MaxInt8:
		return math.MaxInt8
	case s < math.MinInt8:
		return math.MinInt8
	}
	return int8(s)
}
