// Package sequence turns digit strings into concatenated PCM buffers.
package sequence

import "github.com/loqalabs/loqa-melody/internal/synth"

// Kind distinguishes sounding symbols from rests.
type Kind int

const (
	KindTone Kind = iota
	KindRest
)

func (k Kind) String() string {
	switch k {
	case KindTone:
		return "tone"
	case KindRest:
		return "rest"
	default:
		return "unknown"
	}
}

// Symbol is one audible (or silent) step derived from a digit.
type Symbol struct {
	Position  int // byte offset of the digit in the input
	Digit     byte
	Kind      Kind
	Degree    int // zero-based scale index, -1 for rests
	Frequency float64
}

// Plan maps each ASCII digit of digits to a Symbol, in input order.
// Non-digits and digits whose degree falls outside scale are skipped.
func Plan(digits string, scale []float64) []Symbol {
	symbols := make([]Symbol, 0, len(digits))
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			continue
		}
		if c == '0' {
			symbols = append(symbols, Symbol{Position: i, Digit: c, Kind: KindRest, Degree: -1})
			continue
		}
		degree := int(c-'0') - 1
		if degree >= len(scale) {
			continue
		}
		symbols = append(symbols, Symbol{
			Position:  i,
			Digit:     c,
			Kind:      KindTone,
			Degree:    degree,
			Frequency: scale[degree],
		})
	}
	return symbols
}

// Render synthesizes every symbol for durationMS and concatenates the results.
func Render(symbols []Symbol, durationMS, sampleRate int) []byte {
	per := synth.SampleCount(durationMS, sampleRate)
	out := make([]byte, 0, per*len(symbols))
	for _, s := range symbols {
		switch s.Kind {
		case KindRest:
			out = append(out, synth.Silence(durationMS, sampleRate)...)
		case KindTone:
			out = append(out, synth.Tone(s.Frequency, durationMS, sampleRate)...)
		}
	}
	return out
}

// Compile is Render(Plan(digits, scale), durationMS, sampleRate).
func Compile(digits string, scale []float64, durationMS, sampleRate int) []byte {
	return Render(Plan(digits, scale), durationMS, sampleRate)
}
