package sequence

import (
	"bytes"
	"math"
	"testing"

	"github.com/loqalabs/loqa-melody/internal/synth"
	"github.com/loqalabs/loqa-melody/internal/theory"
)

const (
	rate     = 44100
	duration = 500
	perNote  = 22050
)

func majorScale() []float64 {
	return theory.GenerateScale(theory.FrequencyOf("C"), theory.IntervalsOf("major"))
}

func TestCompileEmpty(t *testing.T) {
	if got := Compile("", majorScale(), duration, rate); len(got) != 0 {
		t.Fatalf("expected empty buffer, got %d samples", len(got))
	}
	if got := Compile("abc-", majorScale(), duration, rate); len(got) != 0 {
		t.Fatalf("expected empty buffer for non-digits, got %d samples", len(got))
	}
}

func TestCompileTriad(t *testing.T) {
	scale := majorScale()
	got := Compile("135", scale, duration, rate)
	if len(got) != 3*perNote {
		t.Fatalf("expected %d samples, got %d", 3*perNote, len(got))
	}
	var want []byte
	for _, degree := range []int{0, 2, 4} {
		want = append(want, synth.Tone(scale[degree], duration, rate)...)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("triad buffer does not match per-note tones")
	}

	symbols := Plan("135", scale)
	freqs := []float64{130.81, 164.81, 195.998}
	for i, s := range symbols {
		if s.Kind != KindTone || math.Abs(s.Frequency-freqs[i]) > 0.01 {
			t.Fatalf("symbol %d = %+v, want tone near %v", i, s, freqs[i])
		}
	}
}

func TestCompileRest(t *testing.T) {
	got := Compile("0", majorScale(), duration, rate)
	if len(got) != perNote {
		t.Fatalf("expected %d samples, got %d", perNote, len(got))
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("rest sample %d not silent", i)
		}
	}
	s := Plan("0", majorScale())
	if len(s) != 1 || s[0].Kind != KindRest || s[0].Degree != -1 {
		t.Fatalf("unexpected rest plan %+v", s)
	}
}

func TestCompileNinthDegree(t *testing.T) {
	scale := majorScale()
	got := Compile("9", scale, duration, rate)
	want := synth.Tone(theory.DefaultFrequency*math.Pow(2, 14.0/12), duration, rate)
	if !bytes.Equal(got, want) {
		t.Fatalf("digit 9 should render the degree above the octave")
	}
}

func TestCompileSkipsNonDigits(t *testing.T) {
	scale := majorScale()
	want := Compile("1", scale, duration, rate)
	for _, input := range []string{"ab1", "1 ", "-1", "x1y", "١" + "1"} {
		if got := Compile(input, scale, duration, rate); !bytes.Equal(got, want) {
			t.Fatalf("Compile(%q) differs from Compile(\"1\")", input)
		}
	}
}

func TestCompileSkipsOutOfRangeDegrees(t *testing.T) {
	short := []float64{220, 440}
	got := Compile("1230", short, duration, rate)
	if len(got) != 3*perNote {
		t.Fatalf("expected digit 3 to be skipped entirely, got %d samples", len(got))
	}
	symbols := Plan("1230", short)
	if len(symbols) != 3 || symbols[2].Kind != KindRest || symbols[2].Position != 3 {
		t.Fatalf("unexpected plan %+v", symbols)
	}
	if got := Compile("5", nil, duration, rate); len(got) != 0 {
		t.Fatalf("expected nothing for an empty scale, got %d samples", len(got))
	}
}

func TestCompileConcatenates(t *testing.T) {
	scale := majorScale()
	input := "31a4159x2653589793"
	whole := Compile(input, scale, 50, rate)
	for split := 0; split <= len(input); split++ {
		left := Compile(input[:split], scale, 50, rate)
		right := Compile(input[split:], scale, 50, rate)
		if !bytes.Equal(whole, append(left, right...)) {
			t.Fatalf("split at %d does not concatenate", split)
		}
	}
}

func TestCompileDeterministic(t *testing.T) {
	scale := majorScale()
	a := Compile("9081726354", scale, duration, rate)
	b := Compile("9081726354", majorScale(), duration, rate)
	if !bytes.Equal(a, b) {
		t.Fatalf("compile is not deterministic")
	}
	if len(a) != 10*perNote {
		t.Fatalf("expected %d samples, got %d", 10*perNote, len(a))
	}
}

func TestKindString(t *testing.T) {
	if KindTone.String() != "tone" || KindRest.String() != "rest" || Kind(7).String() != "unknown" {
		t.Fatalf("unexpected kind names")
	}
}
