package theory

// PitchClass identifies one of the twelve chromatic pitch classes.
type PitchClass int

const (
	C PitchClass = iota
	Db
	D
	Eb
	E
	F
	Gb
	G
	Ab
	A
	Bb
	B
)

// DefaultRoot is used whenever a note name is not recognized.
const DefaultRoot = C

// DefaultFrequency is the frequency of DefaultRoot in Hz.
const DefaultFrequency = 130.81

var pitchNames = [...]string{"C", "Db", "D", "Eb", "E", "F", "Gb", "G", "Ab", "A", "Bb", "B"}

var pitchFrequencies = [...]float64{
	DefaultFrequency,
	138.59,
	146.83,
	155.56,
	164.81,
	174.61,
	185,
	196,
	207.65,
	220,
	233.08,
	246.94,
}

func (p PitchClass) String() string {
	if p < C || p > B {
		return "PitchClass(?)"
	}
	return pitchNames[p]
}

// Frequency returns the base frequency of the pitch class in Hz.
func (p PitchClass) Frequency() float64 {
	if p < C || p > B {
		return DefaultFrequency
	}
	return pitchFrequencies[p]
}

// ParsePitchClass matches name exactly against the flat spellings.
func ParsePitchClass(name string) (PitchClass, bool) {
	for i, n := range pitchNames {
		if n == name {
			return PitchClass(i), true
		}
	}
	return DefaultRoot, false
}

// LookupFrequency reports the frequency for name and whether name was recognized.
func LookupFrequency(name string) (float64, bool) {
	p, ok := ParsePitchClass(name)
	if !ok {
		return 0, false
	}
	return p.Frequency(), true
}

// FrequencyOf returns the frequency for name, falling back to DefaultFrequency.
// Matching is case-sensitive.
func FrequencyOf(name string) float64 {
	if f, ok := LookupFrequency(name); ok {
		return f
	}
	return DefaultFrequency
}

// Notes lists every recognized note name in chromatic order.
func Notes() []string {
	out := make([]string, len(pitchNames))
	copy(out, pitchNames[:])
	return out
}
