package theory

// Mode is a named scale template of semitone offsets from the root.
type Mode struct {
	Name      string
	Intervals []int
}

// DefaultMode is used whenever a mode name is not recognized.
const DefaultMode = "major"

// Every template starts at the root, reaches the octave at 12 and adds one
// degree past it.
var modes = []Mode{
	{Name: "major", Intervals: []int{0, 2, 4, 5, 7, 9, 11, 12, 14}},
	{Name: "minor", Intervals: []int{0, 2, 3, 5, 7, 8, 10, 12, 14}},
	{Name: "dorian", Intervals: []int{0, 2, 3, 5, 7, 9, 10, 12, 14}},
	{Name: "phrygian", Intervals: []int{0, 1, 3, 5, 7, 8, 10, 12, 13}},
	{Name: "lydian", Intervals: []int{0, 2, 4, 6, 7, 9, 11, 12, 14}},
	{Name: "mixolydian", Intervals: []int{0, 2, 4, 5, 7, 9, 10, 12, 14}},
	{Name: "locrian", Intervals: []int{0, 1, 3, 5, 6, 8, 10, 12, 13}},
}

// LookupMode matches name exactly; callers lower-case user input first.
// The returned Mode owns a copy of its intervals.
func LookupMode(name string) (Mode, bool) {
	for _, m := range modes {
		if m.Name == name {
			return m.clone(), true
		}
	}
	return Mode{}, false
}

// ResolveMode returns the named mode or the DefaultMode.
func ResolveMode(name string) Mode {
	if m, ok := LookupMode(name); ok {
		return m
	}
	m, _ := LookupMode(DefaultMode)
	return m
}

// IntervalsOf returns the interval template for name, falling back to major.
func IntervalsOf(name string) []int {
	return ResolveMode(name).Intervals
}

// Modes returns the names of all built-in modes.
func Modes() []string {
	names := make([]string, 0, len(modes))
	for _, m := range modes {
		names = append(names, m.Name)
	}
	return names
}

func (m Mode) clone() Mode {
	intervals := make([]int, len(m.Intervals))
	copy(intervals, m.Intervals)
	return Mode{Name: m.Name, Intervals: intervals}
}
