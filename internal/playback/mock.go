package playback

import (
	"context"
	"sync"
)

// Mock records every buffer it is asked to play.
type Mock struct {
	mu    sync.Mutex
	plays []Recorded
	err   error
}

// Recorded is one call to Mock.Play.
type Recorded struct {
	PCM        []byte
	SampleRate int
}

func NewMock() *Mock {
	return &Mock{}
}

// FailWith makes subsequent calls return err wrapped in ErrPlayback.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *Mock) Play(_ context.Context, pcm []byte, sampleRate int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return fail("write", m.err)
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	m.plays = append(m.plays, Recorded{PCM: buf, SampleRate: sampleRate})
	return nil
}

// Plays returns the recorded calls in order.
func (m *Mock) Plays() []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Recorded, len(m.plays))
	copy(out, m.plays)
	return out
}
