package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-melody/internal/bus"
	"github.com/loqalabs/loqa-melody/internal/protocol"
)

type busPlayer struct {
	bus        *bus.Client
	subject    string
	chunkBytes int
	timeout    time.Duration
	mu         sync.Mutex
	logger     *slog.Logger
}

// NewBusPlayer streams buffers to the speaker named target and waits for it
// to acknowledge that playback has drained. timeout is slack on top of the
// buffer's playing time.
func NewBusPlayer(client *bus.Client, target string, chunkBytes int, timeout time.Duration, logger *slog.Logger) Player {
	if chunkBytes <= 0 {
		chunkBytes = 16384
	}
	return &busPlayer{
		bus:        client,
		subject:    protocol.SpeakerSubject(target),
		chunkBytes: chunkBytes,
		timeout:    timeout,
		logger:     logger,
	}
}

func (b *busPlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sessionID := uuid.NewString()
	chunks := split(pcm, b.chunkBytes)
	conn := b.bus.Conn()

	for i, part := range chunks[:len(chunks)-1] {
		if err := b.bus.PublishJSON(b.subject, b.chunk(sessionID, i, part, sampleRate, false)); err != nil {
			return fail("write", err)
		}
	}

	last := len(chunks) - 1
	data, err := json.Marshal(b.chunk(sessionID, last, chunks[last], sampleRate, true))
	if err != nil {
		return fail("write", err)
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ackDeadline(b.timeout, len(pcm), sampleRate))
		defer cancel()
	}
	reply, err := conn.RequestWithContext(ctx, b.subject, data)
	if err != nil {
		return fail("drain", err)
	}

	var ack protocol.PlaybackAck
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return fail("drain", fmt.Errorf("decode ack: %w", err))
	}
	if ack.Error != "" {
		return fail("remote", errors.New(ack.Error))
	}
	b.logger.Debug("bus playback acknowledged",
		slog.String("session_id", sessionID),
		slog.String("subject", b.subject),
		slog.Int("chunks", len(chunks)))
	return nil
}

func (b *busPlayer) chunk(sessionID string, seq int, pcm []byte, sampleRate int, final bool) protocol.AudioChunk {
	return protocol.AudioChunk{
		SessionID:  sessionID,
		Sequence:   seq,
		SampleRate: sampleRate,
		Channels:   Channels,
		BitDepth:   BitDepth,
		PCM:        pcm,
		Final:      final,
	}
}

// ackDeadline is the buffer's playing time plus slack. Speakers acknowledge
// only once their output has drained.
func ackDeadline(slack time.Duration, samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return slack
	}
	return slack + time.Duration(samples)*time.Second/time.Duration(sampleRate)
}

// split always returns at least one (possibly empty) chunk.
func split(pcm []byte, size int) [][]byte {
	if len(pcm) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := min(start+size, len(pcm))
		chunks = append(chunks, pcm[start:end])
	}
	return chunks
}
