// Package playback hands finished PCM buffers to an audio output.
//
// Every Player accepts mono, signed 8-bit samples and blocks until the whole
// buffer has been emitted. Resources acquired for a call are released before
// it returns, on success and on failure.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-audio/audio"

	"github.com/loqalabs/loqa-melody/internal/bus"
	"github.com/loqalabs/loqa-melody/internal/config"
)

const (
	Channels = 1
	BitDepth = 8
)

// ErrPlayback wraps every failure to open, start, write or drain an output.
var ErrPlayback = errors.New("playback failed")

// Player is the contract for emitting PCM audio.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}

// Format describes the buffers Players accept.
func Format(sampleRate int) *audio.Format {
	return &audio.Format{NumChannels: Channels, SampleRate: sampleRate}
}

// New builds the Player selected by cfg.Mode. busClient is only required
// for the bus mode.
func New(cfg config.PlayerConfig, busClient *bus.Client, logger *slog.Logger) (Player, error) {
	log := logger.With(slog.String("component", "player"), slog.String("mode", cfg.Mode))
	switch cfg.Mode {
	case config.PlayerDevice:
		return NewDevicePlayer(time.Duration(cfg.BufferSizeMS)*time.Millisecond, log), nil
	case config.PlayerExec:
		return NewExecPlayer(cfg.Command, log)
	case config.PlayerBus:
		if busClient == nil {
			return nil, errors.New("bus player requires bus client")
		}
		return NewBusPlayer(busClient, cfg.Target, cfg.ChunkBytes, time.Duration(cfg.TimeoutMS)*time.Millisecond, log), nil
	case config.PlayerMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown player mode %q", cfg.Mode)
	}
}

func fail(stage string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPlayback, stage, err)
}

// toUnsigned offsets signed samples into the unsigned 8-bit range used by
// WAV files and most 8-bit device formats.
func toUnsigned(pcm []byte) []byte {
	out := make([]byte, len(pcm))
	for i, b := range pcm {
		out[i] = b ^ 0x80
	}
	return out
}
