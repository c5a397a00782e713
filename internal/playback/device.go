package playback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto permits a single context per process, so every device player shares it.
var device struct {
	once       sync.Once
	ctx        *oto.Context
	sampleRate int
	err        error
}

type devicePlayer struct {
	bufferSize time.Duration
	poll       time.Duration
	mu         sync.Mutex
	logger     *slog.Logger
}

// NewDevicePlayer plays through the default audio device. A zero bufferSize
// keeps the driver default.
func NewDevicePlayer(bufferSize time.Duration, logger *slog.Logger) Player {
	return &devicePlayer{bufferSize: bufferSize, poll: 10 * time.Millisecond, logger: logger}
}

// defaultDrainLatency covers the driver buffer when none was configured.
const defaultDrainLatency = 250 * time.Millisecond

func drainLatency(bufferSize time.Duration) time.Duration {
	if bufferSize > 0 {
		return bufferSize
	}
	return defaultDrainLatency
}

func openDevice(sampleRate int, bufferSize time.Duration) (*oto.Context, error) {
	device.once.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: Channels,
			Format:       oto.FormatUnsignedInt8,
			BufferSize:   bufferSize,
		})
		if err != nil {
			device.err = err
			return
		}
		<-ready
		device.ctx = ctx
		device.sampleRate = sampleRate
	})
	if device.err != nil {
		return nil, device.err
	}
	if device.sampleRate != sampleRate {
		return nil, fmt.Errorf("device already opened at %d Hz, cannot play %d Hz", device.sampleRate, sampleRate)
	}
	return device.ctx, nil
}

func (d *devicePlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	otoCtx, err := openDevice(sampleRate, d.bufferSize)
	if err != nil {
		return fail("open", err)
	}
	if err := otoCtx.Err(); err != nil {
		return fail("open", err)
	}

	p := otoCtx.NewPlayer(bytes.NewReader(toUnsigned(pcm)))
	defer func() {
		if err := p.Close(); err != nil {
			d.logger.Warn("failed to close device player", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	p.Play()

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for p.IsPlaying() {
		select {
		case <-ctx.Done():
			p.Pause()
			return fail("write", ctx.Err())
		case <-ticker.C:
		}
	}
	if err := p.Err(); err != nil {
		return fail("drain", err)
	}

	// IsPlaying turns false once the mixer has taken the last samples; the
	// driver buffer still holds up to one buffer of audio.
	latency := time.NewTimer(drainLatency(d.bufferSize))
	defer latency.Stop()
	select {
	case <-ctx.Done():
		return fail("drain", ctx.Err())
	case <-latency.C:
	}

	d.logger.Debug("device playback drained",
		slog.Int("samples", len(pcm)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
