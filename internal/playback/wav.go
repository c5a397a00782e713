package playback

import (
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWav encodes signed 8-bit mono PCM as an unsigned 8-bit WAV stream.
func writeWav(w io.WriteSeeker, pcm []byte, sampleRate int) error {
	unsigned := toUnsigned(pcm)
	data := make([]int, len(unsigned))
	for i, b := range unsigned {
		data[i] = int(b)
	}
	buffer := &audio.IntBuffer{Format: Format(sampleRate), Data: data, SourceBitDepth: BitDepth}

	enc := wav.NewEncoder(w, sampleRate, BitDepth, Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
