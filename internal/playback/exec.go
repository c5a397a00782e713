package playback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execPlayer struct {
	cmd    []string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewExecPlayer plays by running command with the path of a temporary WAV
// file appended, e.g. "aplay -q" or "afplay".
func NewExecPlayer(command string, logger *slog.Logger) (Player, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command is empty")
	}
	return &execPlayer{cmd: args, logger: logger}, nil
}

func (e *execPlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp("", "loqa_melody_*.wav")
	if err != nil {
		return fail("open", fmt.Errorf("temp file: %w", err))
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeWav(file, pcm, sampleRate); err != nil {
		return fail("write", err)
	}

	args := append(append([]string{}, e.cmd[1:]...), file.Name())
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return fail("drain", fmt.Errorf("%s: %w: %s", e.cmd[0], err, strings.TrimSpace(stderr.String())))
	}
	e.logger.Debug("exec playback finished", slog.String("command", e.cmd[0]), slog.Int("samples", len(pcm)))
	return nil
}
