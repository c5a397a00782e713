package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/loqalabs/loqa-melody/internal/bus"
	"github.com/loqalabs/loqa-melody/internal/config"
	"github.com/loqalabs/loqa-melody/internal/melody"
	"github.com/loqalabs/loqa-melody/internal/playback"
	"github.com/loqalabs/loqa-melody/internal/sequence"
	"github.com/loqalabs/loqa-melody/internal/telemetry"
)

var version = "0.1.0-dev"

var prompts = [3]string{
	"Enter root note (C, D, E, etc.): ",
	"Enter mode (major, minor, dorian, phrygian, lydian, mixolydian, locrian): ",
	"Enter a number sequence: ",
}

func main() {
	var (
		configPath  string
		playerMode  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (optional)")
	flag.StringVar(&playerMode, "player", "", "Override player mode (device|exec|bus|mock)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [root mode digits]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var overrides []func(*config.Config)
	if playerMode != "" {
		overrides = append(overrides, func(c *config.Config) { c.Player.Mode = playerMode })
	}
	cfg, err := config.Load(configPath, overrides...)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	level.Set(telemetry.Level(cfg.Telemetry.LogLevel))

	tokens, err := readTokens(flag.Args(), os.Stdin, os.Stdout)
	if err != nil {
		logger.Error("failed to read input", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, tokens, logger); err != nil {
		logger.Error("melody failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// readTokens takes root, mode and digits from args and prompts for any that
// are missing. Input is split on whitespace.
func readTokens(args []string, in io.Reader, out io.Writer) ([3]string, error) {
	var tokens [3]string
	n := copy(tokens[:], args)
	if n == len(tokens) {
		return tokens, nil
	}

	scanner := bufio.NewScanner(in)
	scanner.Split(bufio.ScanWords)
	for i := n; i < len(tokens); i++ {
		fmt.Fprint(out, prompts[i])
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return tokens, err
			}
			return tokens, errors.New("unexpected end of input")
		}
		tokens[i] = scanner.Text()
	}
	return tokens, nil
}

func run(ctx context.Context, cfg config.Config, tokens [3]string, logger *slog.Logger) error {
	var busClient *bus.Client
	if cfg.Player.Mode == config.PlayerBus {
		client, err := bus.Connect(ctx, cfg.Bus, bus.ConnName(cfg.RuntimeName, "cli"), logger)
		if err != nil {
			return err
		}
		defer client.Close()
		busClient = client
	}

	player, err := playback.New(cfg.Player, busClient, logger)
	if err != nil {
		return err
	}

	m := melody.NewRenderer(logger).Render(ctx, melody.Request{
		Root:   tokens[0],
		Mode:   strings.ToLower(tokens[1]),
		Digits: tokens[2],
	})
	for _, sym := range m.Symbols {
		if sym.Kind == sequence.KindRest {
			logger.Info("playing rest for digit",
				slog.String("digit", string(sym.Digit)),
				slog.String("kind", sym.Kind.String()))
			continue
		}
		logger.Info("playing note for digit",
			slog.String("digit", string(sym.Digit)),
			slog.String("kind", sym.Kind.String()),
			slog.Float64("frequency_hz", sym.Frequency))
	}

	return player.Play(ctx, m.PCM, m.SampleRate)
}
