package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Node        NodeConfig      `yaml:"node"`
	Bus         BusConfig       `yaml:"bus"`
	Player      PlayerConfig    `yaml:"player"`
	Composer    ComposerConfig  `yaml:"composer"`
	Speaker     SpeakerConfig   `yaml:"speaker"`
}

// NodeConfig identifies this runtime to its peers on the bus.
type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// Player modes.
const (
	PlayerDevice = "device"
	PlayerExec   = "exec"
	PlayerBus    = "bus"
	PlayerMock   = "mock"
)

type PlayerConfig struct {
	Mode         string `yaml:"mode"` // device, exec, bus, mock
	Command      string `yaml:"command"`
	BufferSizeMS int    `yaml:"buffer_size_ms"`
	Target       string `yaml:"target"`
	ChunkBytes   int    `yaml:"chunk_bytes"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type ComposerConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SpeakerConfig struct {
	Enabled bool         `yaml:"enabled"`
	Target  string       `yaml:"target"`
	Player  PlayerConfig `yaml:"player"`
}

func defaultPlayer() PlayerConfig {
	return PlayerConfig{
		Mode:         PlayerDevice,
		Command:      "aplay -q",
		BufferSizeMS: 0,
		Target:       "default",
		ChunkBytes:   16384,
		TimeoutMS:    120000,
	}
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-melody",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Node: NodeConfig{
			ID:                "loqa-melody-node",
			HeartbeatInterval: 5000,
			HeartbeatTimeout:  15000,
		},
		Bus: BusConfig{
			Embedded:       false,
			Host:           "127.0.0.1",
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Player:   defaultPlayer(),
		Composer: ComposerConfig{Enabled: false},
		Speaker: SpeakerConfig{
			Enabled: false,
			Target:  "default",
			Player:  defaultPlayer(),
		},
	}
}

// Load overlays the YAML file at path (if any) and LOQA_* environment
// variables on Default, then applies overrides in order before validating.
func Load(path string, overrides ...func(*Config)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	for _, override := range overrides {
		override(&cfg)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// UsesBus reports whether any enabled component needs a NATS connection.
func (c Config) UsesBus() bool {
	return c.Composer.Enabled || c.Speaker.Enabled || c.Player.Mode == PlayerBus
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overridePlayer(&cfg.Player, "LOQA_PLAYER")
	overrideBool(&cfg.Composer.Enabled, "LOQA_COMPOSER_ENABLED")
	overrideBool(&cfg.Speaker.Enabled, "LOQA_SPEAKER_ENABLED")
	overrideString(&cfg.Speaker.Target, "LOQA_SPEAKER_TARGET")
	overridePlayer(&cfg.Speaker.Player, "LOQA_SPEAKER_PLAYER")
}

func overridePlayer(p *PlayerConfig, prefix string) {
	overrideString(&p.Mode, prefix+"_MODE")
	overrideString(&p.Command, prefix+"_COMMAND")
	overrideInt(&p.BufferSizeMS, prefix+"_BUFFER_SIZE_MS")
	overrideString(&p.Target, prefix+"_TARGET")
	overrideInt(&p.ChunkBytes, prefix+"_CHUNK_BYTES")
	overrideInt(&p.TimeoutMS, prefix+"_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if cfg.UsesBus() && len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.UsesBus() {
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must exceed node.heartbeat_interval_ms")
		}
	}
	if err := validatePlayer("player", cfg.Player); err != nil {
		return err
	}
	if cfg.Speaker.Enabled {
		if cfg.Speaker.Target == "" {
			return errors.New("speaker.target must not be empty when the speaker is enabled")
		}
		if cfg.Speaker.Player.Mode == PlayerBus {
			return errors.New("speaker.player.mode must not be bus")
		}
		if err := validatePlayer("speaker.player", cfg.Speaker.Player); err != nil {
			return err
		}
	}
	return nil
}

func validatePlayer(section string, p PlayerConfig) error {
	switch p.Mode {
	case PlayerDevice, PlayerExec, PlayerBus, PlayerMock:
	default:
		return fmt.Errorf("%s.mode must be one of device|exec|bus|mock", section)
	}
	if p.Mode == PlayerExec && strings.TrimSpace(p.Command) == "" {
		return fmt.Errorf("%s.command must be set when mode=exec", section)
	}
	if p.Mode == PlayerBus {
		if p.Target == "" {
			return fmt.Errorf("%s.target must be set when mode=bus", section)
		}
		if p.ChunkBytes <= 0 {
			return fmt.Errorf("%s.chunk_bytes must be positive", section)
		}
		if p.TimeoutMS <= 0 {
			return fmt.Errorf("%s.timeout_ms must be positive", section)
		}
	}
	if p.BufferSizeMS < 0 {
		return fmt.Errorf("%s.buffer_size_ms must be >= 0", section)
	}
	return nil
}
