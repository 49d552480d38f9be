package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type DaemonConfig struct {
	// Mode selects the inbound command channel: stdin, pipe, or bus.
	Mode         string `yaml:"mode"`
	PipePath     string `yaml:"pipe_path"`
	MaxLineBytes int    `yaml:"max_line_bytes"`
}

type EngineConfig struct {
	// Mode is exec or mock. Mock exists for local development without the
	// synthesis worker installed.
	Mode          string   `yaml:"mode"`
	Command       string   `yaml:"command"`
	ModelPath     string   `yaml:"model_path"`
	VoiceBankPath string   `yaml:"voice_bank_path"`
	DefaultVoice  string   `yaml:"default_voice"`
	DefaultSpeed  float64  `yaml:"default_speed"`
	MockVoices    []string `yaml:"mock_voices"`
	SampleRate    int      `yaml:"sample_rate"`
	Channels      int      `yaml:"channels"`
}

type AudioConfig struct {
	// Players are tried in order until one exits zero.
	Players         []string `yaml:"players"`
	PlayerTimeoutMS int      `yaml:"player_timeout_ms"`
	TempDir         string   `yaml:"temp_dir"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	Subject        string   `yaml:"subject"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEvents     int    `yaml:"max_events"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	Daemon      DaemonConfig     `yaml:"daemon"`
	Engine      EngineConfig     `yaml:"engine"`
	Audio       AudioConfig      `yaml:"audio"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

func Default() Config {
	return Config{
		ServiceName: "speakd",
		Environment: "development",
		Daemon: DaemonConfig{
			Mode:         "stdin",
			PipePath:     "/run/speakd/speakd.fifo",
			MaxLineBytes: 1 << 20,
		},
		Engine: EngineConfig{
			Mode:          "exec",
			Command:       "kokoro-worker",
			ModelPath:     "/opt/kokoro-tts/models/kokoro-v1.0.onnx",
			VoiceBankPath: "/opt/kokoro-tts/models/voices.bin",
			DefaultVoice:  "af_bella",
			DefaultSpeed:  1.0,
			SampleRate:    24000,
			Channels:      1,
		},
		Audio: AudioConfig{
			Players:         []string{"pw-play", "paplay", "aplay -q"},
			PlayerTimeoutMS: 10000,
		},
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			Subject:        "speakd.cmd.v1",
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/speakd-events.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxEvents:     100000,
		},
	}
}

func Load(path string) (Config, error) {
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "SPEAKD_SERVICE_NAME")
	overrideString(&cfg.Environment, "SPEAKD_ENVIRONMENT")
	overrideString(&cfg.Daemon.Mode, "SPEAKD_DAEMON_MODE")
	overrideString(&cfg.Daemon.PipePath, "SPEAKD_DAEMON_PIPE_PATH")
	overrideInt(&cfg.Daemon.MaxLineBytes, "SPEAKD_DAEMON_MAX_LINE_BYTES")
	overrideString(&cfg.Engine.Mode, "SPEAKD_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "SPEAKD_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "SPEAKD_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.VoiceBankPath, "SPEAKD_ENGINE_VOICE_BANK_PATH")
	overrideString(&cfg.Engine.DefaultVoice, "SPEAKD_ENGINE_DEFAULT_VOICE")
	overrideFloat(&cfg.Engine.DefaultSpeed, "SPEAKD_ENGINE_DEFAULT_SPEED")
	overrideInt(&cfg.Engine.SampleRate, "SPEAKD_ENGINE_SAMPLE_RATE")
	overrideInt(&cfg.Engine.Channels, "SPEAKD_ENGINE_CHANNELS")
	overrideStringSlice(&cfg.Audio.Players, "SPEAKD_AUDIO_PLAYERS")
	overrideInt(&cfg.Audio.PlayerTimeoutMS, "SPEAKD_AUDIO_PLAYER_TIMEOUT_MS")
	overrideString(&cfg.Audio.TempDir, "SPEAKD_AUDIO_TEMP_DIR")
	overrideString(&cfg.HTTP.Bind, "SPEAKD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SPEAKD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SPEAKD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SPEAKD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SPEAKD_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "SPEAKD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SPEAKD_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SPEAKD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SPEAKD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SPEAKD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SPEAKD_BUS_TOKEN")
	overrideString(&cfg.Bus.Subject, "SPEAKD_BUS_SUBJECT")
	overrideInt(&cfg.Bus.ConnectTimeout, "SPEAKD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "SPEAKD_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "SPEAKD_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "SPEAKD_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxEvents, "SPEAKD_EVENT_STORE_MAX_EVENTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "SPEAKD_EVENT_STORE_VACUUM_ON_START")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	switch cfg.Daemon.Mode {
	case "stdin", "pipe", "bus":
	default:
		return errors.New("daemon.mode must be one of stdin|pipe|bus")
	}
	if cfg.Daemon.Mode == "pipe" && cfg.Daemon.PipePath == "" {
		return errors.New("daemon.pipe_path must be set when mode=pipe")
	}
	if cfg.Daemon.MaxLineBytes <= 0 {
		return errors.New("daemon.max_line_bytes must be positive")
	}
	switch cfg.Engine.Mode {
	case "exec", "mock":
	default:
		return errors.New("engine.mode must be one of exec|mock")
	}
	if cfg.Engine.Mode == "exec" {
		if cfg.Engine.Command == "" {
			return errors.New("engine.command must be set when mode=exec")
		}
		if cfg.Engine.ModelPath == "" {
			return errors.New("engine.model_path must not be empty")
		}
		if cfg.Engine.VoiceBankPath == "" {
			return errors.New("engine.voice_bank_path must not be empty")
		}
	}
	if cfg.Engine.DefaultSpeed <= 0 {
		return errors.New("engine.default_speed must be positive")
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if cfg.Engine.Channels <= 0 {
		return errors.New("engine.channels must be positive")
	}
	if len(cfg.Audio.Players) == 0 {
		return errors.New("audio.players must not be empty")
	}
	if cfg.Audio.PlayerTimeoutMS <= 0 {
		return errors.New("audio.player_timeout_ms must be positive")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Daemon.Mode == "bus" {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.Subject == "" {
			return errors.New("bus.subject must not be empty")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}
