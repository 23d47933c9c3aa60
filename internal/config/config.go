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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
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
	Bus         BusConfig       `yaml:"bus"`
	History     HistoryConfig   `yaml:"history"`
	Grammars    GrammarsConfig  `yaml:"grammars"`
	Engine      EngineConfig    `yaml:"engine"`
	Dictation   DictationConfig `yaml:"dictation"`
	Dispatch    DispatchConfig  `yaml:"dispatch"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	ConnectRetries int      `yaml:"connect_retries"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type GrammarsConfig struct {
	Directory string `yaml:"directory"`
	Watch     bool   `yaml:"watch"`
	// Exclusive names grammars that take all recognitions while loaded.
	Exclusive []string `yaml:"exclusive"`
}

type EngineConfig struct {
	WindowSource   string `yaml:"window_source"` // static, hyprland
	HyprctlCommand string `yaml:"hyprctl_command"`
	Executable     string `yaml:"executable"`
	Title          string `yaml:"title"`
	MaxWords       int    `yaml:"max_words"`
}

type DictationConfig struct {
	TwoSpacesAfterPeriod bool `yaml:"two_spaces_after_period"`
}

type DispatchConfig struct {
	Enabled        bool `yaml:"enabled"`
	DedupeSize     int  `yaml:"dedupe_size"`
	PublishResults bool `yaml:"publish_results"`
	// Transcripts subscribes to final STT transcripts as well as utterances.
	Transcripts bool `yaml:"transcripts"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-grammar",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			ConnectRetries: 5,
		},
		History: HistoryConfig{
			Path:          "./data/loqa-grammar.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxEntries:    10000,
		},
		Grammars: GrammarsConfig{
			Directory: "./grammars",
			Watch:     true,
		},
		Engine: EngineConfig{
			WindowSource:   "static",
			HyprctlCommand: "hyprctl",
		},
		Dispatch: DispatchConfig{
			Enabled:        true,
			DedupeSize:     512,
			PublishResults: true,
			Transcripts:    true,
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
	overrideString(&cfg.RuntimeName, "LOQA_GRAMMAR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_GRAMMAR_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_GRAMMAR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_GRAMMAR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_GRAMMAR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_GRAMMAR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_GRAMMAR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_GRAMMAR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_GRAMMAR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_GRAMMAR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_GRAMMAR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_GRAMMAR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_GRAMMAR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_GRAMMAR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_GRAMMAR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_GRAMMAR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_GRAMMAR_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.ConnectRetries, "LOQA_GRAMMAR_BUS_CONNECT_RETRIES")
	overrideString(&cfg.History.Path, "LOQA_GRAMMAR_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "LOQA_GRAMMAR_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "LOQA_GRAMMAR_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxEntries, "LOQA_GRAMMAR_HISTORY_MAX_ENTRIES")
	overrideBool(&cfg.History.VacuumOnStart, "LOQA_GRAMMAR_HISTORY_VACUUM_ON_START")
	overrideString(&cfg.Grammars.Directory, "LOQA_GRAMMAR_GRAMMARS_DIRECTORY")
	overrideBool(&cfg.Grammars.Watch, "LOQA_GRAMMAR_GRAMMARS_WATCH")
	overrideStringSlice(&cfg.Grammars.Exclusive, "LOQA_GRAMMAR_GRAMMARS_EXCLUSIVE")
	overrideString(&cfg.Engine.WindowSource, "LOQA_GRAMMAR_ENGINE_WINDOW_SOURCE")
	overrideString(&cfg.Engine.HyprctlCommand, "LOQA_GRAMMAR_ENGINE_HYPRCTL_COMMAND")
	overrideString(&cfg.Engine.Executable, "LOQA_GRAMMAR_ENGINE_EXECUTABLE")
	overrideString(&cfg.Engine.Title, "LOQA_GRAMMAR_ENGINE_TITLE")
	overrideInt(&cfg.Engine.MaxWords, "LOQA_GRAMMAR_ENGINE_MAX_WORDS")
	overrideBool(&cfg.Dictation.TwoSpacesAfterPeriod, "LOQA_GRAMMAR_DICTATION_TWO_SPACES_AFTER_PERIOD")
	overrideBool(&cfg.Dispatch.Enabled, "LOQA_GRAMMAR_DISPATCH_ENABLED")
	overrideInt(&cfg.Dispatch.DedupeSize, "LOQA_GRAMMAR_DISPATCH_DEDUPE_SIZE")
	overrideBool(&cfg.Dispatch.PublishResults, "LOQA_GRAMMAR_DISPATCH_PUBLISH_RESULTS")
	overrideBool(&cfg.Dispatch.Transcripts, "LOQA_GRAMMAR_DISPATCH_TRANSCRIPTS")
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
		if cfg.Bus.StoreDir == "" {
			return errors.New("bus.store_dir must not be empty when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Bus.ConnectRetries < 0 {
		return errors.New("bus.connect_retries must be >= 0")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.History.MaxEntries < 0 {
		return errors.New("history.max_entries must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Grammars.Watch && cfg.Grammars.Directory == "" {
		return errors.New("grammars.directory must be set when grammars.watch is enabled")
	}
	switch cfg.Engine.WindowSource {
	case "static":
	case "hyprland":
		if cfg.Engine.HyprctlCommand == "" {
			return errors.New("engine.hyprctl_command must be set when window_source=hyprland")
		}
	default:
		return errors.New("engine.window_source must be one of static|hyprland")
	}
	if cfg.Engine.MaxWords < 0 {
		return errors.New("engine.max_words must be >= 0")
	}
	if cfg.Dispatch.Enabled && cfg.Dispatch.DedupeSize <= 0 {
		return errors.New("dispatch.dedupe_size must be >= 1 when dispatch is enabled")
	}
	return nil
}
