package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"promptline/internal/common/fsutil"
)

// Endpoints holds base URLs per backend. Empty values fall back to the public
// defaults of the hosted providers.
type Endpoints struct {
	Kobold      string `json:"kobold" yaml:"kobold" toml:"kobold"`
	TextGen     string `json:"textgen" yaml:"textgen" toml:"textgen"`
	Completions string `json:"completions" yaml:"completions" toml:"completions"`
	Horde       string `json:"horde" yaml:"horde" toml:"horde"`
	Mancer      string `json:"mancer" yaml:"mancer" toml:"mancer"`
	OpenRouter  string `json:"openrouter" yaml:"openrouter" toml:"openrouter"`
	OpenAI      string `json:"openai" yaml:"openai" toml:"openai"`
}

// Models names the remote model per backend.
type Models struct {
	Completions string   `json:"completions" yaml:"completions" toml:"completions"`
	Mancer      string   `json:"mancer" yaml:"mancer" toml:"mancer"`
	OpenRouter  string   `json:"openrouter" yaml:"openrouter" toml:"openrouter"`
	OpenAI      string   `json:"openai" yaml:"openai" toml:"openai"`
	Horde       []string `json:"horde" yaml:"horde" toml:"horde"`
}

// Local configures the in-process runtime (built with -tags=llama).
type Local struct {
	ModelPath   string `json:"model_path" yaml:"model_path" toml:"model_path"`
	Threads     int    `json:"threads" yaml:"threads" toml:"threads"`
	ContextSize int    `json:"context_size" yaml:"context_size" toml:"context_size"`
}

// CORS is opt-in.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// Backend selects the provider: kobold, horde, textgen, mancer, completions, openrouter, openai, local.
	Backend      string `json:"backend" yaml:"backend" toml:"backend"`
	LibraryDir   string `json:"library_dir" yaml:"library_dir" toml:"library_dir"`
	Character    string `json:"character" yaml:"character" toml:"character"`
	User         string `json:"user" yaml:"user" toml:"user"`
	Instruct     string `json:"instruct" yaml:"instruct" toml:"instruct"`
	Preset       string `json:"preset" yaml:"preset" toml:"preset"`
	Chat         string `json:"chat" yaml:"chat" toml:"chat"`
	Tokenizer    string `json:"tokenizer" yaml:"tokenizer" toml:"tokenizer"`
	PrintContext bool   `json:"print_context" yaml:"print_context" toml:"print_context"`
	FirstMessage bool   `json:"first_message" yaml:"first_message" toml:"first_message"`
	Prefill      string `json:"prefill" yaml:"prefill" toml:"prefill"`
	// HordePollSeconds is the interval between Horde status checks.
	HordePollSeconds int   `json:"horde_poll_seconds" yaml:"horde_poll_seconds" toml:"horde_poll_seconds"`
	MaxBodyBytes     int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	WatchLibrary     bool  `json:"watch_library" yaml:"watch_library" toml:"watch_library"`

	// WaitTimeoutSeconds bounds POST /generate?wait=1; 0 waits for the generation.
	WaitTimeoutSeconds int64 `json:"wait_timeout_seconds" yaml:"wait_timeout_seconds" toml:"wait_timeout_seconds"`

	Endpoints Endpoints `json:"endpoints" yaml:"endpoints" toml:"endpoints"`
	Models    Models    `json:"models" yaml:"models" toml:"models"`
	Local     Local     `json:"local" yaml:"local" toml:"local"`
	CORS      CORS      `json:"cors" yaml:"cors" toml:"cors"`
}

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultAddr             = ":8080"
	DefaultBackend          = "kobold"
	DefaultLibraryDir       = "~/.promptline"
	DefaultTokenizer        = "estimate"
	DefaultHordePollSeconds = 5
	DefaultMaxBodyBytes     = 1 << 20
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	if err := fsutil.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnvFiles loads KEY=VALUE pairs from the given .env files into the process
// environment. Missing files are ignored; existing variables are not overwritten.
func LoadEnvFiles(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		ep, err := fsutil.ExpandHome(p)
		if err != nil {
			return err
		}
		if fsutil.PathExists(ep) {
			existing = append(existing, ep)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides fields from PROMPTLINE_* environment variables.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Addr, "PROMPTLINE_ADDR")
	set(&c.Backend, "PROMPTLINE_BACKEND")
	set(&c.LogLevel, "PROMPTLINE_LOG_LEVEL")
	set(&c.LibraryDir, "PROMPTLINE_LIBRARY_DIR")
	set(&c.Endpoints.Kobold, "PROMPTLINE_KOBOLD_URL")
	set(&c.Endpoints.TextGen, "PROMPTLINE_TEXTGEN_URL")
	set(&c.Endpoints.Completions, "PROMPTLINE_COMPLETIONS_URL")
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LibraryDir == "" {
		c.LibraryDir = DefaultLibraryDir
	}
	if c.Tokenizer == "" {
		c.Tokenizer = DefaultTokenizer
	}
	if c.HordePollSeconds <= 0 {
		c.HordePollSeconds = DefaultHordePollSeconds
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Validate reports obviously broken combinations. Backend names are checked by
// the backend package.
func (c Config) Validate() error {
	switch c.Tokenizer {
	case "estimate", "kobold", "local":
	default:
		return fmt.Errorf("unknown tokenizer %q", c.Tokenizer)
	}
	if c.Backend == "horde" && len(c.Models.Horde) == 0 {
		return fmt.Errorf("horde backend requires at least one model in models.horde")
	}
	if c.Backend == "local" && strings.TrimSpace(c.Local.ModelPath) == "" {
		return fmt.Errorf("local backend requires local.model_path")
	}
	return nil
}
