package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"promptline/internal/config"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath  string
	envFiles    []string
	logLevel    string
	libraryDir  string
	backend     string
	character   string
	user        string
	instruct    string
	preset      string
	chat        string
	model       string
	hordeModels string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "promptline",
		Short:         "Assemble roleplay chat context and stream completions from LLM backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", os.Getenv("PROMPTLINE_CONFIG"), "Config file (.yaml, .json or .toml)")
	pf.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "Dotenv files loaded before reading the environment")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&opts.libraryDir, "library", "", "Library directory (characters/, instructs/, presets/, chats/)")
	pf.StringVar(&opts.backend, "backend", "", "Backend: kobold|horde|textgen|mancer|completions|openrouter|openai|local")
	pf.StringVar(&opts.character, "character", "", "Character card id")
	pf.StringVar(&opts.user, "user", "", "User persona card id")
	pf.StringVar(&opts.instruct, "instruct", "", "Instruct format name")
	pf.StringVar(&opts.preset, "preset", "", "Sampling preset name")
	pf.StringVar(&opts.chat, "chat", "", "Chat id to continue")
	pf.StringVar(&opts.model, "model", "", "Remote model id for the selected backend")
	pf.StringVar(&opts.hordeModels, "horde-models", "", "Comma separated Horde model names")

	root.AddCommand(newServeCmd(opts), newGenerateCmd(opts), newContextCmd(opts), newKeyCmd(opts))
	return root
}

// loadConfig merges file, environment and flags, in that order.
func (o *options) loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := config.LoadEnvFiles(o.envFiles...); err != nil {
		return config.Config{}, err
	}
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	cfg.ApplyEnv()

	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("log-level", &cfg.LogLevel, o.logLevel)
	set("library", &cfg.LibraryDir, o.libraryDir)
	set("backend", &cfg.Backend, o.backend)
	set("character", &cfg.Character, o.character)
	set("user", &cfg.User, o.user)
	set("instruct", &cfg.Instruct, o.instruct)
	set("preset", &cfg.Preset, o.preset)
	set("chat", &cfg.Chat, o.chat)
	if cmd.Flags().Changed("horde-models") {
		cfg.Models.Horde = splitCSV(o.hordeModels)
	}
	if cmd.Flags().Changed("model") {
		switch cfg.Backend {
		case "completions":
			cfg.Models.Completions = o.model
		case "mancer":
			cfg.Models.Mancer = o.model
		case "openrouter":
			cfg.Models.OpenRouter = o.model
		case "openai":
			cfg.Models.OpenAI = o.model
		}
	}

	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
