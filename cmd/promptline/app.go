package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"promptline/internal/backend"
	"promptline/internal/chat"
	"promptline/internal/config"
	"promptline/internal/generation"
	"promptline/internal/llm"
	"promptline/internal/logbuf"
	"promptline/internal/prompt"
	"promptline/internal/registry"
	"promptline/internal/secrets"
	"promptline/internal/tokencache"
	"promptline/internal/tokenizer"
	"promptline/pkg/types"
)

// app holds everything one process needs to generate.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	ring    *logbuf.Ring
	lib     *registry.Library
	conv    *chat.Conversation
	asm     *prompt.Assembler
	svc     *generation.Service
	runtime llm.Runtime
}

func newLogger(level string, console io.Writer, ring *logbuf.Ring) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	w := zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: console, TimeFormat: time.Kitchen}, ring)
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// newApp loads the library, resolves the active chat and builds the
// backend client and generation service. ctx bounds every generation.
func newApp(ctx context.Context, cfg config.Config, console io.Writer) (*app, error) {
	a := &app{cfg: cfg, ring: logbuf.NewRing(logbuf.DefaultSize)}
	a.log = newLogger(cfg.LogLevel, console, a.ring)

	kind, err := backend.ParseKind(cfg.Backend)
	if err != nil {
		return nil, err
	}

	lib, err := registry.LoadDir(cfg.LibraryDir)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	a.lib = lib

	character, user, instruct, preset, messages, err := resolve(cfg, lib)
	if err != nil {
		return nil, err
	}

	if kind == backend.Local || cfg.Tokenizer == "local" {
		rt, err := llm.Open(llm.Options{ModelPath: cfg.Local.ModelPath, ContextSize: cfg.Local.ContextSize, Threads: cfg.Local.Threads})
		if err != nil {
			return nil, backend.ErrConfiguration(backend.Local, err.Error())
		}
		a.runtime = rt
	}

	counter := a.counter()
	store, err := secrets.Open(filepath.Join(lib.Dir, ".keyring"))
	if err != nil {
		a.log.Debug().Err(err).Msg("keyring unavailable, using environment only")
	}
	key, err := store.APIKey(string(kind))
	if err != nil && !errors.Is(err, secrets.ErrNotFound) {
		a.log.Warn().Err(err).Msg("reading api key")
	}
	if key == "" && needsKey(kind) {
		a.log.Warn().Str("env", secrets.EnvName(string(kind))).Msg("no api key configured")
	}

	client, err := backend.New(backend.Options{
		Kind:         kind,
		BaseURL:      endpoint(cfg, kind),
		APIKey:       key,
		Model:        model(cfg, kind),
		HordeModels:  cfg.Models.Horde,
		PollInterval: time.Duration(cfg.HordePollSeconds) * time.Second,
		Runtime:      a.runtime,
		Log:          a.log,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.asm = prompt.New(counter, tokencache.New(counter), a.log)
	a.asm.PrintContext = cfg.PrintContext
	a.conv = chat.New(character, user, instruct, messages, counter)
	a.svc = generation.NewService(generation.Options{
		Backend:      client,
		Conversation: a.conv,
		Assembler:    a.asm,
		Preset:       preset,
		FirstMessage: cfg.FirstMessage,
		Prefill:      cfg.Prefill,
		Threads:      cfg.Local.Threads,
		Log:          a.log,
		Publisher:    generation.NewMemoryPublisher(logbuf.DefaultSize),
		BaseContext:  ctx,
	})
	a.log.Info().Str("backend", string(kind)).Str("character", character.Name).Str("user", user.Name).
		Str("instruct", instruct.Name).Int("messages", len(messages)).Msg("promptline ready")
	return a, nil
}

func (a *app) counter() tokenizer.Counter {
	switch a.cfg.Tokenizer {
	case "kobold":
		base := endpoint(a.cfg, backend.Kobold)
		if base == "" {
			base = backend.DefaultBaseURL(backend.Kobold)
		}
		return tokenizer.NewRemote(base, a.log)
	case "local":
		if a.runtime != nil {
			return tokenizer.CounterFunc(a.runtime.TokenLength)
		}
	}
	return tokenizer.Estimate{}
}

func (a *app) close() {
	if a.runtime != nil {
		if err := a.runtime.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing local runtime")
		}
	}
}

// resolve picks the active entities from the library. Unset names fall back
// to built-in defaults; a chat supplies the character and user when those are
// not configured explicitly.
func resolve(cfg config.Config, lib *registry.Library) (types.Card, types.Card, types.InstructFormat, types.Preset, []types.Message, error) {
	var (
		character = types.Card{ID: "assistant", Name: "Assistant"}
		user      = types.Card{ID: "user", Name: "User"}
		instruct  = types.DefaultInstruct()
		preset    = types.DefaultPreset()
		messages  []types.Message
	)
	charID, userID := cfg.Character, cfg.User
	if cfg.Chat != "" {
		c, err := lib.Chat(cfg.Chat)
		if err != nil {
			return character, user, instruct, preset, nil, err
		}
		messages = c.Messages
		if charID == "" {
			charID = c.Character
		}
		if userID == "" {
			userID = c.User
		}
	}
	var err error
	if charID != "" {
		if character, err = lib.Character(charID); err != nil {
			return character, user, instruct, preset, nil, err
		}
	}
	if userID != "" {
		if user, err = lib.Character(userID); err != nil {
			return character, user, instruct, preset, nil, err
		}
	}
	if cfg.Instruct != "" {
		if instruct, err = lib.Instruct(cfg.Instruct); err != nil {
			return character, user, instruct, preset, nil, err
		}
	}
	if cfg.Preset != "" {
		if preset, err = lib.Preset(cfg.Preset); err != nil {
			return character, user, instruct, preset, nil, err
		}
	}
	return character, user, instruct, preset, messages, nil
}

// applyChange pushes a reloaded library entry into the running conversation
// and drops the token lengths measured for it.
func (a *app) applyChange(c registry.Change) {
	if c.Err != nil || c.Removed {
		return
	}
	cache := a.asm.Cache()
	switch c.Section {
	case registry.Characters:
		card, err := a.lib.Character(c.ID)
		if err != nil {
			return
		}
		cache.InvalidateCard(card)
		if cur := a.conv.Character(); cur.ID == card.ID {
			a.conv.SetCharacter(card)
		}
		if cur := a.conv.User(); cur.ID == card.ID {
			a.conv.SetUser(card)
		}
	case registry.Instructs:
		// entries are keyed by instruct name, which may differ from the file id
		// and may itself have changed in this edit.
		f, err := a.lib.Instruct(c.ID)
		if err != nil {
			return
		}
		cache.Invalidate(tokencache.KindInstruct, c.ID)
		cache.Invalidate(tokencache.KindInstruct, f.Name)
		if c.ID == a.cfg.Instruct {
			cache.Invalidate(tokencache.KindInstruct, a.conv.Instruct().Name)
			a.conv.SetInstruct(f)
		}
	case registry.Presets:
		if c.ID == a.cfg.Preset {
			if p, err := a.lib.Preset(c.ID); err == nil {
				a.svc.SetPreset(p)
			}
		}
	case registry.Chats:
		if c.ID == a.cfg.Chat {
			a.log.Info().Str("chat", c.ID).Msg("chat file changed on disk, restart to load it")
		}
	}
}

func needsKey(k backend.Kind) bool {
	switch k {
	case backend.Mancer, backend.OpenRouter, backend.OpenAI:
		return true
	}
	return false
}

func endpoint(cfg config.Config, k backend.Kind) string {
	e := cfg.Endpoints
	switch k {
	case backend.Kobold:
		return e.Kobold
	case backend.TextGen:
		return e.TextGen
	case backend.Completions:
		return e.Completions
	case backend.Horde:
		return e.Horde
	case backend.Mancer:
		return e.Mancer
	case backend.OpenRouter:
		return e.OpenRouter
	case backend.OpenAI:
		return e.OpenAI
	}
	return ""
}

func model(cfg config.Config, k backend.Kind) string {
	m := cfg.Models
	switch k {
	case backend.Completions:
		return m.Completions
	case backend.Mancer:
		return m.Mancer
	case backend.OpenRouter:
		return m.OpenRouter
	case backend.OpenAI:
		return m.OpenAI
	}
	return ""
}
