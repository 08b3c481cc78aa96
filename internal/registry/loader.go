// Package registry loads the on-disk library of characters, instruct
// formats, presets and chats.
//
// Layout under the library directory:
//
//	characters/<id>.{yaml,yml,json,toml}
//	instructs/<name>.{yaml,yml,json,toml}
//	presets/<name>.{yaml,yml,json,toml}
//	chats/<id>.{yaml,yml,json,toml}
//
// The file stem is the entry's id.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"promptline/internal/common/fsutil"
	"promptline/pkg/types"
)

// Section is one library subdirectory.
type Section string

const (
	Characters Section = "characters"
	Instructs  Section = "instructs"
	Presets    Section = "presets"
	Chats      Section = "chats"
)

// Sections lists the library subdirectories in load order.
var Sections = []Section{Characters, Instructs, Presets, Chats}

// Chat is a stored conversation.
type Chat struct {
	ID string `json:"id" yaml:"id" toml:"id"`
	// Character and User are card ids.
	Character string          `json:"character" yaml:"character" toml:"character"`
	User      string          `json:"user" yaml:"user" toml:"user"`
	Messages  []types.Message `json:"messages" yaml:"messages" toml:"messages"`
}

// Library is the loaded library. It is safe for concurrent use.
type Library struct {
	Dir string

	mu         sync.RWMutex
	characters map[string]types.Card
	instructs  map[string]types.InstructFormat
	presets    map[string]types.Preset
	chats      map[string]Chat
}

// NotFoundError reports a missing library entry.
type NotFoundError struct {
	Section Section
	ID      string
}

func (e NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Section, e.ID) }

// LoadDir scans dir and decodes every supported file of each section.
// Missing sections are empty; an undecodable file fails the load.
func LoadDir(dir string) (*Library, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	lib := &Library{
		Dir:        abs,
		characters: make(map[string]types.Card),
		instructs:  make(map[string]types.InstructFormat),
		presets:    make(map[string]types.Preset),
		chats:      make(map[string]Chat),
	}
	for _, sec := range Sections {
		entries, err := os.ReadDir(filepath.Join(abs, string(sec)))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			p := filepath.Join(abs, string(sec), e.Name())
			if !fsutil.IsStructured(p) {
				continue
			}
			if _, err := lib.load(sec, p); err != nil {
				return nil, err
			}
		}
	}
	return lib, nil
}

// Locate maps a file path inside the library to its section and id.
func (l *Library) Locate(path string) (Section, string, bool) {
	rel, err := filepath.Rel(l.Dir, path)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || !fsutil.IsStructured(path) {
		return "", "", false
	}
	for _, sec := range Sections {
		if parts[0] == string(sec) {
			return sec, stem(parts[1]), true
		}
	}
	return "", "", false
}

// Reload re-reads one file (or drops its entry when it no longer exists)
// and returns where it belongs.
func (l *Library) Reload(path string) (Section, string, error) {
	sec, id, ok := l.Locate(path)
	if !ok {
		return "", "", fmt.Errorf("not a library file: %s", path)
	}
	if !fsutil.PathExists(path) {
		l.remove(sec, id)
		return sec, id, nil
	}
	_, err := l.load(sec, path)
	return sec, id, err
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (l *Library) load(sec Section, path string) (string, error) {
	id := stem(filepath.Base(path))
	var err error
	switch sec {
	case Characters:
		var c types.Card
		if err = fsutil.DecodeFile(path, &c); err == nil {
			if c.ID == "" {
				c.ID = id
			}
			if c.Name == "" {
				c.Name = id
			}
			l.mu.Lock()
			l.characters[id] = c
			l.mu.Unlock()
		}
	case Instructs:
		var f types.InstructFormat
		if err = fsutil.DecodeFile(path, &f); err == nil {
			if f.Name == "" {
				f.Name = id
			}
			l.mu.Lock()
			l.instructs[id] = f
			l.mu.Unlock()
		}
	case Presets:
		p := types.DefaultPreset()
		if err = fsutil.DecodeFile(path, &p); err == nil {
			l.mu.Lock()
			l.presets[id] = p
			l.mu.Unlock()
		}
	case Chats:
		var c Chat
		if err = fsutil.DecodeFile(path, &c); err == nil {
			if c.ID == "" {
				c.ID = id
			}
			l.mu.Lock()
			l.chats[id] = c
			l.mu.Unlock()
		}
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	return id, nil
}

func (l *Library) remove(sec Section, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch sec {
	case Characters:
		delete(l.characters, id)
	case Instructs:
		delete(l.instructs, id)
	case Presets:
		delete(l.presets, id)
	case Chats:
		delete(l.chats, id)
	}
}

// Character returns the card stored under id.
func (l *Library) Character(id string) (types.Card, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.characters[id]
	if !ok {
		return types.Card{}, NotFoundError{Characters, id}
	}
	return c, nil
}

// Instruct returns the named instruct format.
func (l *Library) Instruct(name string) (types.InstructFormat, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.instructs[name]
	if !ok {
		return types.InstructFormat{}, NotFoundError{Instructs, name}
	}
	return f, nil
}

// Preset returns the named preset.
func (l *Library) Preset(name string) (types.Preset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.presets[name]
	if !ok {
		return types.Preset{}, NotFoundError{Presets, name}
	}
	return p, nil
}

// Chat returns the stored chat id with its messages copied.
func (l *Library) Chat(id string) (Chat, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.chats[id]
	if !ok {
		return Chat{}, NotFoundError{Chats, id}
	}
	msgs := make([]types.Message, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = m.Clone()
	}
	c.Messages = msgs
	return c, nil
}

// IDs lists the ids of a section, sorted.
func (l *Library) IDs(sec Section) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	switch sec {
	case Characters:
		for k := range l.characters {
			out = append(out, k)
		}
	case Instructs:
		for k := range l.instructs {
			out = append(out, k)
		}
	case Presets:
		for k := range l.presets {
			out = append(out, k)
		}
	case Chats:
		for k := range l.chats {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
