// Package backend maps a preset and an assembled context onto the request
// formats of the supported inference providers and runs those requests.
package backend

import (
	"fmt"
	"strings"
)

// Kind identifies a provider.
type Kind string

const (
	Kobold      Kind = "kobold"
	Horde       Kind = "horde"
	TextGen     Kind = "textgen"
	Mancer      Kind = "mancer"
	Completions Kind = "completions"
	OpenRouter  Kind = "openrouter"
	OpenAI      Kind = "openai"
	Local       Kind = "local"
)

// Kinds lists every provider in a stable order.
var Kinds = []Kind{Kobold, Horde, TextGen, Mancer, Completions, OpenRouter, OpenAI, Local}

// ParseKind accepts a provider name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Validate reports whether k is a known provider.
func (k Kind) Validate() error {
	switch k {
	case Kobold, Horde, TextGen, Mancer, Completions, OpenRouter, OpenAI, Local:
		return nil
	default:
		return ErrConfiguration(k, fmt.Sprintf("unknown backend %q", string(k)))
	}
}

// Chat reports whether the provider takes role-tagged messages instead of a
// raw prompt.
func (k Kind) Chat() bool {
	switch k {
	case OpenRouter, OpenAI:
		return true
	default:
		return false
	}
}

// Streaming reports whether the provider delivers incremental text.
// Horde only returns the finished generation.
func (k Kind) Streaming() bool {
	return k != Horde
}

func (k Kind) String() string { return string(k) }
