// Package llm is the in-process local inference runtime.
//
// The real implementation wraps go-llama.cpp and is compiled only with the
// 'llama' build tag; default builds get a stub that fails fast.
package llm

import (
	"context"
	"errors"
)

// Runtime runs completions against a locally loaded model.
type Runtime interface {
	// Completion streams generated text to onToken until the model stops, the
	// context is canceled, StopCompletion is called, or onToken returns false.
	Completion(ctx context.Context, p Params, onToken func(string) bool) error
	// StopCompletion asks a running completion to stop at the next token.
	StopCompletion()
	// TokenLength returns the model tokenizer's length for text.
	TokenLength(text string) int
	Close() error
}

// Params is the request body of a local completion. Field names follow the
// llama.cpp server so presets exported from it load unchanged.
type Params struct {
	Prompt           string   `json:"prompt"`
	Grammar          string   `json:"grammar"`
	Stop             []string `json:"stop"`
	NPredict         int      `json:"n_predict"`
	Threads          int      `json:"n_threads"`
	Temperature      float64  `json:"temperature"`
	RepeatPenalty    float64  `json:"repeat_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	Mirostat         int      `json:"mirostat"`
	MirostatTau      float64  `json:"mirostat_tau"`
	MirostatEta      float64  `json:"mirostat_eta"`
	TopK             int      `json:"top_k"`
	TopP             float64  `json:"top_p"`
	TFSZ             float64  `json:"tfs_z"`
	TypicalP         float64  `json:"typical_p"`
	MinP             float64  `json:"min_p"`
	Seed             int      `json:"seed"`
}

// Options configure model loading.
type Options struct {
	ModelPath   string
	ContextSize int
	Threads     int
}

// ErrNotBuilt is returned by Open when the binary lacks llama support.
var ErrNotBuilt = errors.New("llama support not built (missing 'llama' build tag)")

// ErrNoModel is returned by Open for an empty model path.
var ErrNoModel = errors.New("model path is empty")

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
