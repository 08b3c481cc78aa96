//go:build llama

package llm

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	llama "github.com/go-skynet/go-llama.cpp"
)

// Built reports whether this binary was compiled with llama support.
const Built = true

type llamaRuntime struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
	stop    atomic.Bool
}

// Open loads the model at o.ModelPath.
func Open(o Options) (Runtime, error) {
	if strings.TrimSpace(o.ModelPath) == "" {
		return nil, ErrNoModel
	}
	m, err := llama.New(o.ModelPath, llama.SetContext(zn(o.ContextSize, 2048)))
	if err != nil {
		return nil, err
	}
	return &llamaRuntime{model: m, threads: zn(o.Threads, 4)}, nil
}

// Completion holds the model for the whole prediction; go-llama.cpp is not
// safe for concurrent predictions on one model.
func (r *llamaRuntime) Completion(ctx context.Context, p Params, onToken func(string) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return ErrNoModel
	}
	r.stop.Store(false)
	r.model.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil || r.stop.Load() {
			return false
		}
		return onToken(tok)
	})
	defer r.model.SetTokenCallback(nil)

	_, err := r.model.Predict(p.Prompt, predictOptions(p, r.threads)...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (r *llamaRuntime) StopCompletion() { r.stop.Store(true) }

func (r *llamaRuntime) TokenLength(text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return 0
	}
	n, _, err := r.model.TokenizeString(text)
	if err != nil {
		return 0
	}
	return int(n)
}

func (r *llamaRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model != nil {
		r.model.Free()
		r.model = nil
	}
	return nil
}

func zf(v float64, def float32) float32 {
	if v > 0 {
		return float32(v)
	}
	return def
}

func predictOptions(p Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.NPredict)),
		llama.SetThreads(max(1, zn(p.Threads, threads))),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(p.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
		llama.SetFrequencyPenalty(float32(p.FrequencyPenalty)),
		llama.SetPresencePenalty(float32(p.PresencePenalty)),
		llama.SetTailFreeSamplingZ(zf(p.TFSZ, 1)),
		llama.SetTypicalP(zf(p.TypicalP, 1)),
		llama.SetSeed(p.Seed),
	}
	if p.Mirostat > 0 {
		po = append(po,
			llama.SetMirostat(p.Mirostat),
			llama.SetMirostatTAU(zf(p.MirostatTau, 5)),
			llama.SetMirostatETA(zf(p.MirostatEta, 0.1)),
		)
	}
	if p.Grammar != "" {
		po = append(po, llama.WithGrammar(p.Grammar))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}
