package backend

import (
	"slices"

	"promptline/pkg/types"
)

// Limits are the effective context budget and generation length of a request.
type Limits struct {
	Context    int `json:"context"`
	Generation int `json:"generation"`
}

// Worker is one AI Horde text worker as reported by /api/v2/workers.
type Worker struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Models           []string `json:"models"`
	MaxContextLength int      `json:"max_context_length"`
	MaxLength        int      `json:"max_length"`
}

// ModelInfo carries provider-reported capability limits of one model.
// Zero values mean unknown.
type ModelInfo struct {
	ID               string
	ContextLength    int
	CompletionLength int
}

// Target is what Limits knows about the selected provider resources.
type Target struct {
	Workers     []Worker
	HordeModels []string
	Model       ModelInfo
}

// EligibleWorkers keeps the workers serving at least one of models.
func EligibleWorkers(workers []Worker, models []string) []Worker {
	var out []Worker
	for _, w := range workers {
		if slices.ContainsFunc(w.Models, func(m string) bool { return slices.Contains(models, m) }) {
			out = append(out, w)
		}
	}
	return out
}

func minPositive(v int, caps ...int) int {
	for _, c := range caps {
		if c > 0 && c < v {
			v = c
		}
	}
	return v
}

// ComputeLimits clamps the preset's lengths to what the provider can serve.
func ComputeLimits(k Kind, p types.Preset, t Target) (Limits, error) {
	l := Limits{Context: p.MaxLength, Generation: p.GenAmount}
	switch k {
	case Horde:
		if len(t.HordeModels) == 0 {
			return Limits{}, ErrConfiguration(k, "no models selected")
		}
		eligible := EligibleWorkers(t.Workers, t.HordeModels)
		if len(eligible) == 0 {
			return Limits{}, ErrConfiguration(k, "no workers serve the selected models")
		}
		for _, w := range eligible {
			l.Context = minPositive(l.Context, w.MaxContextLength)
			l.Generation = minPositive(l.Generation, w.MaxLength)
		}
	case Mancer, OpenRouter:
		l.Context = minPositive(l.Context, t.Model.ContextLength)
		l.Generation = minPositive(l.Generation, t.Model.CompletionLength)
	case Kobold, TextGen, Completions, OpenAI, Local:
	default:
		return Limits{}, k.Validate()
	}
	return l, nil
}
