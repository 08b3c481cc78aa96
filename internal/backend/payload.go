package backend

import (
	"promptline/internal/llm"
	"promptline/pkg/types"
)

// Request is everything a payload mapping reads. Prompt is set for raw
// completion providers, Messages for chat providers.
type Request struct {
	Preset   types.Preset
	Instruct types.InstructFormat
	Prompt   string
	Messages []types.ChatEntry
	Limits   Limits
	Seed     int
	// Model is the remote model id (completions, mancer, openrouter, openai).
	Model string
	// HordeModels are the selected Horde models.
	HordeModels []string
	// Threads is the local runtime thread count.
	Threads int
}

// KoboldPayload is the body of POST /api/extra/generate/stream.
type KoboldPayload struct {
	Prompt               string   `json:"prompt"`
	MaxContextLength     int      `json:"max_context_length"`
	MaxLength            int      `json:"max_length"`
	RepPen               float64  `json:"rep_pen"`
	RepPenRange          int      `json:"rep_pen_range"`
	Temperature          float64  `json:"temperature"`
	TFS                  float64  `json:"tfs"`
	TopA                 float64  `json:"top_a"`
	TopK                 int      `json:"top_k"`
	TopP                 float64  `json:"top_p"`
	Typical              float64  `json:"typical"`
	SamplerOrder         []int    `json:"sampler_order"`
	SamplerSeed          int      `json:"sampler_seed"`
	StopSequence         []string `json:"stop_sequence"`
	Mirostat             int      `json:"mirostat"`
	MirostatTau          float64  `json:"mirostat_tau"`
	MirostatEta          float64  `json:"mirostat_eta"`
	MinP                 float64  `json:"min_p"`
	Grammar              string   `json:"grammar"`
	UseDefaultBadwordIDs bool     `json:"use_default_badwordsids"`
	DynatempRange        float64  `json:"dynatemp_range"`
	SmoothingFactor      float64  `json:"smoothing_factor"`
}

// HordeParams are the sampler settings of a Horde job.
type HordeParams struct {
	N                    int      `json:"n"`
	FrmtAdsnsp           bool     `json:"frmtadsnsp"`
	FrmtRmblln           bool     `json:"frmtrmblln"`
	FrmtRmspch           bool     `json:"frmtrmspch"`
	FrmtTrimInc          bool     `json:"frmttriminc"`
	MaxContextLength     int      `json:"max_context_length"`
	MaxLength            int      `json:"max_length"`
	RepPen               float64  `json:"rep_pen"`
	RepPenRange          int      `json:"rep_pen_range"`
	Temperature          float64  `json:"temperature"`
	TFS                  float64  `json:"tfs"`
	TopA                 float64  `json:"top_a"`
	TopK                 int      `json:"top_k"`
	TopP                 float64  `json:"top_p"`
	Typical              float64  `json:"typical"`
	SingleLine           bool     `json:"singleline"`
	UseDefaultBadwordIDs bool     `json:"use_default_badwordsids"`
	StopSequence         []string `json:"stop_sequence"`
	MinP                 float64  `json:"min_p"`
}

// HordePayload is the body of POST /api/v2/generate/text/async.
type HordePayload struct {
	Prompt          string      `json:"prompt"`
	Params          HordeParams `json:"params"`
	TrustedWorkers  bool        `json:"trusted_workers"`
	SlowWorkers     bool        `json:"slow_workers"`
	Workers         []string    `json:"workers"`
	WorkerBlacklist bool        `json:"worker_blacklist"`
	Models          []string    `json:"models"`
	DryRun          bool        `json:"dry_run"`
}

// TextGenPayload is the body of text-generation-webui's /v1/completions.
type TextGenPayload struct {
	Stream                 bool     `json:"stream"`
	Prompt                 string   `json:"prompt"`
	MaxTokens              int      `json:"max_tokens"`
	DoSample               bool     `json:"do_sample"`
	Temperature            float64  `json:"temperature"`
	TopP                   float64  `json:"top_p"`
	TopA                   float64  `json:"top_a"`
	TopK                   float64  `json:"top_k"`
	MinP                   float64  `json:"min_p"`
	TypicalP               float64  `json:"typical_p"`
	EpsilonCutoff          float64  `json:"epsilon_cutoff"`
	EtaCutoff              float64  `json:"eta_cutoff"`
	TFS                    float64  `json:"tfs"`
	RepetitionPenalty      float64  `json:"repetition_penalty"`
	RepetitionPenaltyRange int      `json:"repetition_penalty_range"`
	MinLength              int      `json:"min_length"`
	NoRepeatNgramSize      int      `json:"no_repeat_ngram_size"`
	NumBeams               int      `json:"num_beams"`
	PenaltyAlpha           float64  `json:"penalty_alpha"`
	LengthPenalty          float64  `json:"length_penalty"`
	EarlyStopping          bool     `json:"early_stopping"`
	MirostatMode           int      `json:"mirostat_mode"`
	MirostatEta            float64  `json:"mirostat_eta"`
	MirostatTau            float64  `json:"mirostat_tau"`
	AddBOSToken            bool     `json:"add_bos_token"`
	TruncationLength       int      `json:"truncation_length"`
	BanEOSToken            bool     `json:"ban_eos_token"`
	SkipSpecialTokens      bool     `json:"skip_special_tokens"`
	StoppingStrings        []string `json:"stopping_strings"`
	Seed                   int      `json:"seed"`
	GuidanceScale          float64  `json:"guidance_scale"`
	NegativePrompt         string   `json:"negative_prompt"`
	TemperatureLast        bool     `json:"temperature_last"`
	DynamicTemperature     bool     `json:"dynamic_temperature"`
	DynatempLow            float64  `json:"dynatemp_low"`
	DynatempHigh           float64  `json:"dynatemp_high"`
	DynatempExponent       float64  `json:"dynatemp_exponent"`
	SmoothingFactor        float64  `json:"smoothing_factor"`
}

// MancerPayload is the body of Mancer's OpenAI-compatible /completions.
type MancerPayload struct {
	Prompt            string   `json:"prompt"`
	Model             string   `json:"model"`
	Stream            bool     `json:"stream"`
	MaxTokens         int      `json:"max_tokens"`
	MinTokens         int      `json:"min_tokens"`
	Stop              []string `json:"stop"`
	Temperature       float64  `json:"temperature"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
	PresencePenalty   float64  `json:"presence_penalty"`
	FrequencyPenalty  float64  `json:"frequency_penalty"`
	TopK              float64  `json:"top_k"`
	TopP              float64  `json:"top_p"`
	TopA              float64  `json:"top_a"`
	MinP              float64  `json:"min_p"`
}

// CompletionsPayload targets generic OpenAI-style /v1/completions servers and
// carries the superset of knobs llama.cpp, KoboldCpp and vLLM understand.
type CompletionsPayload struct {
	Stream            bool     `json:"stream"`
	MaxContextLength  int      `json:"max_context_length"`
	MaxTokens         int      `json:"max_tokens"`
	Prompt            string   `json:"prompt"`
	RepPen            float64  `json:"rep_pen"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
	RepPenRange       int      `json:"rep_pen_range"`
	Model             string   `json:"model"`
	Temperature       float64  `json:"temperature"`
	TFS               float64  `json:"tfs"`
	TopA              float64  `json:"top_a"`
	TopK              int      `json:"top_k"`
	TopP              float64  `json:"top_p"`
	MinP              float64  `json:"min_p"`
	Typical           float64  `json:"typical"`
	IgnoreEOS         bool     `json:"ignore_eos"`
	MirostatMode      int      `json:"mirostat_mode"`
	MirostatTau       float64  `json:"mirostat_tau"`
	MirostatEta       float64  `json:"mirostat_eta"`
	Grammar           string   `json:"grammar"`
	Seed              int      `json:"seed"`
	SamplerOrder      []int    `json:"sampler_order"`
	Stop              []string `json:"stop"`
	FrequencyPenalty  float64  `json:"frequency_penalty"`
	PresencePenalty   float64  `json:"presence_penalty"`
	SmoothingFactor   float64  `json:"smoothing_factor"`
}

// ResponseFormat selects a structured output mode.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatPayload is the body of an OpenAI-style /chat/completions request.
type ChatPayload struct {
	Messages         []types.ChatEntry `json:"messages"`
	Model            string            `json:"model"`
	MaxTokens        int               `json:"max_tokens"`
	FrequencyPenalty float64           `json:"frequency_penalty"`
	PresencePenalty  float64           `json:"presence_penalty"`
	ResponseFormat   *ResponseFormat   `json:"response_format,omitempty"`
	Seed             int               `json:"seed"`
	Stop             []string          `json:"stop"`
	Stream           bool              `json:"stream"`
	Temperature      float64           `json:"temperature"`
	TopP             float64           `json:"top_p"`
	TopK             *float64          `json:"top_k,omitempty"`
}

var defaultSamplerOrder = []int{6, 0, 1, 3, 4, 2, 5}

func samplerOrder(p types.Preset) []int {
	if len(p.SamplerOrder) > 0 {
		return p.SamplerOrder
	}
	return defaultSamplerOrder
}

// maxHordeRepPenRange caps the Horde repetition penalty window.
const maxHordeRepPenRange = 4096

// Payload builds the provider request body. It performs no I/O.
func Payload(k Kind, r Request) (any, error) {
	p := r.Preset
	stops := StopSequences(r.Instruct)
	switch k {
	case Kobold:
		return KoboldPayload{
			Prompt:               r.Prompt,
			MaxContextLength:     r.Limits.Context,
			MaxLength:            r.Limits.Generation,
			RepPen:               p.RepPen,
			RepPenRange:          p.RepPenRange,
			Temperature:          p.Temp,
			TFS:                  p.TFS,
			TopA:                 p.TopA,
			TopK:                 int(p.TopK),
			TopP:                 p.TopP,
			Typical:              p.Typical,
			SamplerOrder:         samplerOrder(p),
			SamplerSeed:          r.Seed,
			StopSequence:         stops,
			Mirostat:             p.MirostatMode,
			MirostatTau:          p.MirostatTau,
			MirostatEta:          p.MirostatEta,
			MinP:                 p.MinP,
			Grammar:              p.Grammar,
			UseDefaultBadwordIDs: !p.BanEOSToken,
			DynatempRange:        p.DynatempRange,
			SmoothingFactor:      p.SmoothingFactor,
		}, nil
	case Horde:
		if len(r.HordeModels) == 0 {
			return nil, ErrConfiguration(k, "no models selected")
		}
		return HordePayload{
			Prompt: r.Prompt,
			Params: HordeParams{
				N:                    1,
				FrmtTrimInc:          true,
				MaxContextLength:     r.Limits.Context,
				MaxLength:            r.Limits.Generation,
				RepPen:               p.RepPen,
				RepPenRange:          minPositive(p.RepPenRange, r.Limits.Context, maxHordeRepPenRange),
				Temperature:          p.Temp,
				TFS:                  p.TFS,
				TopA:                 p.TopA,
				TopK:                 int(p.TopK),
				TopP:                 p.TopP,
				Typical:              p.Typical,
				UseDefaultBadwordIDs: p.BanEOSToken,
				StopSequence:         stops,
				MinP:                 p.MinP,
			},
			SlowWorkers: true,
			Workers:     []string{},
			Models:      r.HordeModels,
		}, nil
	case TextGen:
		return TextGenPayload{
			Stream:                 true,
			Prompt:                 r.Prompt,
			MaxTokens:              r.Limits.Generation,
			DoSample:               p.DoSample,
			Temperature:            p.Temp,
			TopP:                   p.TopP,
			TopA:                   p.TopA,
			TopK:                   p.TopK,
			MinP:                   p.MinP,
			TypicalP:               p.Typical,
			EpsilonCutoff:          p.EpsilonCutoff,
			EtaCutoff:              p.EtaCutoff,
			TFS:                    p.TFS,
			RepetitionPenalty:      p.RepPen,
			RepetitionPenaltyRange: p.RepPenRange,
			MinLength:              p.MinLength,
			NoRepeatNgramSize:      p.NoRepeatNgramSize,
			NumBeams:               p.NumBeams,
			PenaltyAlpha:           p.PenaltyAlpha,
			LengthPenalty:          p.LengthPenalty,
			EarlyStopping:          p.EarlyStopping,
			MirostatMode:           p.MirostatMode,
			MirostatEta:            p.MirostatEta,
			MirostatTau:            p.MirostatTau,
			AddBOSToken:            p.AddBOSToken,
			TruncationLength:       p.TruncationLength,
			BanEOSToken:            p.BanEOSToken,
			SkipSpecialTokens:      p.SkipSpecialTokens,
			StoppingStrings:        stops,
			Seed:                   r.Seed,
			GuidanceScale:          p.GuidanceScale,
			NegativePrompt:         p.NegativePrompt,
			TemperatureLast:        p.MinP != 1,
			DynamicTemperature:     p.DynatempRange > 0,
			DynatempLow:            p.Temp - p.DynatempRange/2,
			DynatempHigh:           p.Temp + p.DynatempRange/2,
			DynatempExponent:       0.5,
			SmoothingFactor:        p.SmoothingFactor,
		}, nil
	case Mancer:
		if r.Model == "" {
			return nil, ErrConfiguration(k, "no model selected")
		}
		return MancerPayload{
			Prompt:            r.Prompt,
			Model:             r.Model,
			Stream:            true,
			MaxTokens:         r.Limits.Generation,
			Stop:              stops,
			Temperature:       p.Temp,
			RepetitionPenalty: p.RepPen,
			PresencePenalty:   p.PresencePen,
			FrequencyPenalty:  p.FreqPen,
			TopK:              p.TopK,
			TopP:              p.TopP,
			TopA:              p.TopA,
			MinP:              p.MinP,
		}, nil
	case Completions:
		return CompletionsPayload{
			Stream:            true,
			MaxContextLength:  r.Limits.Context,
			MaxTokens:         r.Limits.Generation,
			Prompt:            r.Prompt,
			RepPen:            p.RepPen,
			RepetitionPenalty: p.RepPen,
			RepPenRange:       p.RepPenRange,
			Model:             r.Model,
			Temperature:       p.Temp,
			TFS:               p.TFS,
			TopA:              p.TopA,
			TopK:              int(p.TopK + 0.5),
			TopP:              p.TopP,
			MinP:              p.MinP,
			Typical:           p.Typical,
			IgnoreEOS:         p.BanEOSToken,
			MirostatMode:      p.MirostatMode,
			MirostatTau:       p.MirostatTau,
			MirostatEta:       p.MirostatEta,
			Grammar:           p.Grammar,
			Seed:              r.Seed,
			SamplerOrder:      samplerOrder(p),
			Stop:              stops,
			FrequencyPenalty:  p.FreqPen,
			PresencePenalty:   p.PresencePen,
			SmoothingFactor:   p.SmoothingFactor,
		}, nil
	case OpenRouter, OpenAI:
		if r.Model == "" {
			return nil, ErrConfiguration(k, "no model selected")
		}
		cp := ChatPayload{
			Messages:         r.Messages,
			Model:            r.Model,
			MaxTokens:        r.Limits.Generation,
			FrequencyPenalty: p.FreqPen,
			PresencePenalty:  p.PresencePen,
			Seed:             r.Seed,
			Stop:             stops,
			Stream:           true,
			Temperature:      p.Temp,
			TopP:             p.TopP,
		}
		if k == OpenRouter {
			topK := p.TopK
			cp.TopK = &topK
		}
		return cp, nil
	case Local:
		return llm.Params{
			Prompt:           r.Prompt,
			Grammar:          p.Grammar,
			Stop:             stops,
			NPredict:         r.Limits.Generation,
			Threads:          r.Threads,
			Temperature:      p.Temp,
			RepeatPenalty:    p.RepPen,
			PresencePenalty:  p.PresencePen,
			FrequencyPenalty: p.FreqPen,
			Mirostat:         p.MirostatMode,
			MirostatTau:      p.MirostatTau,
			MirostatEta:      p.MirostatEta,
			TopK:             int(p.TopK),
			TopP:             p.TopP,
			TFSZ:             p.TFS,
			TypicalP:         p.Typical,
			MinP:             p.MinP,
			Seed:             r.Seed,
		}, nil
	default:
		return nil, k.Validate()
	}
}
