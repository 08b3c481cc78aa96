package types

import (
	"bytes"
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed is the configured sampler seed. Presets store it either as a number or a
// string, and "-1", empty, or unparsable values mean "pick a random seed".
type Seed string

// UnmarshalJSON accepts both JSON numbers and strings.
func (s *Seed) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Seed(v)
		return nil
	}
	*s = Seed(strings.TrimSpace(string(b)))
	return nil
}

// UnmarshalYAML accepts any scalar.
func (s *Seed) UnmarshalYAML(n *yaml.Node) error {
	*s = Seed(strings.TrimSpace(n.Value))
	return nil
}

// Preset is a backend-agnostic set of sampling parameters. Field names follow the
// preset files shared with other front ends.
type Preset struct {
	Temp              float64 `json:"temp" yaml:"temp" toml:"temp"`
	TopP              float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK              float64 `json:"top_k" yaml:"top_k" toml:"top_k"`
	TopA              float64 `json:"top_a" yaml:"top_a" toml:"top_a"`
	MinP              float64 `json:"min_p" yaml:"min_p" toml:"min_p"`
	Typical           float64 `json:"typical" yaml:"typical" toml:"typical"`
	TFS               float64 `json:"tfs" yaml:"tfs" toml:"tfs"`
	EpsilonCutoff     float64 `json:"epsilon_cutoff" yaml:"epsilon_cutoff" toml:"epsilon_cutoff"`
	EtaCutoff         float64 `json:"eta_cutoff" yaml:"eta_cutoff" toml:"eta_cutoff"`
	RepPen            float64 `json:"rep_pen" yaml:"rep_pen" toml:"rep_pen"`
	RepPenRange       int     `json:"rep_pen_range" yaml:"rep_pen_range" toml:"rep_pen_range"`
	RepPenSlope       float64 `json:"rep_pen_slope" yaml:"rep_pen_slope" toml:"rep_pen_slope"`
	NoRepeatNgramSize int     `json:"no_repeat_ngram_size" yaml:"no_repeat_ngram_size" toml:"no_repeat_ngram_size"`
	PenaltyAlpha      float64 `json:"penalty_alpha" yaml:"penalty_alpha" toml:"penalty_alpha"`
	NumBeams          int     `json:"num_beams" yaml:"num_beams" toml:"num_beams"`
	LengthPenalty     float64 `json:"length_penalty" yaml:"length_penalty" toml:"length_penalty"`
	MinLength         int     `json:"min_length" yaml:"min_length" toml:"min_length"`
	FreqPen           float64 `json:"freq_pen" yaml:"freq_pen" toml:"freq_pen"`
	PresencePen       float64 `json:"presence_pen" yaml:"presence_pen" toml:"presence_pen"`
	DoSample          bool    `json:"do_sample" yaml:"do_sample" toml:"do_sample"`
	EarlyStopping     bool    `json:"early_stopping" yaml:"early_stopping" toml:"early_stopping"`
	AddBOSToken       bool    `json:"add_bos_token" yaml:"add_bos_token" toml:"add_bos_token"`
	TruncationLength  int     `json:"truncation_length" yaml:"truncation_length" toml:"truncation_length"`
	BanEOSToken       bool    `json:"ban_eos_token" yaml:"ban_eos_token" toml:"ban_eos_token"`
	SkipSpecialTokens bool    `json:"skip_special_tokens" yaml:"skip_special_tokens" toml:"skip_special_tokens"`
	MirostatMode      int     `json:"mirostat_mode" yaml:"mirostat_mode" toml:"mirostat_mode"`
	MirostatTau       float64 `json:"mirostat_tau" yaml:"mirostat_tau" toml:"mirostat_tau"`
	MirostatEta       float64 `json:"mirostat_eta" yaml:"mirostat_eta" toml:"mirostat_eta"`
	GuidanceScale     float64 `json:"guidance_scale" yaml:"guidance_scale" toml:"guidance_scale"`
	NegativePrompt    string  `json:"negative_prompt" yaml:"negative_prompt" toml:"negative_prompt"`
	Grammar           string  `json:"grammar_string" yaml:"grammar_string" toml:"grammar_string"`
	DynatempRange     float64 `json:"dynatemp_range" yaml:"dynatemp_range" toml:"dynatemp_range"`
	SmoothingFactor   float64 `json:"smoothing_factor" yaml:"smoothing_factor" toml:"smoothing_factor"`
	SamplerOrder      []int   `json:"sampler_order" yaml:"sampler_order" toml:"sampler_order"`
	Seed              Seed    `json:"seed" yaml:"seed" toml:"seed"`
	// GenAmount is the maximum number of generated tokens.
	GenAmount int `json:"genamt" yaml:"genamt" toml:"genamt"`
	// MaxLength is the context budget in tokens.
	MaxLength int `json:"max_length" yaml:"max_length" toml:"max_length"`
}

// DefaultPreset mirrors the stock preset shipped with new installs.
func DefaultPreset() Preset {
	return Preset{
		Temp:              0.5,
		TopP:              0.9,
		MinP:              0.05,
		Typical:           1,
		TFS:               1,
		RepPen:            1.1,
		RepPenSlope:       1,
		NoRepeatNgramSize: 20,
		NumBeams:          1,
		LengthPenalty:     1,
		DoSample:          true,
		AddBOSToken:       true,
		TruncationLength:  2048,
		SkipSpecialTokens: true,
		MirostatTau:       5,
		MirostatEta:       0.1,
		GuidanceScale:     1,
		SamplerOrder:      []int{6, 0, 1, 3, 4, 2, 5},
		Seed:              "-1",
		GenAmount:         256,
		MaxLength:         4096,
	}
}
