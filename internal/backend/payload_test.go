package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"promptline/internal/llm"
	"promptline/pkg/types"
)

func fields(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func baseRequest() Request {
	p := types.DefaultPreset()
	p.TopK = 40
	p.RepPenRange = 8000
	return Request{
		Preset:   p,
		Instruct: types.InstructFormat{StopSequence: "###,</s>"},
		Prompt:   "PROMPT",
		Messages: []types.ChatEntry{{Role: types.RoleSystem, Content: "sys"}},
		Limits:   Limits{Context: 2048, Generation: 128},
		Seed:     7,
		Model:    "m",
	}
}

func TestPayloadKobold(t *testing.T) {
	v, err := Payload(Kobold, baseRequest())
	require.NoError(t, err)
	m := fields(t, v)
	require.Equal(t, "PROMPT", m["prompt"])
	require.EqualValues(t, 2048, m["max_context_length"])
	require.EqualValues(t, 128, m["max_length"])
	require.EqualValues(t, 7, m["sampler_seed"])
	require.EqualValues(t, 40, m["top_k"])
	require.Equal(t, []any{"###", "</s>"}, m["stop_sequence"])
	require.Len(t, m["sampler_order"], 7)
	require.Equal(t, true, m["use_default_badwordsids"])
}

func TestPayloadHorde(t *testing.T) {
	r := baseRequest()
	_, err := Payload(Horde, r)
	require.True(t, IsConfiguration(err))

	r.HordeModels = []string{"small"}
	v, err := Payload(Horde, r)
	require.NoError(t, err)
	m := fields(t, v)
	params := m["params"].(map[string]any)
	require.EqualValues(t, 2048, params["max_context_length"])
	require.EqualValues(t, 2048, params["rep_pen_range"], "rep_pen_range clamps to the context")
	require.Equal(t, true, params["frmttriminc"])
	require.Equal(t, []any{"small"}, m["models"])
	require.Equal(t, []any{}, m["workers"])
}

func TestPayloadTextGen(t *testing.T) {
	r := baseRequest()
	r.Preset.Temp = 1
	r.Preset.DynatempRange = 0.5
	v, err := Payload(TextGen, r)
	require.NoError(t, err)
	m := fields(t, v)
	require.Equal(t, true, m["stream"])
	require.EqualValues(t, 128, m["max_tokens"])
	require.Equal(t, true, m["dynamic_temperature"])
	require.InDelta(t, 0.75, m["dynatemp_low"], 1e-9)
	require.InDelta(t, 1.25, m["dynatemp_high"], 1e-9)
	require.Equal(t, []any{"###", "</s>"}, m["stopping_strings"])
}

func TestPayloadChat(t *testing.T) {
	v, err := Payload(OpenAI, baseRequest())
	require.NoError(t, err)
	m := fields(t, v)
	require.Equal(t, "m", m["model"])
	require.NotContains(t, m, "top_k")
	require.NotContains(t, m, "prompt")
	require.Len(t, m["messages"], 1)

	v, err = Payload(OpenRouter, baseRequest())
	require.NoError(t, err)
	require.EqualValues(t, 40, fields(t, v)["top_k"])

	r := baseRequest()
	r.Model = ""
	_, err = Payload(OpenRouter, r)
	require.True(t, IsConfiguration(err))
}

func TestPayloadOthers(t *testing.T) {
	v, err := Payload(Mancer, baseRequest())
	require.NoError(t, err)
	require.EqualValues(t, 128, fields(t, v)["max_tokens"])

	v, err = Payload(Completions, baseRequest())
	require.NoError(t, err)
	m := fields(t, v)
	require.EqualValues(t, 7, m["seed"])
	require.Equal(t, []any{"###", "</s>"}, m["stop"])

	r := baseRequest()
	r.Threads = 6
	v, err = Payload(Local, r)
	require.NoError(t, err)
	lp, ok := v.(llm.Params)
	require.True(t, ok)
	require.Equal(t, 6, lp.Threads)
	require.Equal(t, 128, lp.NPredict)

	_, err = Payload(Kind("x"), baseRequest())
	require.True(t, IsConfiguration(err))
}
