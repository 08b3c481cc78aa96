package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"promptline/internal/tokenizer"
	"promptline/pkg/types"
)

// byteCounter charges one token per byte so budgets are easy to reason about.
var byteCounter = tokenizer.CounterFunc(func(s string) int { return len(s) })

func msg(id int64, user bool, name, text string) types.Message {
	return types.Message{ID: id, IsUser: user, Name: name, Swipes: []types.Swipe{{Text: text}}}
}

func plainInstruct() types.InstructFormat {
	return types.InstructFormat{
		Name:         "plain",
		InputPrefix:  "### Instruction: ",
		OutputPrefix: "### Response: ",
		InputSuffix:  "\n",
		OutputSuffix: "\n",
	}
}

func newAssembler() *Assembler {
	return New(byteCounter, nil, zerolog.Nop())
}

func baseInput() Input {
	return Input{
		Character: types.Card{ID: "c", Name: "Ann", Description: "Ann is kind.", Examples: "<EX>"},
		User:      types.Card{ID: "u", Name: "Bob"},
		Instruct:  plainInstruct(),
		Messages: []types.Message{
			msg(0, true, "Bob", "Hi"),
			msg(1, false, "Ann", "Hello"),
		},
	}
}

func TestBuildTextScenarioOrder(t *testing.T) {
	res := newAssembler().BuildText(baseInput(), 10_000)
	txt := res.Text
	in := strings.Index(txt, "### Instruction: Hi")
	out := strings.Index(txt, "### Response: Hello")
	require.GreaterOrEqual(t, in, 0, txt)
	require.Greater(t, out, in, txt)
	require.Equal(t, 2, res.Included)
	require.True(t, res.ReachedFirst)
	// newest message carries no closing suffix
	require.True(t, strings.HasSuffix(txt, "Hello"), txt)
}

func TestBuildTextExactStaticBudget(t *testing.T) {
	in := baseInput()
	in.Instruct.SystemPrefix = "SYS:"
	in.Instruct.SystemSuffix = "\n"
	a := newAssembler()

	empty := in
	empty.Messages = nil
	static := a.BuildText(empty, 10_000)
	require.Equal(t, "SYS:Ann is kind.\n", static.Text)
	require.Equal(t, len(static.Text), static.Tokens)

	res := a.BuildText(in, static.Tokens)
	require.Equal(t, 0, res.Included)
	require.Equal(t, "SYS:Ann is kind.\n", res.Text)
}

func TestBuildTextNonPositiveBudget(t *testing.T) {
	a := newAssembler()
	for _, b := range []int{0, -5} {
		res := a.BuildText(baseInput(), b)
		require.Equal(t, 0, res.Included)
		require.False(t, res.ReachedFirst)
	}
}

func TestBuildTextBudgetMonotonic(t *testing.T) {
	in := baseInput()
	for i := int64(2); i < 12; i++ {
		in.Messages = append(in.Messages, msg(i, i%2 == 0, "x", strings.Repeat("w", int(i))))
	}
	a := newAssembler()
	prev := len(in.Messages) + 1
	for b := 400; b >= -1; b-- {
		res := a.BuildText(in, b)
		if res.Included > 0 {
			require.LessOrEqual(t, res.Tokens, b)
		}
		require.LessOrEqual(t, res.Included, prev, "budget %d", b)
		prev = res.Included
	}
}

func TestBuildTextIdempotent(t *testing.T) {
	a := newAssembler()
	in := baseInput()
	in.Instruct.Timestamp = true
	in.Instruct.Names = true
	in.Messages[0].Swipes[0].SendDate = time.Date(2024, 1, 1, 13, 4, 5, 0, time.UTC)
	first := a.BuildText(in, 10_000)
	second := a.BuildText(in, 10_000)
	require.Equal(t, first.Text, second.Text)
	require.Equal(t, first.Tokens, second.Tokens)
	require.Contains(t, first.Text, "[Mon 1:04:05 PM]\nBob :Hi")
}

func TestBuildTextExampleLaw(t *testing.T) {
	a := newAssembler()
	in := baseInput()
	in.Instruct.Examples = true

	full := a.BuildText(in, 10_000)
	require.True(t, full.ExamplesIncluded)
	require.Contains(t, full.Text, "<EX>")

	// disabled
	off := in
	off.Instruct.Examples = false
	require.NotContains(t, a.BuildText(off, 10_000).Text, "<EX>")

	// history not fully included
	withoutEx := a.BuildText(off, 10_000)
	oldest := len("### Instruction: Hi\n")
	partial := a.BuildText(in, withoutEx.Tokens-oldest)
	require.False(t, partial.ReachedFirst)
	require.NotContains(t, partial.Text, "<EX>")

	// history fits but examples do not
	tight := a.BuildText(in, withoutEx.Tokens+len("<EX>")-1)
	require.True(t, tight.ReachedFirst)
	require.False(t, tight.ExamplesIncluded)
	require.NotContains(t, tight.Text, "<EX>")

	exact := a.BuildText(in, withoutEx.Tokens+len("<EX>"))
	require.True(t, exact.ExamplesIncluded)
}

func TestBuildTextEmptySwipeStillPaysOverhead(t *testing.T) {
	a := newAssembler()
	in := baseInput()
	in.Messages = append(in.Messages, types.Message{ID: 2, Name: "Ann"})
	res := a.BuildText(in, 10_000)
	require.Equal(t, 3, res.Included)
	require.True(t, strings.HasSuffix(res.Text, "### Response: "), res.Text)
}

func TestBuildTextResolvesMacros(t *testing.T) {
	a := newAssembler()
	in := baseInput()
	in.Instruct.SystemPrompt = "{{char}} talks to {{user}}. "
	res := a.BuildText(in, 10_000)
	require.True(t, strings.HasPrefix(res.Text, "Ann talks to Bob. "), res.Text)
}

func TestBuildTextScenarioGate(t *testing.T) {
	a := newAssembler()
	in := baseInput()
	in.Character.Scenario = "<SCN>"
	require.NotContains(t, a.BuildText(in, 10_000).Text, "<SCN>")
	in.Instruct.Scenario = true
	require.Contains(t, a.BuildText(in, 10_000).Text, "<SCN>")
}

func TestBuildChat(t *testing.T) {
	a := newAssembler()
	in := baseInput()
	in.Instruct.SystemPrompt = "Be {{char}}."
	// trailing placeholder for the reply being generated
	in.Messages = append(in.Messages, msg(2, true, "Bob", "How are you?"), types.Message{ID: 3, Name: "Ann"})

	res := a.BuildChat(in, 10_000, ChatOptions{FirstMessage: "Start, {{user}}", UseFirstMessage: true, Prefill: "P:"})
	require.Equal(t, 3, res.Included)
	require.Len(t, res.Messages, 5)
	require.Equal(t, types.ChatEntry{Role: types.RoleSystem, Content: "Be Ann.\nAnn is kind."}, res.Messages[0])
	require.Equal(t, types.ChatEntry{Role: types.RoleUser, Content: "Start, Bob"}, res.Messages[1])
	require.Equal(t, "Hi", res.Messages[2].Content)
	require.Equal(t, types.RoleAssistant, res.Messages[3].Role)
	require.Equal(t, "P:How are you?", res.Messages[4].Content)
}

func TestBuildChatKeepsNewestWithBuffer(t *testing.T) {
	a := newAssembler()
	in := baseInput()
	in.Buffer = "Hel"
	res := a.BuildChat(in, 10_000, ChatOptions{})
	require.Equal(t, 2, res.Included)
	require.Equal(t, "Hello", res.Messages[len(res.Messages)-1].Content)
}

func TestBuildChatBudget(t *testing.T) {
	a := newAssembler()
	in := baseInput()
	in.Buffer = "x"
	static := a.BuildChat(Input{Character: in.Character, User: in.User, Instruct: in.Instruct}, 10_000, ChatOptions{}).Tokens
	res := a.BuildChat(in, static+len("Hello"), ChatOptions{})
	require.Equal(t, 1, res.Included)
	require.Equal(t, "Hello", res.Messages[1].Content)
	require.LessOrEqual(t, res.Tokens, static+len("Hello"))

	none := a.BuildChat(in, static, ChatOptions{})
	require.Equal(t, 0, none.Included)
	require.Len(t, none.Messages, 1)
}

func TestBuildTextChargesResolvedMessages(t *testing.T) {
	a := newAssembler()
	in := baseInput()
	in.User.Name = "Bartholomew the Third"
	in.Messages = []types.Message{msg(0, false, "Ann", "Hello {{user}}, welcome back {{user}}")}
	res := a.BuildText(in, 10_000)
	require.Contains(t, res.Text, "Hello Bartholomew the Third, welcome back Bartholomew the Third")
	require.GreaterOrEqual(t, res.Tokens, len(res.Text))

	tight := a.BuildText(in, res.Tokens-1)
	require.Equal(t, 0, tight.Included)
}

func TestBuildChatChargesResolvedMessages(t *testing.T) {
	a := newAssembler()
	in := baseInput()
	in.User.Name = "Bartholomew the Third"
	in.Messages = []types.Message{msg(0, true, "Bartholomew the Third", "{{user}} here"), msg(1, false, "Ann", "Hi {{user}}")}
	in.Buffer = "x"
	static := a.BuildChat(Input{Character: in.Character, User: in.User, Instruct: in.Instruct}, 10_000, ChatOptions{}).Tokens

	res := a.BuildChat(in, static+len("Hi {{user}}"), ChatOptions{})
	require.Equal(t, 0, res.Included, "the raw placeholder length must not be enough")

	res = a.BuildChat(in, static+len("Hi Bartholomew the Third"), ChatOptions{})
	require.Equal(t, 1, res.Included)
	require.Equal(t, "Hi Bartholomew the Third", res.Messages[1].Content)
}
