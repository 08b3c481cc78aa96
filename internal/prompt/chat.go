package prompt

import (
	"strings"
	"time"

	"promptline/internal/macro"
	"promptline/internal/tokencache"
	"promptline/pkg/types"
)

// ChatOptions are the provider-level knobs of a chat build.
type ChatOptions struct {
	// FirstMessage, when UseFirstMessage is set, is emitted as a user entry
	// right after the system entry. It is not budgeted.
	FirstMessage    string
	UseFirstMessage bool
	// Prefill is written ahead of the newest included message.
	Prefill string
}

// ChatResult is the outcome of a chat build.
type ChatResult struct {
	Messages []types.ChatEntry
	Tokens   int
	Included int
	Elapsed  time.Duration
}

// BuildChat assembles a role-tagged message list that fits maxLength tokens.
// Names and timestamps, when the format enables them, are written into the
// message content so that what is charged is what is sent.
func (a *Assembler) BuildChat(in Input, maxLength int, opt ChatOptions) ChatResult {
	start := time.Now()
	charName, userName := in.Character.Name, in.User.Name
	f := in.Instruct
	il := a.cache.Instruct(f, charName, userName)
	cl := a.cache.Card(tokencache.KindCharacter, in.Character, userName)
	ul := a.cache.Card(tokencache.KindUser, in.User, charName)

	var parts []string
	static := 0
	add := func(text string, n int) {
		if text == "" {
			return
		}
		parts = append(parts, text)
		static += n
	}
	add(f.SystemPrompt, il.SystemPrompt)
	add(strings.TrimSpace(in.User.Description), ul.Description)
	add(strings.TrimSpace(in.Character.Description), cl.Description)
	if f.Scenario {
		add(in.Character.Scenario, cl.Scenario)
		add(in.Character.Personality, cl.Personality)
	}
	if len(parts) > 1 {
		static += (len(parts) - 1) * a.counter.Count("\n")
	}
	system := macro.Replace(strings.Join(parts, "\n"), charName, userName)

	prefillLen := 0
	if opt.Prefill != "" {
		prefillLen = a.counter.Count(opt.Prefill)
	}

	end := len(in.Messages)
	// without a partial buffer the newest message is the placeholder being filled
	if in.Buffer == "" && end > 0 {
		end--
	}

	var picked []types.ChatEntry
	acc := 0
	for i := end - 1; i >= 0; i-- {
		m := in.Messages[i]
		var sb strings.Builder
		cost := a.messageCount(in, i)
		if len(picked) == 0 && opt.Prefill != "" {
			sb.WriteString(opt.Prefill)
			cost += prefillLen
		}
		if f.Timestamp {
			ts := TimestampLabel(sendDate(m))
			sb.WriteString(ts)
			cost += a.counter.Count(ts)
		}
		if f.Names {
			name := NameLabel(m.Name)
			sb.WriteString(name)
			cost += a.counter.Count(name)
		}
		if acc+static+cost > maxLength {
			break
		}
		sb.WriteString(m.Active().Text)
		role := types.RoleAssistant
		if m.IsUser {
			role = types.RoleUser
		}
		picked = append(picked, types.ChatEntry{
			Role:    role,
			Content: macro.Replace(sb.String(), charName, userName),
		})
		acc += cost
	}

	out := make([]types.ChatEntry, 0, len(picked)+2)
	out = append(out, types.ChatEntry{Role: types.RoleSystem, Content: system})
	if opt.UseFirstMessage && opt.FirstMessage != "" {
		out = append(out, types.ChatEntry{
			Role:    types.RoleUser,
			Content: macro.Replace(opt.FirstMessage, charName, userName),
		})
	}
	for i := len(picked) - 1; i >= 0; i-- {
		out = append(out, picked[i])
	}

	res := ChatResult{
		Messages: out,
		Tokens:   static + acc,
		Included: len(picked),
		Elapsed:  time.Since(start),
	}
	a.log.Debug().
		Int("tokens", res.Tokens).
		Int("budget", maxLength).
		Int("messages", res.Included).
		Dur("elapsed", res.Elapsed).
		Msg("approximate context size")
	if a.PrintContext {
		a.log.Info().Interface("context", out).Msg("assembled context")
	}
	return res
}
