// Package prompt serializes a conversation into a budget-bounded request
// context, either as one raw completion prompt or as a list of role-tagged
// chat messages.
//
// Accounting rule, shared by both modes: a fragment is charged exactly once,
// with the length the tokenizer reports for the text that is emitted, and a
// message is accepted only if static + accepted + message <= budget. No
// correction multiplier is applied; backends are expected to truncate if the
// estimate is off.
package prompt

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"promptline/internal/macro"
	"promptline/internal/tokencache"
	"promptline/internal/tokenizer"
	"promptline/pkg/types"
)

// Input is the conversation state a build reads. It is never mutated.
type Input struct {
	Character types.Card
	User      types.Card
	// Instruct is the unresolved format; macros are resolved by the assembler.
	Instruct types.InstructFormat
	Messages []types.Message
	// TokenCount returns the token count of message i's active swipe. Nil means
	// measure with the assembler's counter.
	TokenCount func(i int) int
	// Buffer is the in-progress generation text. Chat builds keep the newest
	// message only when it is non-empty.
	Buffer string
}

// Result is the outcome of a raw completion build.
type Result struct {
	Text string
	// Tokens is the accounted estimate (static payload plus included shards).
	Tokens int
	// Included is the number of conversation messages that fit.
	Included int
	// ReachedFirst reports whether the oldest message was included.
	ReachedFirst     bool
	ExamplesIncluded bool
	Elapsed          time.Duration
}

// Assembler builds contexts. It is safe for concurrent use when its counter is.
type Assembler struct {
	counter tokenizer.Counter
	cache   *tokencache.Cache
	log     zerolog.Logger
	// PrintContext logs every assembled context at info level.
	PrintContext bool
}

// New returns an Assembler measuring with counter and memoizing fixed fragments
// in cache. A nil cache gets a private one.
func New(counter tokenizer.Counter, cache *tokencache.Cache, log zerolog.Logger) *Assembler {
	if cache == nil {
		cache = tokencache.New(counter)
	}
	return &Assembler{counter: counter, cache: cache, log: log}
}

// Cache returns the fragment cache so callers can invalidate edited entities.
func (a *Assembler) Cache() *tokencache.Cache { return a.cache }

func (a *Assembler) messageCount(in Input, i int) int {
	if in.TokenCount != nil {
		return in.TokenCount(i)
	}
	return a.counter.Count(macro.Replace(in.Messages[i].Active().Text, in.Character.Name, in.User.Name))
}

// TimestampLabel formats the optional per-message timestamp line.
func TimestampLabel(t time.Time) string {
	return "[" + t.Format("Mon 3:04:05 PM") + "]\n"
}

// NameLabel formats the optional speaker label.
func NameLabel(name string) string {
	return name + " :"
}

func sendDate(m types.Message) time.Time {
	if d := m.Active().SendDate; !d.IsZero() {
		return d
	}
	return m.SendDate
}

const wrapString = "\n"

// BuildText assembles a raw completion prompt that fits maxLength tokens.
//
// Layout: system prefix, system prompt, character description, scenario and
// personality (when the format enables scenario), user description, examples
// (only when the whole history fit), system suffix, then messages oldest to
// newest. The newest message carries no closing suffix so the backend
// continues it.
func (a *Assembler) BuildText(in Input, maxLength int) Result {
	start := time.Now()
	charName, userName := in.Character.Name, in.User.Name
	f := in.Instruct
	il := a.cache.Instruct(f, charName, userName)
	cl := a.cache.Card(tokencache.KindCharacter, in.Character, userName)
	ul := a.cache.Card(tokencache.KindUser, in.User, charName)

	charDesc := strings.TrimSpace(in.Character.Description)
	userDesc := strings.TrimSpace(in.User.Description)

	var payload strings.Builder
	// the suffix is always appended, so its cost is reserved up front
	static := il.SystemSuffix
	if f.SystemPrefix != "" {
		payload.WriteString(f.SystemPrefix)
		static += il.SystemPrefix
	}
	if f.SystemPrompt != "" {
		payload.WriteString(f.SystemPrompt)
		static += il.SystemPrompt
	}
	if charDesc != "" {
		payload.WriteString(charDesc)
		static += cl.Description
	}
	if f.Scenario && in.Character.Scenario != "" {
		payload.WriteString(in.Character.Scenario)
		static += cl.Scenario
	}
	if f.Scenario && in.Character.Personality != "" {
		payload.WriteString(in.Character.Personality)
		static += cl.Personality
	}
	if userDesc != "" {
		payload.WriteString(userDesc)
		static += ul.Description
	}

	wrapLen := 0
	if f.Wrap {
		wrapLen = a.counter.Count(wrapString)
	}

	// shards are collected newest first and reversed at the end
	var shards []string
	acc := 0
	reachedFirst := false
	for i := len(in.Messages) - 1; i >= 0; i-- {
		m := in.Messages[i]
		last := i == len(in.Messages)-1

		var affix string
		var affixLen int
		if m.IsUser {
			affix, affixLen = f.InputPrefix, il.InputPrefix
		} else if last {
			affix, affixLen = f.OutputPrefixFor(true), il.LastOutputPrefix
		} else {
			affix, affixLen = f.OutputPrefix, il.OutputPrefix
		}
		var suffix string
		if !last {
			if m.IsUser {
				suffix = f.InputSuffix
				affixLen += il.InputSuffix
			} else {
				suffix = f.OutputSuffix
				affixLen += il.OutputSuffix
			}
		}

		var ts string
		tsLen := 0
		if f.Timestamp {
			ts = TimestampLabel(sendDate(m))
			tsLen = a.counter.Count(ts)
		}
		var name string
		nameLen := 0
		if f.Names {
			name = NameLabel(m.Name)
			nameLen = a.counter.Count(name)
		}

		shardLen := a.messageCount(in, i) + affixLen + nameLen + tsLen + wrapLen
		if acc+static+shardLen > maxLength {
			break
		}

		var sb strings.Builder
		sb.WriteString(affix)
		sb.WriteString(ts)
		sb.WriteString(name)
		sb.WriteString(m.Active().Text)
		sb.WriteString(suffix)
		if f.Wrap {
			sb.WriteString(wrapString)
		}
		shards = append(shards, sb.String())
		acc += shardLen
		reachedFirst = i == 0
	}

	examplesIncluded := false
	if reachedFirst && f.Examples && in.Character.Examples != "" && acc+static+cl.Examples <= maxLength {
		payload.WriteString(in.Character.Examples)
		acc += cl.Examples
		examplesIncluded = true
	}

	payload.WriteString(f.SystemSuffix)
	for i := len(shards) - 1; i >= 0; i-- {
		payload.WriteString(shards[i])
	}
	text := macro.Replace(payload.String(), charName, userName)

	res := Result{
		Text:             text,
		Tokens:           static + acc,
		Included:         len(shards),
		ReachedFirst:     reachedFirst,
		ExamplesIncluded: examplesIncluded,
		Elapsed:          time.Since(start),
	}
	a.log.Debug().
		Int("tokens", res.Tokens).
		Int("budget", maxLength).
		Int("messages", res.Included).
		Dur("elapsed", res.Elapsed).
		Msg("approximate context size")
	if a.PrintContext {
		a.log.Info().Str("context", text).Msg("assembled context")
	}
	return res
}
