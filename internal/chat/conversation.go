// Package chat holds the in-memory conversation the generation service reads
// from and writes finished text back into.
package chat

import (
	"errors"
	"sync"
	"time"

	"promptline/internal/macro"
	"promptline/internal/tokenizer"
	"promptline/pkg/types"
)

// ErrNothingToContinue is returned when the conversation does not end with an
// assistant message.
var ErrNothingToContinue = errors.New("last message is not an assistant reply")

// Snapshot is an immutable copy of the conversation used for one context build.
type Snapshot struct {
	Character types.Card
	User      types.Card
	Instruct  types.InstructFormat
	Messages  []types.Message
	// Counts holds the token count of each message's active swipe, measured
	// after {{char}}/{{user}} resolution.
	Counts []int
}

// TokenCount returns the cached token count of message i.
func (s Snapshot) TokenCount(i int) int {
	if i < 0 || i >= len(s.Counts) {
		return 0
	}
	return s.Counts[i]
}

type countKey struct {
	id    int64
	swipe int
}

// measured is a memoized count and the name pair it was resolved with.
type measured struct {
	charName, userName string
	n                  int
}

// Conversation is safe for concurrent use.
type Conversation struct {
	mu        sync.RWMutex
	character types.Card
	user      types.Card
	instruct  types.InstructFormat
	messages  []types.Message
	nextID    int64

	counter tokenizer.Counter
	counts  map[countKey]measured
	now     func() time.Time
}

// New builds a conversation. Messages are copied.
func New(character, user types.Card, instruct types.InstructFormat, messages []types.Message, counter tokenizer.Counter) *Conversation {
	c := &Conversation{
		character: character,
		user:      user,
		instruct:  instruct,
		counter:   counter,
		counts:    make(map[countKey]measured),
		now:       time.Now,
	}
	for _, m := range messages {
		c.messages = append(c.messages, m.Clone())
		if m.ID >= c.nextID {
			c.nextID = m.ID + 1
		}
	}
	return c
}

// Snapshot copies the current state and measures every active swipe.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Character: c.character,
		User:      c.user,
		Instruct:  c.instruct,
		Messages:  make([]types.Message, len(c.messages)),
		Counts:    make([]int, len(c.messages)),
	}
	for i, m := range c.messages {
		s.Messages[i] = m.Clone()
		s.Counts[i] = c.tokenCountLocked(m)
	}
	return s
}

// TokenCount returns the cached token count of message i's active swipe as it
// will be sent, with macros resolved against the current names.
func (c *Conversation) TokenCount(i int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.messages) {
		return 0
	}
	return c.tokenCountLocked(c.messages[i])
}

func (c *Conversation) tokenCountLocked(m types.Message) int {
	k := countKey{id: m.ID, swipe: m.SwipeID}
	charName, userName := c.character.Name, c.user.Name
	if v, ok := c.counts[k]; ok && v.charName == charName && v.userName == userName {
		return v.n
	}
	n := c.counter.Count(macro.Replace(m.Active().Text, charName, userName))
	c.counts[k] = measured{charName: charName, userName: userName, n: n}
	return n
}

// Messages returns a copy of the message list.
func (c *Conversation) Messages() []types.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Character returns the character card.
func (c *Conversation) Character() types.Card {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.character
}

// User returns the user card.
func (c *Conversation) User() types.Card {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Instruct returns the instruct format.
func (c *Conversation) Instruct() types.InstructFormat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instruct
}

// SetCharacter swaps the character card.
func (c *Conversation) SetCharacter(card types.Card) {
	c.mu.Lock()
	c.character = card
	c.mu.Unlock()
}

// SetUser swaps the user card.
func (c *Conversation) SetUser(card types.Card) {
	c.mu.Lock()
	c.user = card
	c.mu.Unlock()
}

// SetInstruct swaps the instruct format.
func (c *Conversation) SetInstruct(f types.InstructFormat) {
	c.mu.Lock()
	c.instruct = f
	c.mu.Unlock()
}

func (c *Conversation) appendLocked(isUser bool, name, text string) int {
	now := c.now()
	c.messages = append(c.messages, types.Message{
		ID:       c.nextID,
		IsUser:   isUser,
		Name:     name,
		SendDate: now,
		Swipes:   []types.Swipe{{Text: text, SendDate: now}},
	})
	c.nextID++
	return len(c.messages) - 1
}

// AppendUser adds a user turn and returns its index.
func (c *Conversation) AppendUser(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(true, c.user.Name, text)
}

// AppendPlaceholder adds an empty assistant turn that the next generation fills.
func (c *Conversation) AppendPlaceholder() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(false, c.character.Name, "")
}

// BeginRegenerate prepares the last assistant message for an in-place
// regeneration: its text moves to RegenCache and the swipe is cleared. When the
// conversation does not end with an assistant reply (or holds only the greeting)
// a fresh placeholder is appended instead.
func (c *Conversation) BeginRegenerate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.messages)
	if n <= 1 || c.messages[n-1].IsUser {
		c.appendLocked(false, c.character.Name, "")
		return
	}
	m := &c.messages[n-1]
	if m.SwipeID < 0 || m.SwipeID >= len(m.Swipes) {
		m.Swipes = append(m.Swipes, types.Swipe{SendDate: c.now()})
		m.SwipeID = len(m.Swipes) - 1
	}
	sw := &m.Swipes[m.SwipeID]
	if sw.Text != "" {
		sw.RegenCache = sw.Text
	}
	sw.Text = ""
	delete(c.counts, countKey{id: m.ID, swipe: m.SwipeID})
}

// BeginContinue caches the last assistant text for restoration and returns it so
// the generation buffer can be seeded with it.
func (c *Conversation) BeginContinue() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.messages)
	if n == 0 || c.messages[n-1].IsUser {
		return "", ErrNothingToContinue
	}
	m := &c.messages[n-1]
	if m.SwipeID < 0 || m.SwipeID >= len(m.Swipes) {
		return "", ErrNothingToContinue
	}
	sw := &m.Swipes[m.SwipeID]
	sw.RegenCache = sw.Text
	return sw.Text, nil
}

// SetLastText stores generated text into the active swipe of the last message.
func (c *Conversation) SetLastText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.messages)
	if n == 0 {
		return
	}
	m := &c.messages[n-1]
	if m.SwipeID < 0 || m.SwipeID >= len(m.Swipes) {
		return
	}
	m.Swipes[m.SwipeID].Text = text
	m.Swipes[m.SwipeID].SendDate = c.now()
	delete(c.counts, countKey{id: m.ID, swipe: m.SwipeID})
}

// RestoreRegen puts the cached pre-regeneration text back into the last
// message. It reports whether anything was restored.
func (c *Conversation) RestoreRegen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.messages)
	if n == 0 {
		return false
	}
	m := &c.messages[n-1]
	if m.SwipeID < 0 || m.SwipeID >= len(m.Swipes) {
		return false
	}
	sw := &m.Swipes[m.SwipeID]
	if sw.RegenCache == "" {
		return false
	}
	sw.Text = sw.RegenCache
	sw.RegenCache = ""
	delete(c.counts, countKey{id: m.ID, swipe: m.SwipeID})
	return true
}

// ClearRegen drops the cached text once a regeneration has been accepted.
func (c *Conversation) ClearRegen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.messages)
	if n == 0 {
		return
	}
	m := &c.messages[n-1]
	if m.SwipeID >= 0 && m.SwipeID < len(m.Swipes) {
		m.Swipes[m.SwipeID].RegenCache = ""
	}
}
