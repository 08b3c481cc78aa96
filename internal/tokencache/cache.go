// Package tokencache memoizes token lengths of slow-changing text fragments
// (persona blocks and instruct affixes) so context assembly does not re-tokenize
// them every turn.
//
// Entries are valid only while the measured text is unchanged. Callers that edit
// a card or an instruct format must call Invalidate for it before the next
// assembly; the cache never re-measures on its own.
package tokencache

import (
	"strings"
	"sync"

	"promptline/internal/macro"
	"promptline/internal/tokenizer"
	"promptline/pkg/types"
)

// Kind identifies what a cache entry measures.
type Kind string

const (
	KindInstruct  Kind = "instruct"
	KindCharacter Kind = "character"
	KindUser      Kind = "user"
)

// InstructLengths holds the token length of each instruct affix after macro
// resolution.
type InstructLengths struct {
	SystemPrompt     int
	SystemPrefix     int
	SystemSuffix     int
	InputPrefix      int
	InputSuffix      int
	OutputPrefix     int
	LastOutputPrefix int
	OutputSuffix     int
}

// CardLengths holds the token length of each persona block after macro
// resolution. Description is measured trimmed.
type CardLengths struct {
	Description int
	Scenario    int
	Personality int
	Examples    int
}

// Cache is safe for concurrent use.
type Cache struct {
	counter tokenizer.Counter

	mu        sync.Mutex
	instructs map[string]InstructLengths
	cards     map[string]CardLengths
	hits      uint64
	misses    uint64
}

// New returns an empty cache measuring with counter.
func New(counter tokenizer.Counter) *Cache {
	return &Cache{
		counter:   counter,
		instructs: make(map[string]InstructLengths),
		cards:     make(map[string]CardLengths),
	}
}

func key(kind Kind, owner, charName, userName string) string {
	return string(kind) + "\x00" + owner + "\x00" + charName + "\x00" + userName
}

func ownerPrefix(kind Kind, owner string) string {
	return string(kind) + "\x00" + owner + "\x00"
}

// Instruct returns the affix lengths of f (unresolved) for the given names.
func (c *Cache) Instruct(f types.InstructFormat, charName, userName string) InstructLengths {
	k := key(KindInstruct, f.Name, charName, userName)
	c.mu.Lock()
	if v, ok := c.instructs[k]; ok {
		c.hits++
		c.mu.Unlock()
		return v
	}
	c.misses++
	c.mu.Unlock()

	r := macro.Instruct(f, charName, userName)
	v := InstructLengths{
		SystemPrompt:     c.counter.Count(r.SystemPrompt),
		SystemPrefix:     c.counter.Count(r.SystemPrefix),
		SystemSuffix:     c.counter.Count(r.SystemSuffix),
		InputPrefix:      c.counter.Count(r.InputPrefix),
		InputSuffix:      c.counter.Count(r.InputSuffix),
		OutputPrefix:     c.counter.Count(r.OutputPrefix),
		LastOutputPrefix: c.counter.Count(r.OutputPrefixFor(true)),
		OutputSuffix:     c.counter.Count(r.OutputSuffix),
	}
	c.mu.Lock()
	c.instructs[k] = v
	c.mu.Unlock()
	return v
}

// Card returns the block lengths of card in the given role. Macros are resolved
// with the card's own name and peerName on the other side.
func (c *Cache) Card(kind Kind, card types.Card, peerName string) CardLengths {
	charName, userName := card.Name, peerName
	if kind == KindUser {
		charName, userName = peerName, card.Name
	}
	k := key(kind, cardOwner(card), charName, userName)
	c.mu.Lock()
	if v, ok := c.cards[k]; ok {
		c.hits++
		c.mu.Unlock()
		return v
	}
	c.misses++
	c.mu.Unlock()

	m := func(s string) int { return c.counter.Count(macro.Replace(s, charName, userName)) }
	v := CardLengths{
		Description: m(strings.TrimSpace(card.Description)),
		Scenario:    m(card.Scenario),
		Personality: m(card.Personality),
		Examples:    m(card.Examples),
	}
	c.mu.Lock()
	c.cards[k] = v
	c.mu.Unlock()
	return v
}

func cardOwner(card types.Card) string {
	if card.ID != "" {
		return card.ID
	}
	return card.Name
}

// Invalidate drops every entry measured for owner (a card ID or instruct name),
// across all name pairings.
func (c *Cache) Invalidate(kind Kind, owner string) {
	p := ownerPrefix(kind, owner)
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == KindInstruct {
		for k := range c.instructs {
			if strings.HasPrefix(k, p) {
				delete(c.instructs, k)
			}
		}
		return
	}
	for k := range c.cards {
		if strings.HasPrefix(k, p) {
			delete(c.cards, k)
		}
	}
}

// InvalidateCard drops the entries of card in both roles.
func (c *Cache) InvalidateCard(card types.Card) {
	c.Invalidate(KindCharacter, cardOwner(card))
	c.Invalidate(KindUser, cardOwner(card))
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.instructs = make(map[string]InstructLengths)
	c.cards = make(map[string]CardLengths)
	c.mu.Unlock()
}

// Stats reports hit/miss counters and current entry count.
func (c *Cache) Stats() (hits, misses uint64, entries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.instructs) + len(c.cards)
}
