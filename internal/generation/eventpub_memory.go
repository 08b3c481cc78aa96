package generation

import "sync"

// MemoryPublisher keeps the most recent events in memory. A zero limit keeps
// everything.
type MemoryPublisher struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

func NewMemoryPublisher(limit int) *MemoryPublisher { return &MemoryPublisher{limit: limit} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	if p.limit > 0 && len(p.events) > p.limit {
		p.events = append(p.events[:0:0], p.events[len(p.events)-p.limit:]...)
	}
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Notices returns the messages of the retained notice events, oldest first.
func (p *MemoryPublisher) Notices() []string {
	var out []string
	for _, e := range p.Events() {
		if e.Name != EventNotice {
			continue
		}
		if m, ok := e.Fields["message"].(string); ok {
			out = append(out, m)
		}
	}
	return out
}
