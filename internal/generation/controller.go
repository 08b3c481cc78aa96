package generation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"promptline/internal/backend"
	"promptline/internal/stream"
)

// State of the controller. Completed, Aborted and Errored are outcomes: the
// controller passes through them straight back to Idle.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
	StateErrored    State = "errored"
)

// Outcome describes how a generation ended.
type Outcome struct {
	ID    string
	State State
	Err   error
	// Text is the filtered buffer at the terminal transition.
	Text string
}

// Snapshot is a read-only projection of the controller.
type Snapshot struct {
	State       State
	ID          string
	Buffer      string
	Last        Outcome
	Generations uint64
	Aborts      uint64
	Errors      uint64
}

// Controller enforces one generation at a time and owns the output buffer.
type Controller struct {
	mu      sync.Mutex
	state   State
	id      string
	buffer  string
	filter  *stream.Filter
	abort   func()
	done    chan struct{}
	started time.Time
	last    Outcome

	generations uint64
	aborts      uint64
	errors      uint64

	backend  string
	onFinish func(Outcome)
	pub      EventPublisher
	log      zerolog.Logger
	newID    func() string
}

// NewController returns an idle controller. backendName labels metrics.
func NewController(backendName string, log zerolog.Logger, pub EventPublisher) *Controller {
	if pub == nil {
		pub = noopPublisher{}
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		state:   StateIdle,
		done:    done,
		backend: backendName,
		pub:     pub,
		log:     log,
		newID:   uuid.NewString,
	}
}

// OnFinish installs a callback run once per generation after its terminal
// transition, outside the controller lock.
func (c *Controller) OnFinish(fn func(Outcome)) {
	c.mu.Lock()
	c.onFinish = fn
	c.mu.Unlock()
}

// Begin moves Idle to Requesting and returns the new generation id. The
// buffer is cleared and filter applies to every later append.
func (c *Controller) Begin(filter *stream.Filter) (string, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		cur := c.id
		c.mu.Unlock()
		busyRejections.Inc()
		c.notice(cur, "Generation already in progress", nil)
		return "", ErrBusy(cur)
	}
	id := c.newID()
	c.state = StateRequesting
	c.id = id
	c.buffer = ""
	c.filter = filter
	c.abort = nil
	c.done = make(chan struct{})
	c.started = time.Now()
	c.generations++
	c.mu.Unlock()

	generating.Set(1)
	c.pub.Publish(Event{Name: EventStarted, GenerationID: id})
	c.log.Debug().Str("generation_id", id).Msg("generation started")
	return id, nil
}

// Seed replaces the buffer of generation id, e.g. with the text being
// continued. The seed goes through the stop filter like any append.
func (c *Controller) Seed(id, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked(id) {
		return false
	}
	c.buffer = c.filter.Apply(text)
	return true
}

// SetAbort binds the abort hook of generation id.
func (c *Controller) SetAbort(id string, hook func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked(id) {
		return false
	}
	c.abort = hook
	return true
}

// Streaming records that the backend accepted the request.
func (c *Controller) Streaming(id string) bool {
	c.mu.Lock()
	if !c.activeLocked(id) {
		c.mu.Unlock()
		return false
	}
	moved := c.state == StateRequesting
	c.state = StateStreaming
	c.mu.Unlock()
	if moved {
		c.pub.Publish(Event{Name: EventStreaming, GenerationID: id})
	}
	return true
}

// Append adds delta to the buffer of generation id and re-applies the stop
// filter to the whole buffer. It reports false when id is no longer current;
// the caller should stop reading.
func (c *Controller) Append(id, delta string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked(id) {
		return false
	}
	c.state = StateStreaming
	c.buffer = c.filter.Apply(c.buffer + delta)
	return true
}

// Finish ends generation id. A nil err completes it; context cancellation
// counts as an abort; anything else is an error. The partial buffer is kept.
func (c *Controller) Finish(id string, err error) (Outcome, bool) {
	st := StateCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		st, err = StateAborted, nil
	default:
		st = StateErrored
	}
	c.mu.Lock()
	if !c.activeLocked(id) {
		c.mu.Unlock()
		return Outcome{}, false
	}
	out, fn, done := c.finishLocked(st, err)
	c.mu.Unlock()
	c.complete(out, nil, fn, done)
	return out, true
}

// Release returns generation id to Idle without an outcome. Used when a start
// is refused after Begin, before anything was sent.
func (c *Controller) Release(id string) {
	c.mu.Lock()
	if !c.activeLocked(id) {
		c.mu.Unlock()
		return
	}
	c.generations--
	c.state = StateIdle
	c.id = ""
	c.abort = nil
	done := c.done
	c.mu.Unlock()
	generating.Set(0)
	close(done)
}

// Abort stops the active generation: state returns to Idle before the hook
// runs, so no append can land after Abort returns. It reports whether a
// generation was active.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return false
	}
	hook := c.abort
	out, fn, done := c.finishLocked(StateAborted, nil)
	c.mu.Unlock()
	c.complete(out, hook, fn, done)
	return true
}

// NowGenerating reports whether a generation is active.
func (c *Controller) NowGenerating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateIdle
}

// Buffer returns the current filtered output.
func (c *Controller) Buffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer
}

// Done returns a channel closed when the current (or last) generation ends.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:       c.state,
		ID:          c.id,
		Buffer:      c.buffer,
		Last:        c.last,
		Generations: c.generations,
		Aborts:      c.aborts,
		Errors:      c.errors,
	}
}

func (c *Controller) activeLocked(id string) bool {
	return id != "" && id == c.id && c.state != StateIdle
}

func (c *Controller) finishLocked(st State, err error) (Outcome, func(Outcome), chan struct{}) {
	out := Outcome{ID: c.id, State: st, Err: err, Text: c.buffer}
	switch st {
	case StateAborted:
		c.aborts++
	case StateErrored:
		c.errors++
	}
	observeFinish(c.backend, st, c.started)
	c.last = out
	c.state = StateIdle
	c.id = ""
	c.abort = nil
	return out, c.onFinish, c.done
}

func (c *Controller) complete(out Outcome, hook func(), fn func(Outcome), done chan struct{}) {
	generating.Set(0)
	if hook != nil {
		hook()
	}
	if fn != nil {
		fn(out)
	}
	close(done)

	ev := Event{GenerationID: out.ID, Fields: map[string]any{"chars": len(out.Text)}}
	switch out.State {
	case StateCompleted:
		ev.Name = EventCompleted
		c.log.Info().Str("generation_id", out.ID).Int("chars", len(out.Text)).Msg("generation completed")
	case StateAborted:
		ev.Name = EventAborted
		c.log.Info().Str("generation_id", out.ID).Msg("generation aborted")
	default:
		ev.Name = EventFailed
		ev.Fields["error"] = out.Err.Error()
		if backend.IsAuth(out.Err) {
			c.notice(out.ID, "Authentication failed, check the API key or model", out.Err)
		} else {
			c.notice(out.ID, "Generation failed, check logs", out.Err)
		}
	}
	c.pub.Publish(ev)
}

// notice logs a user-visible message and mirrors it as an event.
func (c *Controller) notice(id, msg string, err error) {
	l := c.log.Warn()
	if err != nil {
		l = c.log.Error().Err(err)
	}
	l.Bool("notify", true).Str("generation_id", id).Msg(msg)
	fields := map[string]any{"message": msg}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.pub.Publish(Event{Name: EventNotice, GenerationID: id, Fields: fields})
}
