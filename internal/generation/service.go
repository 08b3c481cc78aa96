package generation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"promptline/internal/backend"
	"promptline/internal/chat"
	"promptline/internal/prompt"
	"promptline/internal/stream"
	"promptline/pkg/types"
)

// Mode selects how a generation uses the conversation.
type Mode string

const (
	// ModeSend appends an optional user turn and an empty assistant placeholder.
	ModeSend Mode = "send"
	// ModeRegenerate replaces the last assistant reply.
	ModeRegenerate Mode = "regenerate"
	// ModeContinue extends the last assistant reply.
	ModeContinue Mode = "continue"
)

// ParseMode maps the control API's mode string. Empty means send when text
// is given and regenerate otherwise.
func ParseMode(s, text string) (Mode, error) {
	switch Mode(s) {
	case ModeSend, ModeRegenerate, ModeContinue:
		return Mode(s), nil
	case "":
		if text != "" {
			return ModeSend, nil
		}
		return ModeRegenerate, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Backend is the provider surface the service drives.
type Backend interface {
	Kind() backend.Kind
	Model() string
	HordeModels() []string
	Target(ctx context.Context) (backend.Target, error)
	Open(ctx context.Context, payload any) (backend.Stream, error)
}

// Options configure a Service.
type Options struct {
	Backend      Backend
	Conversation *chat.Conversation
	Assembler    *prompt.Assembler
	Preset       types.Preset
	// FirstMessage seeds chat requests with the character's greeting.
	FirstMessage bool
	Prefill      string
	Threads      int
	Log          zerolog.Logger
	Publisher    EventPublisher
	// BaseContext bounds every generation; canceling it aborts them.
	BaseContext context.Context
}

// Service wires the conversation, the context assembler and the backend.
type Service struct {
	opts    Options
	conv    *chat.Conversation
	asm     *prompt.Assembler
	be      Backend
	ctrl    *Controller
	log     zerolog.Logger
	started time.Time
	// startMu serializes conversation setup in Start with commit.
	startMu sync.Mutex
	// modes remembers the mode of each running generation for commit.
	modes atomicMap
	// watchers receive the outcome of generations started with StartWatch.
	// Guarded by startMu.
	watchers map[string]chan Outcome

	presetMu sync.RWMutex
	preset   types.Preset
}

// NewService builds a Service with an idle controller.
func NewService(o Options) *Service {
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	if o.Publisher == nil {
		o.Publisher = noopPublisher{}
	}
	log := o.Log.With().Str("backend", string(o.Backend.Kind())).Logger()
	s := &Service{
		opts:    o,
		conv:    o.Conversation,
		asm:     o.Assembler,
		be:      o.Backend,
		ctrl:    NewController(string(o.Backend.Kind()), log, o.Publisher),
		log:     log,
		started: time.Now(),
		preset:  o.Preset,

		watchers: make(map[string]chan Outcome),
	}
	s.ctrl.OnFinish(s.commit)
	return s
}

// Controller exposes the state machine (abort, buffer, status).
func (s *Service) Controller() *Controller { return s.ctrl }

// Conversation returns the conversation the service writes into.
func (s *Service) Conversation() *chat.Conversation { return s.conv }

func (s *Service) filter() *stream.Filter {
	f := s.conv.Instruct()
	return stream.NewFilter(backend.StopSequences(f), backend.Labels(f, s.conv.User().Name, s.conv.Character().Name)...)
}

// Start begins a generation in the given mode and returns its id without
// waiting for it. A start while another generation runs fails with ErrBusy
// and leaves the conversation untouched.
func (s *Service) Start(mode Mode, text string) (string, error) {
	return s.start(mode, text, nil)
}

// StartWatch is Start plus a channel that receives this generation's outcome
// once it has been committed to the conversation.
func (s *Service) StartWatch(mode Mode, text string) (string, <-chan Outcome, error) {
	ch := make(chan Outcome, 1)
	id, err := s.start(mode, text, ch)
	if err != nil {
		return "", nil, err
	}
	return id, ch, nil
}

func (s *Service) start(mode Mode, text string, watch chan Outcome) (string, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	id, err := s.ctrl.Begin(s.filter())
	if err != nil {
		return "", err
	}
	switch mode {
	case ModeSend:
		s.log.Info().Msg("send")
		if text != "" {
			s.conv.AppendUser(text)
		}
		s.conv.AppendPlaceholder()
	case ModeRegenerate:
		s.log.Info().Msg("regenerate response")
		s.conv.BeginRegenerate()
	case ModeContinue:
		s.log.Info().Msg("continuing response")
		seed, err := s.conv.BeginContinue()
		if err != nil {
			s.ctrl.Release(id)
			return "", err
		}
		s.ctrl.Seed(id, seed)
	default:
		s.ctrl.Release(id)
		return "", fmt.Errorf("unknown mode %q", mode)
	}
	s.modes.Store(id, mode)
	if watch != nil {
		s.watchers[id] = watch
	}
	go s.run(id)
	return id, nil
}

// Send appends text as a user turn and generates a reply.
func (s *Service) Send(text string) (string, error) { return s.Start(ModeSend, text) }

// Regenerate replaces the last reply.
func (s *Service) Regenerate() (string, error) { return s.Start(ModeRegenerate, "") }

// Continue extends the last reply.
func (s *Service) Continue() (string, error) { return s.Start(ModeContinue, "") }

// Preset returns the sampling preset used by the next generation.
func (s *Service) Preset() types.Preset {
	s.presetMu.RLock()
	defer s.presetMu.RUnlock()
	return s.preset
}

// SetPreset replaces the preset. A running generation keeps the one it started with.
func (s *Service) SetPreset(p types.Preset) {
	s.presetMu.Lock()
	s.preset = p
	s.presetMu.Unlock()
}

// Abort stops the active generation, if any.
func (s *Service) Abort() bool { return s.ctrl.Abort() }

// Wait blocks until the current generation ends or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	select {
	case <-s.ctrl.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the controller state for GET /status.
func (s *Service) Status() types.StatusResponse {
	snap := s.ctrl.Snapshot()
	st := types.StatusResponse{
		Backend:          string(s.be.Kind()),
		State:            string(snap.State),
		NowGenerating:    snap.State != StateIdle,
		GenerationID:     snap.ID,
		LastOutcome:      string(snap.Last.State),
		BufferLen:        len(snap.Buffer),
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		ServerTimeUnix:   time.Now().Unix(),
		GenerationsTotal: snap.Generations,
		AbortsTotal:      snap.Aborts,
		ErrorsTotal:      snap.Errors,
	}
	if snap.Last.Err != nil {
		st.LastError = snap.Last.Err.Error()
	}
	return st
}

// Buffer reports the in-progress (or last) output.
func (s *Service) Buffer() types.BufferResponse {
	snap := s.ctrl.Snapshot()
	if snap.State == StateIdle {
		return types.BufferResponse{GenerationID: snap.Last.ID, Status: string(StateIdle), Text: snap.Buffer}
	}
	return types.BufferResponse{GenerationID: snap.ID, Status: string(snap.State), Text: snap.Buffer}
}

// Chat returns the conversation for GET /chat.
func (s *Service) Chat() types.ChatResponse {
	snap := s.conv.Snapshot()
	return types.ChatResponse{Character: snap.Character.Name, User: snap.User.Name, Messages: snap.Messages}
}

// Ready reports whether a generation can be started right now.
func (s *Service) Ready() bool { return !s.ctrl.NowGenerating() }

// Context assembles the context the next generation would send, using the
// preset's limits (no provider discovery).
func (s *Service) Context() types.ContextResponse {
	snap := s.conv.Snapshot()
	in := s.input(snap)
	budget := s.Preset().MaxLength
	if s.be.Kind().Chat() {
		res := s.asm.BuildChat(in, budget, s.chatOptions(snap))
		return types.ContextResponse{Mode: "chat", Messages: res.Messages, Tokens: res.Tokens, Included: res.Included}
	}
	res := s.asm.BuildText(in, budget)
	return types.ContextResponse{Mode: "text", Text: res.Text, Tokens: res.Tokens, Included: res.Included}
}

func (s *Service) input(snap chat.Snapshot) prompt.Input {
	return prompt.Input{
		Character:  snap.Character,
		User:       snap.User,
		Instruct:   snap.Instruct,
		Messages:   snap.Messages,
		TokenCount: snap.TokenCount,
		Buffer:     s.ctrl.Buffer(),
	}
}

func (s *Service) chatOptions(snap chat.Snapshot) prompt.ChatOptions {
	return prompt.ChatOptions{
		FirstMessage:    snap.Character.FirstMessage,
		UseFirstMessage: s.opts.FirstMessage,
		Prefill:         s.opts.Prefill,
	}
}

// run drives one generation to a terminal state. It always finishes the
// controller, including on panic.
func (s *Service) run(id string) {
	ctx, cancel := context.WithCancel(s.opts.BaseContext)
	defer cancel()
	var current atomic.Pointer[backend.Stream]
	if !s.ctrl.SetAbort(id, func() {
		cancel()
		if st := current.Load(); st != nil {
			(*st).Abort()
		}
	}) {
		// aborted before it started
		return
	}

	var err error
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("generation_id", id).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("generation panicked")
			err = fmt.Errorf("panic: %v", r)
		}
		s.ctrl.Finish(id, err)
	}()
	err = s.generate(ctx, id, &current)
}

func (s *Service) generate(ctx context.Context, id string, current *atomic.Pointer[backend.Stream]) error {
	kind := s.be.Kind()
	target, err := s.be.Target(ctx)
	if err != nil {
		return err
	}
	preset := s.Preset()
	limits, err := backend.ComputeLimits(kind, preset, target)
	if err != nil {
		return err
	}
	if kind == backend.Horde {
		s.log.Info().Int("max_context", limits.Context).Int("max_length", limits.Generation).Strs("models", s.be.HordeModels()).Msg("horde limits")
	}

	snap := s.conv.Snapshot()
	in := s.input(snap)
	req := backend.Request{
		Preset:      preset,
		Instruct:    snap.Instruct,
		Limits:      limits,
		Seed:        backend.Seed(preset.Seed, nil),
		Model:       s.be.Model(),
		HordeModels: s.be.HordeModels(),
		Threads:     s.opts.Threads,
	}
	if kind.Chat() {
		res := s.asm.BuildChat(in, limits.Context, s.chatOptions(snap))
		req.Messages = res.Messages
		contextTokens.WithLabelValues(string(kind)).Observe(float64(res.Tokens))
	} else {
		res := s.asm.BuildText(in, limits.Context)
		req.Prompt = res.Text
		contextTokens.WithLabelValues(string(kind)).Observe(float64(res.Tokens))
	}
	payload, err := backend.Payload(kind, req)
	if err != nil {
		return err
	}

	st, err := s.be.Open(ctx, payload)
	if err != nil {
		return err
	}
	defer st.Close()
	current.Store(&st)
	if !s.ctrl.Streaming(id) {
		// aborted while the request was in flight
		st.Abort()
		return context.Canceled
	}
	for delta, err := range st.Deltas() {
		if err != nil {
			return err
		}
		if !s.ctrl.Append(id, delta) {
			return context.Canceled
		}
	}
	return nil
}

// commit writes the terminal buffer back into the conversation. It waits for
// Start so an early abort never lands on the message before the placeholder.
func (s *Service) commit(out Outcome) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	defer s.notifyLocked(out)
	mode, _ := s.modes.LoadAndDelete(out.ID)
	if out.State != StateCompleted && out.Text == "" && (mode == ModeRegenerate || mode == ModeContinue) {
		if s.conv.RestoreRegen() {
			s.log.Debug().Str("generation_id", out.ID).Msg("restored previous reply")
			return
		}
	}
	s.conv.SetLastText(out.Text)
	// a partial reply keeps the previous one restorable
	if out.State == StateCompleted {
		s.conv.ClearRegen()
	}
}

func (s *Service) notifyLocked(out Outcome) {
	if ch, ok := s.watchers[out.ID]; ok {
		delete(s.watchers, out.ID)
		ch <- out
	}
}

// RestoreRegen puts back the reply that the last interrupted regenerate or
// continue replaced. It fails with ErrBusy while a generation runs.
func (s *Service) RestoreRegen() (bool, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if snap := s.ctrl.Snapshot(); snap.State != StateIdle {
		return false, ErrBusy(snap.ID)
	}
	return s.conv.RestoreRegen(), nil
}
