package testctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// MockFlavor selects which provider wire format the mock speaks.
type MockFlavor string

const (
	MockKobold MockFlavor = "kobold"
	MockOpenAI MockFlavor = "openai"
)

// MockReply is what the mock streams when no reply is configured.
var MockReply = []string{"Hello", " from", " the", " mock", " provider."}

// MockProvider is a fake streaming provider for manual runs against promptline.
type MockProvider struct {
	Flavor MockFlavor
	Tokens []string
	// Delay is the pause between tokens.
	Delay time.Duration

	aborts atomic.Int64
	cancel atomic.Pointer[context.CancelFunc]
}

// Aborts reports how many server-side abort calls were received.
func (m *MockProvider) Aborts() int64 { return m.aborts.Load() }

// Handler returns the provider routes for the configured flavor.
func (m *MockProvider) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	switch m.Flavor {
	case MockKobold:
		r.Post("/api/extra/generate/stream", m.stream(func(tok string) any { return map[string]string{"token": tok} }, false))
		r.Post("/api/extra/abort", func(w http.ResponseWriter, _ *http.Request) {
			m.aborts.Add(1)
			if c := m.cancel.Load(); c != nil {
				(*c)()
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true}`))
		})
		r.Get("/api/v1/model", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"result":"mock/model"}`))
		})
	default:
		r.Post("/chat/completions", m.stream(func(tok string) any {
			return map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": tok}}}}
		}, true))
		r.Post("/v1/completions", m.stream(func(tok string) any {
			return map[string]any{"choices": []any{map[string]any{"text": tok}}}
		}, true))
	}
	return r
}

func (m *MockProvider) stream(chunk func(string) any, done bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fl, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		m.cancel.Store(&cancel)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		fl.Flush()

		toks := m.Tokens
		if len(toks) == 0 {
			toks = MockReply
		}
		for _, tok := range toks {
			if m.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.Delay):
				}
			}
			if ctx.Err() != nil {
				return
			}
			b, _ := json.Marshal(chunk(tok))
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", b)
			fl.Flush()
		}
		if done {
			fmt.Fprint(w, "data: [DONE]\n\n")
			fl.Flush()
		}
	}
}

// ParseMockFlavor validates the flavor argument of `testctl mock`.
func ParseMockFlavor(s string) (MockFlavor, error) {
	switch MockFlavor(strings.ToLower(s)) {
	case MockKobold:
		return MockKobold, nil
	case MockOpenAI:
		return MockOpenAI, nil
	}
	return "", fmt.Errorf("unknown mock flavor %q (want kobold|openai)", s)
}

// serveMock runs a mock provider until ctx is done.
func serveMock(ctx context.Context, m *MockProvider, port int) error {
	port, err := chooseFreePort(port)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	base := "http://" + addr
	if err := waitHTTP(base+"/healthz", 5*time.Second); err != nil {
		_ = srv.Close()
		return err
	}
	info("[mock] %s provider listening on %s", m.Flavor, base)
	switch m.Flavor {
	case MockKobold:
		info("[mock] try: promptline serve --backend kobold (PROMPTLINE_KOBOLD_URL=%s)", base)
	default:
		info("[mock] try: promptline serve --backend openai with endpoints.openai = %q in the config file", base)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
