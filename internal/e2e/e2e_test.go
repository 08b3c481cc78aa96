package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"promptline/internal/backend"
	"promptline/pkg/types"
)

func koboldServer(t *testing.T, tokens []string, block chan struct{}, aborts *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/extra/abort":
			if aborts != nil {
				aborts.Add(1)
			}
			w.WriteHeader(http.StatusOK)
			return
		case "/api/extra/generate/stream":
		default:
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range tokens {
			fmt.Fprintf(w, "event: message\ndata: {\"token\":%q}\n\n", tok)
			w.(http.Flusher).Flush()
		}
		if block != nil {
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestE2E_GenerateWaitCommitsReply(t *testing.T) {
	provider := koboldServer(t, []string{"Hello", ", Bob", "### Instruction"}, nil, nil)
	srv, _ := newServer(t, backend.Kobold, provider.URL)

	code, body := post(t, srv.URL+"/generate?wait=1", `{"mode":"send","text":"Hi Ann"}`)
	if code != http.StatusOK {
		t.Fatalf("status=%d body=%s", code, body)
	}
	var buf types.BufferResponse
	if err := json.Unmarshal(body, &buf); err != nil {
		t.Fatalf("json: %v", err)
	}
	if buf.Text != "Hello, Bob" {
		t.Fatalf("buffer=%q", buf.Text)
	}

	var ch types.ChatResponse
	getJSON(t, srv.URL+"/chat", &ch)
	if len(ch.Messages) != 2 {
		t.Fatalf("messages=%d", len(ch.Messages))
	}
	if !ch.Messages[0].IsUser || ch.Messages[0].Active().Text != "Hi Ann" {
		t.Fatalf("user turn: %+v", ch.Messages[0])
	}
	if ch.Messages[1].Active().Text != "Hello, Bob" {
		t.Fatalf("reply: %+v", ch.Messages[1])
	}

	var st types.StatusResponse
	getJSON(t, srv.URL+"/status", &st)
	if st.State != "idle" || st.LastOutcome != "completed" || st.GenerationsTotal != 1 {
		t.Fatalf("status: %+v", st)
	}
}

func TestE2E_BusyThenAbortKeepsPartial(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	var aborts atomic.Int32
	provider := koboldServer(t, []string{"Par"}, block, &aborts)
	srv, _ := newServer(t, backend.Kobold, provider.URL)

	code, body := post(t, srv.URL+"/generate", `{"text":"Hi"}`)
	if code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", code, body)
	}
	waitStatus(t, srv.URL, func(st types.StatusResponse) bool { return st.State == "streaming" && st.BufferLen == 3 })

	if code, _ := post(t, srv.URL+"/generate", `{"text":"again"}`); code != http.StatusConflict {
		t.Fatalf("second generate status=%d", code)
	}

	code, body = post(t, srv.URL+"/abort", "")
	if code != http.StatusOK || !strings.Contains(string(body), `"aborted":true`) {
		t.Fatalf("abort: %d %s", code, body)
	}
	st := waitStatus(t, srv.URL, func(st types.StatusResponse) bool { return st.State == "idle" })
	if st.LastOutcome != "aborted" || st.AbortsTotal != 1 {
		t.Fatalf("status: %+v", st)
	}
	if aborts.Load() != 1 {
		t.Fatalf("provider abort calls=%d", aborts.Load())
	}

	var ch types.ChatResponse
	getJSON(t, srv.URL+"/chat", &ch)
	if got := ch.Messages[len(ch.Messages)-1].Active().Text; got != "Par" {
		t.Fatalf("partial reply=%q", got)
	}

	var ready = func() int {
		resp, err := http.Get(srv.URL + "/readyz")
		if err != nil {
			t.Fatalf("readyz: %v", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode
	}
	if ready() != http.StatusOK {
		t.Fatal("service should be ready after abort")
	}
}

func TestE2E_OpenAIChatPayload(t *testing.T) {
	var got struct {
		Model    string            `json:"model"`
		Stream   bool              `json:"stream"`
		Messages []types.ChatEntry `json:"messages"`
	}
	var auth string
	var mu sync.Mutex
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hi", " Bob"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer provider.Close()
	srv, _ := newServer(t, backend.OpenAI, provider.URL)

	code, body := post(t, srv.URL+"/generate?wait=1", `{"text":"Hello"}`)
	if code != http.StatusOK {
		t.Fatalf("status=%d body=%s", code, body)
	}
	if !strings.Contains(string(body), "Hi Bob") {
		t.Fatalf("body=%s", body)
	}
	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer test-key" {
		t.Fatalf("authorization=%q", auth)
	}
	if got.Model != "m" || !got.Stream {
		t.Fatalf("payload: %+v", got)
	}
	if len(got.Messages) < 2 || got.Messages[0].Role != types.RoleSystem {
		t.Fatalf("messages: %+v", got.Messages)
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Role != types.RoleUser || !strings.Contains(last.Content, "Hello") {
		t.Fatalf("last message: %+v", last)
	}

	var ctx types.ContextResponse
	getJSON(t, srv.URL+"/context", &ctx)
	if ctx.Mode != "chat" || ctx.Included == 0 {
		t.Fatalf("context: %+v", ctx)
	}
}

func TestE2E_ProviderErrorMapsToBadGateway(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer provider.Close()
	srv, _ := newServer(t, backend.Kobold, provider.URL)

	code, body := post(t, srv.URL+"/generate?wait=1", `{"text":"Hi"}`)
	if code != http.StatusBadGateway {
		t.Fatalf("status=%d body=%s", code, body)
	}
	var st types.StatusResponse
	getJSON(t, srv.URL+"/status", &st)
	if st.LastOutcome != "errored" || st.ErrorsTotal != 1 {
		t.Fatalf("status: %+v", st)
	}
}

func TestE2E_AbortedRegenerateRestores(t *testing.T) {
	var calls atomic.Int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/extra/abort" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		if calls.Add(1) == 1 {
			fmt.Fprint(w, "data: {\"token\":\"First reply.\"}\n\n")
			return
		}
		fmt.Fprint(w, "data: {\"token\":\"par\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer provider.Close()
	srv, _ := newServer(t, backend.Kobold, provider.URL)

	if code, body := post(t, srv.URL+"/generate?wait=1", `{"text":"Hi"}`); code != http.StatusOK {
		t.Fatalf("send: %d %s", code, body)
	}
	if code, body := post(t, srv.URL+"/generate", `{"mode":"regenerate"}`); code != http.StatusAccepted {
		t.Fatalf("regenerate: %d %s", code, body)
	}
	waitStatus(t, srv.URL, func(st types.StatusResponse) bool { return st.State == "streaming" && st.BufferLen == 3 })
	post(t, srv.URL+"/abort", "")
	waitStatus(t, srv.URL, func(st types.StatusResponse) bool { return st.State == "idle" })

	var ch types.ChatResponse
	getJSON(t, srv.URL+"/chat", &ch)
	last := ch.Messages[len(ch.Messages)-1].Active()
	if last.Text != "par" || last.RegenCache != "First reply." {
		t.Fatalf("after abort: %+v", last)
	}

	code, body := post(t, srv.URL+"/restore", "")
	if code != http.StatusOK || !strings.Contains(string(body), `"restored":true`) {
		t.Fatalf("restore: %d %s", code, body)
	}
	getJSON(t, srv.URL+"/chat", &ch)
	if got := ch.Messages[len(ch.Messages)-1].Active().Text; got != "First reply." {
		t.Fatalf("restored reply=%q", got)
	}
}
