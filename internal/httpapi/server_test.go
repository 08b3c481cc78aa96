package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"promptline/internal/backend"
	"promptline/internal/chat"
	"promptline/internal/generation"
	"promptline/pkg/types"
)

type mockService struct {
	startErr   error
	gotMode    generation.Mode
	gotText    string
	aborted    bool
	ready      bool
	status     types.StatusResponse
	buffer     types.BufferResponse
	logs       []string
	outcome    *generation.Outcome
	watches    int
	restored   bool
	restoreErr error
}

func (m *mockService) Start(mode generation.Mode, text string) (string, error) {
	m.gotMode, m.gotText = mode, text
	if m.startErr != nil {
		return "", m.startErr
	}
	return "gen-1", nil
}

// StartWatch delivers m.outcome; a nil outcome never finishes.
func (m *mockService) StartWatch(mode generation.Mode, text string) (string, <-chan generation.Outcome, error) {
	m.watches++
	id, err := m.Start(mode, text)
	if err != nil {
		return "", nil, err
	}
	ch := make(chan generation.Outcome, 1)
	if m.outcome != nil {
		ch <- *m.outcome
	}
	return id, ch, nil
}
func (m *mockService) Abort() bool                { return m.aborted }
func (m *mockService) RestoreRegen() (bool, error) { return m.restored, m.restoreErr }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Buffer() types.BufferResponse { return m.buffer }
func (m *mockService) Logs() []string { return m.logs }
func (m *mockService) Ready() bool { return m.ready }
func (m *mockService) Context() types.ContextResponse { return types.ContextResponse{Mode: "text", Text: "ctx", Tokens: 1} }
func (m *mockService) Chat() types.ChatResponse {
	return types.ChatResponse{Character: "Ann", User: "Bob"}
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGenerateAccepted(t *testing.T) {
	svc := &mockService{}
	w := postJSON(NewMux(svc), "/generate", `{"mode":"send","text":"Hi"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body types.GenerateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.GenerationID != "gen-1" || body.Status != "requesting" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if svc.gotMode != generation.ModeSend || svc.gotText != "Hi" {
		t.Fatalf("service got mode=%q text=%q", svc.gotMode, svc.gotText)
	}
	if svc.watches != 0 {
		t.Fatal("should not wait without ?wait")
	}
}

func TestGenerateEmptyBodyRegenerates(t *testing.T) {
	svc := &mockService{}
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.gotMode != generation.ModeRegenerate {
		t.Fatalf("mode=%q", svc.gotMode)
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	h := NewMux(&mockService{})
	if w := postJSON(h, "/generate", `{"mode":"bogus"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown mode status=%d", w.Code)
	}
	if w := postJSON(h, "/generate", `{`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("content-type status=%d", w.Code)
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"busy", generation.ErrBusy("gen-0"), http.StatusConflict},
		{"config", backend.ErrConfiguration(backend.Horde, "no workers"), http.StatusUnprocessableEntity},
		{"auth", backend.ErrAuth(backend.Mancer, 401, "bad key"), http.StatusUnauthorized},
		{"transport", &backend.TransportError{Backend: backend.Kobold, Op: "generate", Status: 500}, http.StatusBadGateway},
		{"continue", chat.ErrNothingToContinue, http.StatusUnprocessableEntity},
		{"http", mockHTTPError{"teapot", http.StatusTeapot}, http.StatusTeapot},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		w := postJSON(NewMux(&mockService{startErr: c.err}), "/generate", `{"text":"x"}`)
		if w.Code != c.want {
			t.Fatalf("%s: status=%d want %d", c.name, w.Code, c.want)
		}
		var body types.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: json: %v", c.name, err)
		}
		if body.Code != c.want || body.Error == "" {
			t.Fatalf("%s: unexpected body %+v", c.name, body)
		}
	}
}

func TestGenerateWait(t *testing.T) {
	// the live buffer already belongs to a newer generation
	svc := &mockService{
		buffer:  types.BufferResponse{GenerationID: "gen-2", Status: "streaming", Text: "other"},
		outcome: &generation.Outcome{ID: "gen-1", State: generation.StateCompleted, Text: "Hello"},
	}
	w := postJSON(NewMux(svc), "/generate?wait=1", `{"text":"Hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if svc.watches != 1 {
		t.Fatalf("watches=%d", svc.watches)
	}
	var body types.BufferResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.GenerationID != "gen-1" || body.Text != "Hello" || body.Status != "completed" {
		t.Fatalf("unexpected body: %+v", body)
	}

	w = postJSON(NewMux(svc), "/generate", `{"text":"Hi"}`)
	if w.Code != http.StatusAccepted || svc.watches != 1 {
		t.Fatalf("status=%d watches=%d", w.Code, svc.watches)
	}
}

func TestGenerateWaitErrorStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"transport", &backend.TransportError{Backend: backend.Kobold, Op: "read stream", Err: errors.New("upstream down")}, http.StatusBadGateway},
		{"auth", backend.ErrAuth(backend.OpenAI, 401, "bad key"), http.StatusUnauthorized},
		{"other", errors.New("panic: boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		svc := &mockService{outcome: &generation.Outcome{ID: "gen-1", State: generation.StateErrored, Err: c.err, Text: "half"}}
		w := postJSON(NewMux(svc), "/generate?wait=true", `{"text":"Hi"}`)
		if w.Code != c.want || !strings.Contains(w.Body.String(), c.err.Error()) {
			t.Fatalf("%s: status=%d body=%s", c.name, w.Code, w.Body.String())
		}
	}
}

func TestGenerateWaitTimeout(t *testing.T) {
	SetWaitTimeoutSeconds(1)
	defer SetWaitTimeoutSeconds(0)
	w := postJSON(NewMux(&mockService{}), "/generate?wait=1", `{"text":"Hi"}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestRestore(t *testing.T) {
	w := postJSON(NewMux(&mockService{restored: true}), "/restore", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"restored":true`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	w = postJSON(NewMux(&mockService{restoreErr: generation.ErrBusy("gen-1")}), "/restore", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestAbortStatusBufferChatContextLogs(t *testing.T) {
	svc := &mockService{
		aborted: true,
		status:  types.StatusResponse{Backend: "kobold", State: "streaming", NowGenerating: true},
		buffer:  types.BufferResponse{GenerationID: "g", Status: "streaming", Text: "par"},
		logs:    []string{"a", "b", "c"},
	}
	h := NewMux(svc)

	w := postJSON(h, "/abort", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"aborted":true`) {
		t.Fatalf("abort: %d %s", w.Code, w.Body.String())
	}

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
			t.Fatalf("%s content-type=%s", path, ct)
		}
		return w
	}

	var st types.StatusResponse
	_ = json.Unmarshal(get("/status").Body.Bytes(), &st)
	if st.Backend != "kobold" || !st.NowGenerating {
		t.Fatalf("status: %+v", st)
	}
	var buf types.BufferResponse
	_ = json.Unmarshal(get("/buffer").Body.Bytes(), &buf)
	if buf.Text != "par" {
		t.Fatalf("buffer: %+v", buf)
	}
	var ch types.ChatResponse
	_ = json.Unmarshal(get("/chat").Body.Bytes(), &ch)
	if ch.Character != "Ann" {
		t.Fatalf("chat: %+v", ch)
	}
	var cx types.ContextResponse
	_ = json.Unmarshal(get("/context").Body.Bytes(), &cx)
	if cx.Text != "ctx" {
		t.Fatalf("context: %+v", cx)
	}
	var logs types.LogsResponse
	_ = json.Unmarshal(get("/logs?tail=2").Body.Bytes(), &logs)
	if len(logs.Lines) != 2 || logs.Lines[0] != "b" {
		t.Fatalf("logs: %+v", logs)
	}
}

func TestLogsEmptyIsArray(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/logs", nil))
	if !strings.Contains(w.Body.String(), `"lines":[]`) {
		t.Fatalf("body=%s", w.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{ready: true}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	w = httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "generating") {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestHealthzAndSecurityHeader(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff header")
	}
}

func TestCORSPreflight(t *testing.T) {
	SetCORSOptions(true, []string{"http://example.com"}, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("allow-origin=%q", got)
	}
}
