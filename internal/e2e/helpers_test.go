package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"promptline/internal/backend"
	"promptline/internal/chat"
	"promptline/internal/generation"
	"promptline/internal/httpapi"
	"promptline/internal/prompt"
	"promptline/internal/tokencache"
	"promptline/internal/tokenizer"
	"promptline/pkg/types"
)

// api adapts the generation service to the HTTP layer without a log ring.
type api struct{ *generation.Service }

func (api) Logs() []string { return nil }

func conversation() *chat.Conversation {
	ann := types.Card{ID: "ann", Name: "Ann", Description: "Ann is kind."}
	bob := types.Card{ID: "bob", Name: "Bob"}
	f := types.DefaultInstruct()
	return chat.New(ann, bob, f, nil, tokenizer.Estimate{})
}

// newServer wires a real backend client for kind at providerURL behind the control API.
func newServer(t *testing.T, kind backend.Kind, providerURL string) (*httptest.Server, *generation.Service) {
	t.Helper()
	client, err := backend.New(backend.Options{Kind: kind, BaseURL: providerURL, APIKey: "test-key", Model: "m"})
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	counter := tokenizer.Estimate{}
	svc := generation.NewService(generation.Options{
		Backend:      client,
		Conversation: conversation(),
		Assembler:    prompt.New(counter, tokencache.New(counter), zerolog.Nop()),
		Preset:       types.DefaultPreset(),
		Log:          zerolog.Nop(),
	})
	srv := httptest.NewServer(httpapi.NewMux(api{svc}))
	t.Cleanup(srv.Close)
	return srv, svc
}

func post(t *testing.T, url, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

// waitStatus polls /status until ok accepts it.
func waitStatus(t *testing.T, base string, ok func(types.StatusResponse) bool) types.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		var st types.StatusResponse
		getJSON(t, base+"/status", &st)
		if ok(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never reached expected state: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
