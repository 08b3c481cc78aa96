package testctl

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptline/internal/backend"
)

func collect(t *testing.T, kind backend.Kind, m *MockProvider) string {
	t.Helper()
	ts := httptest.NewServer(m.Handler())
	defer ts.Close()
	c, err := backend.New(backend.Options{Kind: kind, BaseURL: ts.URL, Log: zerolog.Nop()})
	require.NoError(t, err)
	st, err := c.Open(context.Background(), map[string]any{"prompt": "hi"})
	require.NoError(t, err)
	defer st.Close()
	var sb strings.Builder
	for d, err := range st.Deltas() {
		require.NoError(t, err)
		sb.WriteString(d)
	}
	return sb.String()
}

func TestMockProviderKobold(t *testing.T) {
	got := collect(t, backend.Kobold, &MockProvider{Flavor: MockKobold, Tokens: []string{"Hi", " there"}})
	assert.Equal(t, "Hi there", got)
}

func TestMockProviderOpenAIDefaultReply(t *testing.T) {
	got := collect(t, backend.OpenAI, &MockProvider{Flavor: MockOpenAI})
	assert.Equal(t, strings.Join(MockReply, ""), got)
}

func TestMockProviderKoboldAbort(t *testing.T) {
	m := &MockProvider{Flavor: MockKobold, Delay: 20 * time.Millisecond, Tokens: []string{"a", "b", "c", "d", "e", "f", "g", "h"}}
	ts := httptest.NewServer(m.Handler())
	defer ts.Close()
	c, err := backend.New(backend.Options{Kind: backend.Kobold, BaseURL: ts.URL, Log: zerolog.Nop()})
	require.NoError(t, err)
	st, err := c.Open(context.Background(), map[string]any{})
	require.NoError(t, err)
	defer st.Close()

	var got string
	for d, err := range st.Deltas() {
		if err != nil {
			break
		}
		got += d
		if got == "a" {
			st.Abort()
		}
	}
	assert.EqualValues(t, 1, m.Aborts())
	assert.Less(t, len(got), 8)
}

func TestParseMockFlavor(t *testing.T) {
	f, err := ParseMockFlavor("Kobold")
	require.NoError(t, err)
	assert.Equal(t, MockKobold, f)
	_, err = ParseMockFlavor("horde")
	assert.Error(t, err)
}

func TestChooseFreePortAndWaitHTTP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port
	assert.True(t, isPortBusy(busy))
	p, err := chooseFreePort(busy)
	require.NoError(t, err)
	assert.NotEqual(t, busy, p)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer ts.Close()
	assert.NoError(t, waitHTTP(ts.URL, 2*time.Second))
}

func TestServeMockStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveMock(ctx, &MockProvider{Flavor: MockOpenAI}, 0) }()
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveMock did not stop")
	}
}
