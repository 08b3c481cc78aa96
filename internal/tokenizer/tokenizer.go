// Package tokenizer defines the token counting capability consumed by the
// context assembler, plus two implementations: a deterministic estimator and a
// KoboldCpp-backed remote counter.
package tokenizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Counter measures token lengths. Implementations must be deterministic for
// identical input.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// Estimate approximates one token per four runes, rounded up.
type Estimate struct{}

func (Estimate) Count(text string) int {
	if text == "" {
		return 0
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// maxRemoteMemo bounds the remote counter's memo table.
const maxRemoteMemo = 4096

// Remote asks a KoboldCpp server for exact counts via /api/extra/tokencount.
// The first failed request switches the counter to Fallback for the rest of
// its life, and every returned count is memoized, so a given text always
// measures the same.
type Remote struct {
	BaseURL  string
	Client   *http.Client
	Timeout  time.Duration
	Fallback Counter
	Log      zerolog.Logger

	mu   sync.Mutex
	memo map[string]int
	down bool
}

// NewRemote constructs a Remote counter with a 5s per-call timeout.
func NewRemote(baseURL string, log zerolog.Logger) *Remote {
	return &Remote{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Client:   &http.Client{},
		Timeout:  5 * time.Second,
		Fallback: Estimate{},
		Log:      log,
		memo:     make(map[string]int),
	}
}

func (r *Remote) Count(text string) int {
	if text == "" {
		return 0
	}
	r.mu.Lock()
	if n, ok := r.memo[text]; ok {
		r.mu.Unlock()
		return n
	}
	down := r.down
	r.mu.Unlock()

	var n int
	if down {
		n = r.fallback().Count(text)
	} else {
		var err error
		if n, err = r.count(text); err != nil {
			r.Log.Warn().Err(err).Msg("remote token count failed, using estimate from now on")
			n = r.fallback().Count(text)
			down = true
		}
	}
	r.mu.Lock()
	if down {
		r.down = true
	}
	if r.memo == nil || len(r.memo) >= maxRemoteMemo {
		r.memo = make(map[string]int)
	}
	r.memo[text] = n
	r.mu.Unlock()
	return n
}

func (r *Remote) fallback() Counter {
	if r.Fallback == nil {
		return Estimate{}
	}
	return r.Fallback
}

func (r *Remote) count(text string) (int, error) {
	ctx := context.Background()
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	body, _ := json.Marshal(map[string]string{"prompt": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/api/extra/tokencount", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	cli := r.Client
	if cli == nil {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tokencount http %s", resp.Status)
	}
	var out struct {
		Value int `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("tokencount decode: %w", err)
	}
	return out.Value, nil
}
