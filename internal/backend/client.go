package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"promptline/internal/llm"
)

// Default endpoints per provider. Self-hosted servers use their stock ports.
const (
	DefaultKoboldURL      = "http://localhost:5001"
	DefaultTextGenURL     = "http://localhost:5000"
	DefaultCompletionsURL = "http://localhost:8000"
	DefaultHordeURL       = "https://aihorde.net"
	DefaultMancerURL      = "https://neuro.mancer.tech/oai/v1"
	DefaultOpenRouterURL  = "https://openrouter.ai/api/v1"
	DefaultOpenAIURL      = "https://api.openai.com/v1"
)

// DefaultClientAgent identifies this client to AI Horde (name:version:contact).
const DefaultClientAgent = "promptline:dev:anonymous"

// abortTimeout bounds best-effort server-side cancel calls.
const abortTimeout = time.Second

// DefaultPollInterval is the Horde status poll period.
const DefaultPollInterval = 5 * time.Second

// Options configure a Client.
type Options struct {
	Kind    Kind
	BaseURL string
	APIKey  string
	// Model is the remote model id for completions, mancer, openrouter and openai.
	Model       string
	HordeModels []string
	// PollInterval is the Horde status poll period.
	PollInterval time.Duration
	ClientAgent  string
	// HTTPClient performs generation requests. It should carry no timeout;
	// generations end by completion or abort.
	HTTPClient *http.Client
	// Runtime serves the local backend.
	Runtime llm.Runtime
	Log     zerolog.Logger
}

// Client talks to one configured provider.
type Client struct {
	opts  Options
	http  *http.Client
	abort *http.Client
	log   zerolog.Logger
}

// Stream is one in-flight generation.
type Stream interface {
	// Deltas yields text increments in arrival order. A non-nil error ends the
	// sequence.
	Deltas() iter.Seq2[string, error]
	// Abort fires the provider's best-effort server-side cancel. It never
	// blocks longer than the abort timeout and only logs failures.
	Abort()
	Close() error
}

// New validates o and fills provider defaults.
func New(o Options) (*Client, error) {
	if err := o.Kind.Validate(); err != nil {
		return nil, err
	}
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL(o.Kind)
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ClientAgent == "" {
		o.ClientAgent = DefaultClientAgent
	}
	if o.Kind == Local && o.Runtime == nil {
		return nil, ErrConfiguration(o.Kind, "no local model loaded")
	}
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		opts:  o,
		http:  hc,
		abort: &http.Client{Timeout: abortTimeout, Transport: hc.Transport},
		log:   o.Log.With().Str("backend", string(o.Kind)).Logger(),
	}, nil
}

// DefaultBaseURL returns the endpoint used when none is configured.
func DefaultBaseURL(k Kind) string {
	switch k {
	case Kobold:
		return DefaultKoboldURL
	case TextGen:
		return DefaultTextGenURL
	case Completions:
		return DefaultCompletionsURL
	case Horde:
		return DefaultHordeURL
	case Mancer:
		return DefaultMancerURL
	case OpenRouter:
		return DefaultOpenRouterURL
	case OpenAI:
		return DefaultOpenAIURL
	case Local:
		return ""
	}
	return ""
}

func (c *Client) Kind() Kind { return c.opts.Kind }

func (c *Client) Model() string { return c.opts.Model }

func (c *Client) HordeModels() []string { return c.opts.HordeModels }

// Target discovers the resources Limits needs: Horde workers, or the model
// limits of Mancer and OpenRouter. Mancer's lookup doubles as the key check.
func (c *Client) Target(ctx context.Context) (Target, error) {
	switch c.opts.Kind {
	case Horde:
		workers, err := c.Workers(ctx)
		if err != nil {
			return Target{}, err
		}
		return Target{Workers: workers, HordeModels: c.opts.HordeModels}, nil
	case Mancer:
		info, err := c.mancerModel(ctx)
		if err != nil {
			return Target{}, err
		}
		return Target{Model: info}, nil
	case OpenRouter:
		info, err := c.openRouterModel(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("model lookup failed; using preset limits")
			return Target{}, nil
		}
		return Target{Model: info}, nil
	default:
		return Target{}, nil
	}
}

// Open sends the request built by Payload and returns its stream.
func (c *Client) Open(ctx context.Context, payload any) (Stream, error) {
	switch c.opts.Kind {
	case Horde:
		return c.openHorde(ctx, payload)
	case Local:
		p, ok := payload.(llm.Params)
		if !ok {
			return nil, ErrConfiguration(Local, fmt.Sprintf("unexpected payload %T", payload))
		}
		return &localStream{ctx: ctx, rt: c.opts.Runtime, params: p}, nil
	default:
		return c.openSSE(ctx, payload)
	}
}

func (c *Client) newRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch c.opts.Kind {
	case Horde:
		req.Header.Set("Client-Agent", c.opts.ClientAgent)
	case Mancer:
		if c.opts.APIKey != "" {
			req.Header.Set("X-API-KEY", c.opts.APIKey)
		}
	case Completions, OpenRouter, OpenAI:
		if c.opts.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		}
	}
	return req, nil
}

// checkStatus maps non-2xx responses to typed errors and closes the body.
func (c *Client) checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrAuth(c.opts.Kind, resp.StatusCode, orDefault(msg, "invalid API key"))
	}
	return &TransportError{Backend: c.opts.Kind, Op: op, Status: resp.StatusCode, Err: errors.New(orDefault(msg, resp.Status))}
}

func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Backend: c.opts.Kind, Op: op, Err: err}
	}
	return resp, nil
}

// fireAbort sends a best-effort cancel request with the short abort timeout.
func (c *Client) fireAbort(method, url string) {
	req, err := c.newRequest(context.Background(), method, url, nil)
	if err != nil {
		return
	}
	resp, err := c.abort.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("abort signal failed")
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Msg("abort signal rejected")
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
