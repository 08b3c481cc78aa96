package backend

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"

	"promptline/internal/stream"
)

// streamPath is the generation endpoint relative to the base URL.
func streamPath(k Kind) string {
	switch k {
	case Kobold:
		return "/api/extra/generate/stream"
	case TextGen, Completions:
		return "/v1/completions"
	case Mancer:
		return "/completions"
	case OpenRouter, OpenAI:
		return "/chat/completions"
	}
	return ""
}

// streamChunk is the union of the event payloads the SSE providers send.
type streamChunk struct {
	Token   string `json:"token"`
	Content string `json:"content"`
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// text extracts the delta the way each provider encodes it.
func (c streamChunk) text(k Kind) string {
	switch k {
	case Kobold:
		return c.Token
	case OpenRouter, OpenAI:
		if len(c.Choices) > 0 {
			return c.Choices[0].Delta.Content
		}
	case TextGen, Mancer, Completions:
		if len(c.Choices) > 0 && c.Choices[0].Text != "" {
			return c.Choices[0].Text
		}
		return c.Content
	}
	return ""
}

type sseStream struct {
	c    *Client
	resp *http.Response
}

func (c *Client) openSSE(ctx context.Context, payload any) (Stream, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.opts.BaseURL+streamPath(c.opts.Kind), payload)
	if err != nil {
		return nil, ErrConfiguration(c.opts.Kind, err.Error())
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.do(req, "generate")
	if err != nil {
		return nil, err
	}
	if err := c.checkStatus(resp, "generate"); err != nil {
		return nil, err
	}
	return &sseStream{c: c, resp: resp}, nil
}

func (s *sseStream) Deltas() iter.Seq2[string, error] {
	k := s.c.opts.Kind
	return func(yield func(string, error) bool) {
		for ev, err := range stream.Events(s.resp.Body) {
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					yield("", err)
					return
				}
				yield("", &TransportError{Backend: k, Op: "read stream", Err: err})
				return
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				s.c.log.Debug().Str("data", ev.Data).Msg("unknown stream event")
				continue
			}
			if chunk.Error != nil && chunk.Error.Message != "" {
				yield("", &TransportError{Backend: k, Op: "stream", Err: errors.New(chunk.Error.Message)})
				return
			}
			if t := chunk.text(k); t != "" {
				if !yield(t, nil) {
					return
				}
			}
		}
	}
}

// Abort only KoboldAI exposes a server-side stop; the other providers stop
// when the request context is canceled.
func (s *sseStream) Abort() {
	if s.c.opts.Kind == Kobold {
		s.c.fireAbort(http.MethodPost, s.c.opts.BaseURL+"/api/extra/abort")
	}
}

func (s *sseStream) Close() error { return s.resp.Body.Close() }
