package backend

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strings"
	"time"
)

type hordeSubmitResponse struct {
	ID      string   `json:"id"`
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

type hordeStatus struct {
	Done        bool   `json:"done"`
	Faulted     bool   `json:"faulted"`
	IsPossible  *bool  `json:"is_possible"`
	Message     string `json:"message"`
	Generations []struct {
		Text string `json:"text"`
	} `json:"generations"`
}

// Workers lists the text workers currently online.
func (c *Client) Workers(ctx context.Context) ([]Worker, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.opts.BaseURL+"/api/v2/workers?type=text", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, "list workers")
	if err != nil {
		return nil, err
	}
	if err := c.checkStatus(resp, "list workers"); err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var workers []Worker
	if err := json.NewDecoder(resp.Body).Decode(&workers); err != nil {
		return nil, &TransportError{Backend: Horde, Op: "list workers", Err: err}
	}
	return workers, nil
}

type hordeStream struct {
	c   *Client
	ctx context.Context
	id  string
}

func (c *Client) openHorde(ctx context.Context, payload any) (Stream, error) {
	if len(c.opts.HordeModels) == 0 {
		return nil, ErrConfiguration(Horde, "no models selected")
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.opts.BaseURL+"/api/v2/generate/text/async", payload)
	if err != nil {
		return nil, ErrConfiguration(Horde, err.Error())
	}
	req.Header.Set("apikey", orDefault(c.opts.APIKey, "0000000000"))
	resp, err := c.do(req, "submit")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var body hordeSubmitResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAuth(Horde, resp.StatusCode, "invalid API key")
	case resp.StatusCode != http.StatusAccepted:
		msg := strings.Join(append([]string{body.Message}, body.Errors...), "; ")
		return nil, &TransportError{Backend: Horde, Op: "submit", Status: resp.StatusCode, Err: errors.New(strings.Trim(msg, "; "))}
	case body.ID == "":
		return nil, &TransportError{Backend: Horde, Op: "submit", Status: resp.StatusCode, Err: errors.New("missing generation id")}
	}
	c.log.Debug().Str("horde_id", body.ID).Msg("horde job submitted")
	return &hordeStream{c: c, ctx: ctx, id: body.ID}, nil
}

func (s *hordeStream) statusURL() string {
	return s.c.opts.BaseURL + "/api/v2/generate/text/status/" + s.id
}

// Deltas polls the job at a fixed interval and yields the finished text once.
func (s *hordeStream) Deltas() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		t := time.NewTicker(s.c.opts.PollInterval)
		defer t.Stop()
		for {
			select {
			case <-s.ctx.Done():
				yield("", s.ctx.Err())
				return
			case <-t.C:
			}
			st, err := s.poll()
			if err != nil {
				yield("", err)
				return
			}
			if st.Faulted {
				yield("", &TransportError{Backend: Horde, Op: "poll", Err: errors.New(orDefault(st.Message, "generation faulted"))})
				return
			}
			if st.IsPossible != nil && !*st.IsPossible {
				yield("", ErrConfiguration(Horde, "no worker can serve this request"))
				return
			}
			if !st.Done {
				s.c.log.Debug().Str("horde_id", s.id).Msg("checking")
				continue
			}
			if len(st.Generations) > 0 && st.Generations[0].Text != "" {
				yield(st.Generations[0].Text, nil)
			}
			return
		}
	}
}

func (s *hordeStream) poll() (hordeStatus, error) {
	req, err := s.c.newRequest(s.ctx, http.MethodGet, s.statusURL(), nil)
	if err != nil {
		return hordeStatus{}, err
	}
	resp, err := s.c.do(req, "poll")
	if err != nil {
		return hordeStatus{}, err
	}
	defer resp.Body.Close()
	var st hordeStatus
	decErr := json.NewDecoder(resp.Body).Decode(&st)
	if resp.StatusCode != http.StatusOK {
		return hordeStatus{}, &TransportError{Backend: Horde, Op: "poll", Status: resp.StatusCode, Err: errors.New(orDefault(st.Message, resp.Status))}
	}
	if decErr != nil {
		return hordeStatus{}, &TransportError{Backend: Horde, Op: "poll", Err: decErr}
	}
	return st, nil
}

// Abort deletes the queued job so it stops consuming kudos.
func (s *hordeStream) Abort() {
	s.c.fireAbort(http.MethodDelete, s.statusURL())
}

func (s *hordeStream) Close() error { return nil }
