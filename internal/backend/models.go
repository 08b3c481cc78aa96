package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type mancerModelResponse struct {
	ID     string `json:"id"`
	Limits struct {
		Context    int `json:"context"`
		Completion int `json:"completion"`
	} `json:"limits"`
}

// mancerModel checks the key and model before anything is generated.
func (c *Client) mancerModel(ctx context.Context) (ModelInfo, error) {
	if c.opts.Model == "" {
		return ModelInfo{}, ErrConfiguration(Mancer, "no model selected")
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.opts.BaseURL+"/models/"+url.PathEscape(c.opts.Model), nil)
	if err != nil {
		return ModelInfo{}, err
	}
	resp, err := c.do(req, "check model")
	if err != nil {
		return ModelInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ModelInfo{}, ErrAuth(Mancer, resp.StatusCode, "invalid model or API key")
	}
	var m mancerModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return ModelInfo{}, &TransportError{Backend: Mancer, Op: "check model", Err: err}
	}
	return ModelInfo{ID: c.opts.Model, ContextLength: m.Limits.Context, CompletionLength: m.Limits.Completion}, nil
}

type openRouterModels struct {
	Data []struct {
		ID            string `json:"id"`
		ContextLength int    `json:"context_length"`
		TopProvider   struct {
			MaxCompletionTokens int `json:"max_completion_tokens"`
		} `json:"top_provider"`
	} `json:"data"`
}

func (c *Client) openRouterModel(ctx context.Context) (ModelInfo, error) {
	if c.opts.Model == "" {
		return ModelInfo{}, ErrConfiguration(OpenRouter, "no model selected")
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.opts.BaseURL+"/models", nil)
	if err != nil {
		return ModelInfo{}, err
	}
	resp, err := c.do(req, "list models")
	if err != nil {
		return ModelInfo{}, err
	}
	if err := c.checkStatus(resp, "list models"); err != nil {
		return ModelInfo{}, err
	}
	defer resp.Body.Close()
	var list openRouterModels
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return ModelInfo{}, &TransportError{Backend: OpenRouter, Op: "list models", Err: err}
	}
	for _, m := range list.Data {
		if m.ID == c.opts.Model {
			return ModelInfo{ID: m.ID, ContextLength: m.ContextLength, CompletionLength: m.TopProvider.MaxCompletionTokens}, nil
		}
	}
	return ModelInfo{}, fmt.Errorf("model %q not listed", c.opts.Model)
}
