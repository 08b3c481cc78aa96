package backend

import (
	"context"
	"iter"

	"promptline/internal/llm"
)

type localStream struct {
	ctx    context.Context
	rt     llm.Runtime
	params llm.Params
}

func (s *localStream) Deltas() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stopped := false
		err := s.rt.Completion(s.ctx, s.params, func(tok string) bool {
			if stopped {
				return false
			}
			if !yield(tok, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield("", err)
		}
	}
}

func (s *localStream) Abort() { s.rt.StopCompletion() }

func (s *localStream) Close() error { return nil }
