package backend

import (
	"context"
	"sync"
)

// Serialize wraps m so that at most one Generate runs at a time. Waiting
// callers give up when their context is done.
func Serialize(m Model) Model {
	return &serialModel{m: m, sem: make(chan struct{}, 1)}
}

type serialModel struct {
	m    Model
	sem  chan struct{}
	once sync.Once
	err  error
}

func (s *serialModel) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-s.sem }()
	return s.m.Generate(ctx, prompt, p)
}

func (s *serialModel) Close() error {
	s.once.Do(func() {
		s.sem <- struct{}{}
		s.err = s.m.Close()
		<-s.sem
	})
	return s.err
}
