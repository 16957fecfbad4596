package ingest_test

import (
	"context"
	"sync"

	"github.com/example/ridematch/internal/dispatch/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Emit(_ context.Context, evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) matches() []domain.Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Match
	for _, evt := range r.events {
		if evt.Match != nil {
			out = append(out, *evt.Match)
		}
	}
	return out
}
