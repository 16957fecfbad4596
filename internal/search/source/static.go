package source

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Static simulates a slow search backend: each call waits Latency and then
// returns three results, the last one carrying a random suffix so successive
// computations are distinguishable.
type Static struct {
	Latency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewStatic constructs the simulated backend.
func NewStatic(latency time.Duration) *Static {
	return &Static{Latency: latency, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *Static) Fetch(ctx context.Context, query string) ([]string, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	n := s.rng.Intn(100)
	s.mu.Unlock()
	return []string{
		query + " - result A",
		query + " - result B",
		fmt.Sprintf("%s - result C %d", query, n),
	}, nil
}
