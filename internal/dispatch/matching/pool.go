package matching

import (
	"context"
	"math"

	"golang.org/x/sync/semaphore"

	"github.com/example/ridematch/internal/dispatch/domain"
)

// providerPool is the shared collection of available providers. A single
// weighted semaphore of size one acts as its exclusive lock so that acquiring
// it can be bounded by a context deadline. Every field below lock is only
// touched while the lock is held.
type providerPool struct {
	lock *semaphore.Weighted

	providers []domain.Provider
	ids       map[string]struct{}
}

func newProviderPool() *providerPool {
	return &providerPool{
		lock: semaphore.NewWeighted(1),
		ids:  make(map[string]struct{}),
	}
}

func (p *providerPool) acquire(ctx context.Context) error {
	return p.lock.Acquire(ctx, 1)
}

func (p *providerPool) release() {
	p.lock.Release(1)
}

func (p *providerPool) addLocked(provider domain.Provider) error {
	if _, exists := p.ids[provider.ID]; exists {
		return ErrDuplicateProvider
	}
	p.ids[provider.ID] = struct{}{}
	p.providers = append(p.providers, provider)
	return nil
}

func (p *providerPool) removeAtLocked(i int) domain.Provider {
	provider := p.providers[i]
	p.providers = append(p.providers[:i], p.providers[i+1:]...)
	delete(p.ids, provider.ID)
	return provider
}

func (p *providerPool) withdrawLocked(id string) bool {
	if _, ok := p.ids[id]; !ok {
		return false
	}
	for i, provider := range p.providers {
		if provider.ID == id {
			p.removeAtLocked(i)
			return true
		}
	}
	return false
}

// takeNearestLocked removes and returns the provider closest to point. Ties
// go to the provider that appears first in pool order.
func (p *providerPool) takeNearestLocked(point domain.Point) (domain.Provider, float64, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, provider := range p.providers {
		if d := point.DistanceTo(provider.Position); d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 {
		return domain.Provider{}, 0, false
	}
	return p.removeAtLocked(best), bestDist, true
}

func (p *providerPool) sizeLocked() int {
	return len(p.providers)
}
