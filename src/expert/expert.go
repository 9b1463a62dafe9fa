package expert

import (
	"context"
	"fmt"
	"sync"

	"tradecore/src/model"
)

// Expert produces trading recommendations. Implementations may call out
// to external services or models and can take arbitrarily long; the
// scheduler bounds them with a timeout.
type Expert interface {
	// ID identifies the expert; recommendations and transactions carry it.
	ID() string
	// Analyze produces one recommendation for the symbol under the given
	// use case (enter_market or open_positions).
	Analyze(ctx context.Context, symbol, useCase string) (*model.Recommendation, error)
}

// Registry holds the experts known to the process, keyed by id.
type Registry struct {
	mu      sync.RWMutex
	experts map[string]Expert
}

func NewRegistry() *Registry {
	return &Registry{experts: map[string]Expert{}}
}

func (r *Registry) Register(e Expert) {
	r.mu.Lock()
	r.experts[e.ID()] = e
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (Expert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.experts[id]
	if !ok {
		return nil, fmt.Errorf("unknown expert %q", id)
	}
	return e, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.experts))
	for id := range r.experts {
		ids = append(ids, id)
	}
	return ids
}
