package db

import (
	"context"
	"sync"

	"paylink-service/internal/model"
)

// MemoryLinkRepository is a mutex-guarded map with the same contract as
// LinkRepository. It backs unit tests and database-less local runs.
type MemoryLinkRepository struct {
	mu    sync.RWMutex
	links map[string]model.PaymentLink
}

func NewMemoryLinkRepository() *MemoryLinkRepository {
	return &MemoryLinkRepository{links: make(map[string]model.PaymentLink)}
}

func (r *MemoryLinkRepository) Insert(_ context.Context, link *model.PaymentLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.links[link.LinkID]; exists {
		return model.ErrConflict
	}
	r.links[link.LinkID] = *link
	return nil
}

func (r *MemoryLinkRepository) SelectByID(_ context.Context, id string) (*model.PaymentLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	link, ok := r.links[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &link, nil
}

func (r *MemoryLinkRepository) Update(_ context.Context, link *model.PaymentLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.links[link.LinkID]; !ok {
		return model.ErrNotFound
	}
	r.links[link.LinkID] = *link
	return nil
}

func (r *MemoryLinkRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.links[id]; !ok {
		return false, nil
	}
	delete(r.links, id)
	return true, nil
}

func (r *MemoryLinkRepository) SelectAll(_ context.Context) ([]*model.PaymentLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	links := make([]*model.PaymentLink, 0, len(r.links))
	for id := range r.links {
		link := r.links[id]
		links = append(links, &link)
	}
	return links, nil
}
