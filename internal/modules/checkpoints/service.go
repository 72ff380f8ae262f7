// Package checkpoints exposes the prediction service's trained model
// catalog. Listings are cached briefly so the dashboard's start dialog does
// not hammer the backend.
package checkpoints

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/croupier/internal/domain"
	"github.com/aristath/croupier/internal/events"
	"github.com/rs/zerolog"
)

const cacheTTL = 60 * time.Second

// Service lists and deletes model checkpoints.
type Service struct {
	client domain.PredictorClient
	bus    *events.Bus
	log    zerolog.Logger

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
}

// NewService creates a new checkpoints service
func NewService(client domain.PredictorClient, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		client: client,
		bus:    bus,
		log:    log.With().Str("service", "checkpoints").Logger(),
	}
}

// List returns available checkpoint names, served from cache when fresh.
func (s *Service) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Since(s.fetchedAt) < cacheTTL {
		return append([]string(nil), s.cached...), nil
	}

	names, err := s.client.ListCheckpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if names == nil {
		names = []string{}
	}

	s.cached = names
	s.fetchedAt = time.Now()
	return append([]string(nil), names...), nil
}

// Delete removes a checkpoint from the backend and invalidates the cache.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := s.client.DeleteCheckpoint(ctx, name); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	s.bus.Publish("checkpoints", &events.CheckpointDeletedData{Checkpoint: name})
	s.log.Info().Str("checkpoint", name).Msg("Checkpoint deleted")
	return nil
}

// Invalidate drops the cached listing, forcing the next List to refetch.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
