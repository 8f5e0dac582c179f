// Package tariff exposes the purchasable credit-pack catalog.
package tariff

import (
	"context"

	"github.com/google/uuid"

	"github.com/nullstream/unmutual/internal/db"
)

// Service reads the tariff catalog.
type Service struct {
	queries *db.Queries
}

// New constructs a Service.
func New(queries *db.Queries) *Service {
	return &Service{queries: queries}
}

// List returns the active tariffs in display order.
func (s *Service) List(ctx context.Context) ([]db.Tariff, error) {
	return s.queries.ListActiveTariffs(ctx)
}

// Get fetches one tariff by id, active or not (payment creation needs this
// even for a tariff later deactivated).
func (s *Service) Get(ctx context.Context, id uuid.UUID) (db.Tariff, error) {
	return s.queries.GetTariff(ctx, id)
}
