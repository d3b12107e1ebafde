package seeder

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/database"
	"github.com/Additional-Code/packline/internal/entity"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

// Users seeds an admin and a couple of warehouse workers if missing.
func (s *Seeder) Users(ctx context.Context) error {
	now := time.Now().UTC()
	samples := []entity.User{
		{Login: "admin", Name: "Administrator", Role: entity.RoleAdmin, CreatedAt: now, UpdatedAt: now},
		{Login: "picker1", Name: "Picker One", Role: entity.RoleUser, CreatedAt: now, UpdatedAt: now},
		{Login: "picker2", Name: "Picker Two", Role: entity.RoleUser, CreatedAt: now, UpdatedAt: now},
	}

	for _, sample := range samples {
		user := sample
		_, err := s.db.NewInsert().Model(&user).
			On("CONFLICT (login) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded users", zap.Int("count", len(samples)))
	}
	return nil
}

// Postings seeds a small sample batch if missing.
func (s *Seeder) Postings(ctx context.Context) error {
	now := time.Now().UTC()
	shipmentDate := now.Add(24 * time.Hour).Truncate(time.Hour)

	samples := []entity.Posting{
		{
			PostingNumber: "0001-0001-1",
			Status:        entity.StatusAwaitingPackaging,
			ShipmentDate:  shipmentDate,
			Warehouse:     "main",
			SyncedAt:      now,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		{
			PostingNumber: "0001-0002-1",
			Status:        entity.StatusAwaitingPackaging,
			ShipmentDate:  shipmentDate,
			Warehouse:     "main",
			SyncedAt:      now,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}

	for _, sample := range samples {
		posting := sample
		_, err := s.db.NewInsert().Model(&posting).
			On("CONFLICT (posting_number) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded postings", zap.Int("count", len(samples)))
	}
	return nil
}
