package manager

import (
	"context"

	"github.com/R3E-Network/eventbus/pkg/bus"
	"github.com/R3E-Network/eventbus/pkg/rules"
	"github.com/R3E-Network/eventbus/pkg/storage"
)

// BuildBusSpec wires the storage and rule-store halves of a BusSpec from a
// bus.Config alone: StorageDurable opens a pooled Postgres connection and
// backs both the event store and the rule store with it; StorageInMemory
// (or the zero value) leaves the bus on its always-present fan-out store
// with an in-memory rule store. Callers that want a shared *sqlx.DB across
// several buses, or a Sink, should construct BusSpec by hand instead.
func BuildBusSpec(ctx context.Context, cfg bus.Config) (BusSpec, error) {
	spec := BusSpec{Config: cfg}

	switch cfg.Storage.Kind {
	case bus.StorageDurable:
		db, err := storage.OpenPostgres(ctx, cfg.Storage.DatabaseURL, cfg.Storage.PoolSize)
		if err != nil {
			return BusSpec{}, err
		}
		pg := storage.NewPostgresStore(db)
		if err := pg.Initialize(ctx); err != nil {
			return BusSpec{}, err
		}
		spec.Storage = pg
		spec.RuleStore = rules.NewPostgresStore(db)
	default:
		spec.RuleStore = rules.NewMemoryStore()
	}

	return spec, nil
}
