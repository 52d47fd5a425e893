package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/mkulina/housing-pricing/config"
)

// Migrator is implemented by stores that own a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Open builds the store selected by cfg.Store.Driver.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return NewPostgres(cfg.Database.GetDSN())
	case "sqlite":
		return NewSQLite(cfg.Store.SQLitePath)
	case "memory":
		return NewMemory(), nil
	}
	return nil, eris.Errorf("store: unknown driver %q", cfg.Store.Driver)
}

// Migrate applies the schema when the store has one.
func Migrate(ctx context.Context, s Store) error {
	if m, ok := s.(Migrator); ok {
		return m.Migrate(ctx)
	}
	return nil
}
