package cmd

import (
	"fmt"

	"github.com/filipexyz/ravi-sub000/internal/config"
	"github.com/filipexyz/ravi-sub000/internal/store"
	"github.com/filipexyz/ravi-sub000/internal/store/pg"
	"github.com/filipexyz/ravi-sub000/internal/store/sqlite"
)

// openStores opens the configured storage backend. The sqlite path
// auto-migrates; postgres expects an explicit `ravi migrate up`.
func openStores(cfg *config.Config) (*store.Stores, error) {
	switch cfg.Database.Backend {
	case "", "sqlite":
		return sqlite.NewStores(cfg.SQLitePathExpanded())
	case "postgres":
		if cfg.Database.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend selected but RAVI_POSTGRES_DSN is not set")
		}
		return pg.NewStores(cfg.Database.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}
