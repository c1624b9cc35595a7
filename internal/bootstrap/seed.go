// Package bootstrap seeds a fresh deployment with a usable baseline so the
// first connector can attach without any manual setup.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/filipexyz/ravi-sub000/internal/config"
	"github.com/filipexyz/ravi-sub000/internal/store"
)

// DefaultInstance is the name of the seeded channel instance.
const DefaultInstance = "main"

// Seed creates the default instance and a catch-all route when the store has
// no instances yet. Idempotent: an already-seeded (or operator-configured)
// store is left alone.
func Seed(ctx context.Context, stores *store.Stores, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	existing, err := stores.Instances.List(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: list instances: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	inst := &store.Instance{
		Name:         DefaultInstance,
		ChannelType:  "whatsapp",
		DefaultAgent: config.DefaultAgentID,
		DMPolicy:     store.DMOpen,
		GroupPolicy:  store.GroupOpen,
	}
	if err := stores.Instances.Create(ctx, inst); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil // lost a race with another process; fine
		}
		return fmt.Errorf("bootstrap: create instance: %w", err)
	}

	route := &store.Route{
		Instance: DefaultInstance,
		Pattern:  "*",
		Agent:    config.DefaultAgentID,
	}
	if err := stores.Routes.Create(ctx, route); err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("bootstrap: create route: %w", err)
	}

	log.Info("seeded default instance", "instance", inst.Name, "agent", inst.DefaultAgent)
	return nil
}
