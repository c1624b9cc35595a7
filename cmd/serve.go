package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/filipexyz/ravi-sub000/internal/bootstrap"
	"github.com/filipexyz/ravi-sub000/internal/bus"
	"github.com/filipexyz/ravi-sub000/internal/config"
	"github.com/filipexyz/ravi-sub000/internal/gateway"
	"github.com/filipexyz/ravi-sub000/internal/identity"
	"github.com/filipexyz/ravi-sub000/internal/outbound"
	"github.com/filipexyz/ravi-sub000/internal/routing"
	"github.com/filipexyz/ravi-sub000/internal/sessions"
	"github.com/filipexyz/ravi-sub000/internal/tracing"
	"github.com/filipexyz/ravi-sub000/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the message router",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config load failed", "error", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		return
	}

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("store open failed", "error", err)
		return
	}

	if err := bootstrap.Seed(ctx, stores, slog.Default()); err != nil {
		slog.Warn("bootstrap seed failed", "error", err)
	}

	msgBus := bus.NewMessageBus()
	aborts := bus.NewAbortRegistry()
	graph := identity.New(stores.Contacts)
	resolver := routing.NewResolver(stores.Routes)
	manager := sessions.NewManager(stores.Sessions, aborts, slog.Default())
	responder := outbound.NewResponder(stores.Outbound, slog.Default())

	gw := gateway.New(gateway.Config{
		Bus:          msgBus,
		Graph:        graph,
		Resolver:     resolver,
		Instances:    stores.Instances,
		Sessions:     manager,
		Responses:    responder,
		ReadReceipts: cfg.Gateway.ReadReceipts,
		Debounce:     time.Duration(cfg.Gateway.DebounceMs) * time.Millisecond,
	})

	var limiter *rate.Limiter
	if n := cfg.Outbound.SendsPerMinute; n > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
	scheduler := outbound.NewScheduler(outbound.SchedulerConfig{
		Store:    stores.Outbound,
		Contacts: stores.Contacts,
		Sessions: manager,
		Sender:   outbound.NewBusSender(msgBus, stores.Contacts),
		Limiter:  limiter,
		Tick:     time.Duration(cfg.Outbound.TickSeconds) * time.Second,
	})

	// Control signals arrive from in-process components and from connectors
	// over the ws surface.
	msgBus.Subscribe("core", func(ev bus.Event) {
		switch ev.Name {
		case protocol.EventSessionAbort:
			var p protocol.SessionAbortPayload
			if decodePayload(ev.Payload, &p) && p.SessionKey != "" {
				aborts.Abort(p.SessionKey)
			}
		case protocol.EventTriggerFired:
			var p protocol.TriggerFiredPayload
			if decodePayload(ev.Payload, &p) && p.QueueID != "" {
				if err := scheduler.TriggerQueue(ctx, p.QueueID); err != nil {
					slog.Warn("trigger failed", "queue", p.QueueID, "error", err)
				}
			}
		case protocol.EventSchedulersRefresh:
			scheduler.Kick()
		}
	})

	cfgPath := resolveConfigPath()
	err = config.Watch(ctx, cfgPath, cfg, func() {
		msgBus.Broadcast(bus.Event{Name: protocol.EventConfigChanged})
		msgBus.Broadcast(bus.Event{Name: protocol.EventSchedulersRefresh})
	}, slog.Default())
	if err != nil {
		slog.Warn("config watch unavailable", "path", cfgPath, "error", err)
	}

	slog.Info("router started",
		"backend", cfg.Database.Backend,
		"debounce_ms", cfg.Gateway.DebounceMs,
		"outbound_tick_s", cfg.Outbound.TickSeconds)

	g, runCtx := errgroup.WithContext(ctx)
	if addr := cfg.Server.Listen; addr != "" {
		ingest := gateway.NewServer(gw, msgBus, slog.Default())
		g.Go(func() error {
			return ingest.Run(runCtx, addr)
		})
	}
	g.Go(func() error {
		scheduler.Run(runCtx)
		return nil
	})
	g.Go(func() error {
		manager.RunSweeper(runCtx, time.Duration(cfg.Sessions.SweepSeconds)*time.Second)
		return nil
	})
	g.Go(func() error {
		// Agent dispatch is external; in-process subscribers receive the
		// merged message as an event.
		dispatchLoop(runCtx, msgBus, aborts, func(ctx context.Context, msg bus.InboundMessage) error {
			msgBus.Broadcast(bus.Event{Name: protocol.EventMessageReady, Payload: msg})
			return ctx.Err()
		})
		return nil
	})

	g.Wait()
	gw.Drain()
	msgBus.Broadcast(bus.Event{Name: protocol.EventShutdown})
	aborts.AbortAll()
	if err := shutdownTracing(context.Background()); err != nil {
		slog.Warn("trace flush failed", "error", err)
	}
	slog.Info("router stopped")
}

// decodePayload converts an event payload into dst. Payloads arrive either as
// typed structs (in-process broadcast) or raw JSON (ws frames).
func decodePayload(payload, dst any) bool {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		raw = b
	}
	return json.Unmarshal(raw, dst) == nil
}

// dispatchLoop hands merged inbound messages to the dispatch handler,
// registering each under the abort registry so session deletes can cancel
// in-flight work.
func dispatchLoop(ctx context.Context, msgBus *bus.MessageBus, aborts *bus.AbortRegistry, handle bus.MessageHandler) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		runCtx, done := aborts.Register(ctx, msg.SessionKey)
		if err := handle(runCtx, msg); err != nil && ctx.Err() == nil {
			slog.Warn("dispatch failed", "session", msg.SessionKey, "error", err)
		}
		done()
	}
}
