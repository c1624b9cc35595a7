package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/filipexyz/ravi-sub000/internal/bus"
	"github.com/filipexyz/ravi-sub000/internal/store"
)

// Server is the connector-facing ingest API. Channel connectors run out of
// process: they POST raw events in, and subscribe to a WebSocket to receive
// outbound sends and ready-for-dispatch messages.
type Server struct {
	gw       *Gateway
	events   *bus.MessageBus
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewServer(gw *Gateway, events *bus.MessageBus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		gw:     gw,
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: log,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/instances/{name}/events", s.handleIngest)
	mux.HandleFunc("GET /v1/events/ws", s.handleWS)
	return mux
}

// Run serves the ingest API on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("ingest server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleIngest accepts one raw channel event for an instance.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	instance := r.PathValue("name")

	var raw bus.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		httpError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if err := s.gw.HandleRaw(r.Context(), instance, &raw); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			httpError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, store.ErrInvalidInput):
			httpError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Error("ingest failed", "instance", instance, "error", err)
			httpError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// wsFrame is the bidirectional WebSocket message shape. Server→connector
// frames carry an event name and payload; connector→server frames carry a raw
// event to ingest.
type wsFrame struct {
	Event    string          `json:"event,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Instance string          `json:"instance,omitempty"`
	Raw      *bus.RawEvent   `json:"raw,omitempty"`
}

// handleWS upgrades a connector connection. All broadcast events are fanned
// out to it; inbound frames with a raw event run the ingest pipeline, and
// frames carrying only an event name are rebroadcast as control signals
// (session.abort, trigger.fired, schedulers.refresh).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	subID := "ws-" + uuid.Must(uuid.NewV7()).String()

	// Broadcast snapshots its handler list before calling, so this handler can
	// still run after Unsubscribe returns. The closed flag keeps a late
	// delivery off the closed channel.
	out := make(chan bus.Event, 64)
	var outMu sync.Mutex
	outClosed := false
	defer func() {
		outMu.Lock()
		outClosed = true
		outMu.Unlock()
		close(out)
	}()
	s.events.Subscribe(subID, func(ev bus.Event) {
		outMu.Lock()
		defer outMu.Unlock()
		if outClosed {
			return
		}
		select {
		case out <- ev:
		default:
			s.log.Warn("connector event queue full, dropping", "sub", subID, "event", ev.Name)
		}
	})
	defer s.events.Unsubscribe(subID)
	s.log.Info("connector attached", "sub", subID, "remote", r.RemoteAddr)

	// One writer goroutine; gorilla connections allow a single concurrent
	// writer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range out {
			payload, err := json.Marshal(ev.Payload)
			if err != nil {
				continue
			}
			frame := wsFrame{Event: ev.Name, Payload: payload}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}()

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			s.log.Info("connector detached", "sub", subID)
			return
		}
		switch {
		case frame.Raw != nil && frame.Instance != "":
			if err := s.gw.HandleRaw(r.Context(), frame.Instance, frame.Raw); err != nil {
				s.log.Warn("ws ingest failed", "instance", frame.Instance, "error", err)
			}
		case frame.Event != "":
			s.events.Broadcast(bus.Event{Name: frame.Event, Payload: frame.Payload})
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
