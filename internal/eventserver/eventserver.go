// Package eventserver exposes run progress to external watchers: a websocket
// feed of engine events plus read-only HTTP endpoints over the run store.
// Delivery is fire-and-forget; the engine never waits on a slow client.
package eventserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/bottleneck-bots/botengine/internal/engine"
	"github.com/bottleneck-bots/botengine/internal/logger"
	"github.com/bottleneck-bots/botengine/internal/store"
)

const writeTimeout = 5 * time.Second

// Event is one notification on the websocket feed.
type Event struct {
	Type      string      `json:"type"`
	RunID     string      `json:"run_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// RunReader is the read surface the status endpoints need. *store.Store
// satisfies this; a nil reader disables the endpoints.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*store.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
	LoadSnapshot(ctx context.Context, runID string) ([]byte, error)
}

// Server implements engine.Observer and serves the HTTP surface.
type Server struct {
	addr     string
	reader   RunReader
	upgrader websocket.Upgrader
	server   *http.Server
	log      *logger.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// New creates an event server listening on addr.
func New(addr string, reader RunReader) *Server {
	s := &Server{
		addr:   addr,
		reader: reader,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// local observability surface, same-origin rules don't apply
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     logger.Global().WithPrefix("events"),
		clients: make(map[*websocket.Conn]bool),
	}
	s.server = &http.Server{Addr: addr, Handler: s.Handler()}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/healthz", s.handleHealth)
	router.GET("/runs", s.handleListRuns)
	router.GET("/runs/:id", s.handleGetRun)
	router.GET("/runs/:id/state", s.handleRunState)
	router.GET("/ws", s.handleWebsocket)
	return router
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.log.Info("event server listening on %s", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.reader == nil {
		http.Error(w, "run store not configured", http.StatusServiceUnavailable)
		return
	}
	records, err := s.reader.ListRuns(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.reader == nil {
		http.Error(w, "run store not configured", http.StatusServiceUnavailable)
		return
	}
	record, err := s.reader.GetRun(r.Context(), params.ByName("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.reader == nil {
		http.Error(w, "run store not configured", http.StatusServiceUnavailable)
		return
	}
	state, err := s.reader.LoadSnapshot(r.Context(), params.ByName("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(state)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.mu.Unlock()
	s.log.Debug("websocket client connected (%d total)", count)

	// drain the read side so pings and close frames are processed
	go func() {
		defer s.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

// Broadcast sends an event to every connected client, dropping clients that
// cannot keep up.
func (s *Server) Broadcast(event *Event) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(event); err != nil {
			s.log.Debug("dropping slow websocket client: %v", err)
			s.drop(conn)
		}
	}
}

func (s *Server) emit(eventType, runID string, payload interface{}) {
	s.Broadcast(&Event{
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// engine.Observer implementation

func (s *Server) PlanCreated(runID string, plan *engine.Plan) {
	s.emit("plan_created", runID, plan)
}

func (s *Server) PhaseStarted(runID string, phase *engine.Phase) {
	s.emit("phase_started", runID, phase)
}

func (s *Server) PhaseCompleted(runID string, phase *engine.Phase) {
	s.emit("phase_completed", runID, phase)
}

func (s *Server) ToolStarted(runID, toolName string, params map[string]interface{}) {
	s.emit("tool_started", runID, map[string]interface{}{
		"tool":       toolName,
		"parameters": params,
	})
}

func (s *Server) ToolCompleted(runID string, entry *engine.ToolHistoryEntry) {
	s.emit("tool_completed", runID, entry)
}

func (s *Server) Thinking(runID, text string) {
	s.emit("thinking", runID, map[string]string{"text": text})
}

func (s *Server) RunFinished(runID string, result *engine.Result) {
	s.emit("run_finished", runID, map[string]interface{}{
		"final_status": result.FinalStatus,
		"iterations":   result.Iterations,
		"duration_ms":  result.DurationMs,
		"output":       result.Output,
	})
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}
