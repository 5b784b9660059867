// Package gateway exposes the node's diagnostics surface: a REST API for
// status, history, and configuration, a WebSocket stream of live link
// events, and the Prometheus metrics endpoint.
//
// Routes:
//
//	GET  /api/v1/status    — node health and link counters
//	GET  /api/v1/peers     — known peers with last-seen and battery
//	GET  /api/v1/messages  — message history (limit query param)
//	POST /api/v1/messages  — queue a DATA message to the peer
//	GET  /api/v1/config    — current configuration
//	PUT  /api/v1/config    — adjust radio parameters at runtime
//	GET  /api/v1/events    — WebSocket live stream
//	GET  /metrics          — Prometheus exposition
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshcommons/loralink/internal/config"
	"github.com/meshcommons/loralink/internal/store"
	"github.com/meshcommons/loralink/internal/telemetry"
)

// Status is the health snapshot returned by GET /api/v1/status.
type Status struct {
	Node         string  `json:"node"`
	Peer         string  `json:"peer"`
	Power        string  `json:"power"`
	Pending      int     `json:"pending"`
	Sent         uint64  `json:"sent"`
	Received     uint64  `json:"received"`
	Acked        uint64  `json:"acked"`
	Retries      uint64  `json:"retries"`
	Failures     uint64  `json:"failures"`
	Duplicates   uint64  `json:"duplicates"`
	BatteryVolts float64 `json:"battery_volts"`
	UptimeSec    int64   `json:"uptime_sec"`
}

// Controller is the running node as seen by the API. The node implements
// it; the API never touches the link session directly, so the session
// stays single-threaded.
type Controller interface {
	Status() Status
	EnqueueData(content map[string]any) error
	Config() config.Config
	SetRadioParameter(name string, value float64) error
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// apiServer holds handler dependencies. The db may be nil when the node
// runs without persistence.
type apiServer struct {
	ctrl Controller
	db   *store.DB
	bus  *EventBus
	log  *zap.Logger
}

// NewRouter wires all routes and returns a http.Handler.
func NewRouter(ctrl Controller, db *store.DB, bus *EventBus, log *zap.Logger) http.Handler {
	s := &apiServer{ctrl: ctrl, db: db, bus: bus, log: log}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.status)
	mux.HandleFunc("GET /api/v1/peers", s.listPeers)
	mux.HandleFunc("GET /api/v1/messages", s.listMessages)
	mux.HandleFunc("POST /api/v1/messages", s.sendMessage)
	mux.HandleFunc("GET /api/v1/config", s.getConfig)
	mux.HandleFunc("PUT /api/v1/config", s.putConfig)
	mux.HandleFunc("GET /api/v1/events", s.eventStream)

	mux.Handle("GET /metrics", telemetry.Handler())

	return withLogging(log, mux)
}

// ── Status ────────────────────────────────────────────────────────────────

func (s *apiServer) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"time":        time.Now().UTC().Format(time.RFC3339),
		"link":        s.ctrl.Status(),
		"subscribers": s.bus.Len(),
	})
}

// ── Peers ─────────────────────────────────────────────────────────────────

func (s *apiServer) listPeers(w http.ResponseWriter, r *http.Request) {
	peers := []*store.Peer{}
	if s.db != nil {
		var err error
		peers, err = s.db.ListPeers()
		if err != nil {
			s.log.Error("api: list peers", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"peers": peers,
		"count": len(peers),
	})
}

// ── Messages ──────────────────────────────────────────────────────────────

func (s *apiServer) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50, 1, 500)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msgs := []*store.Message{}
	if s.db != nil {
		msgs, err = s.db.ListMessages(limit)
		if err != nil {
			s.log.Error("api: list messages", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

type sendMessageRequest struct {
	Content map[string]any `json:"content"`
}

func (s *apiServer) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(req.Content) == 0 {
		http.Error(w, "content must not be empty", http.StatusBadRequest)
		return
	}
	if err := s.ctrl.EnqueueData(req.Content); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

// ── Config ────────────────────────────────────────────────────────────────

func (s *apiServer) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.ctrl.Config()
	writeJSON(w, http.StatusOK, cfg)
}

func (s *apiServer) putConfig(w http.ResponseWriter, r *http.Request) {
	var params map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(params) == 0 {
		http.Error(w, "no parameters given", http.StatusBadRequest)
		return
	}

	// Dry-run the whole batch against a copy first: a rejected request must
	// not leave earlier parameters applied.
	trial := s.ctrl.Config()
	for name, value := range params {
		if err := trial.SetRadioParameter(name, value); err != nil {
			var cerr *config.ConfigError
			if errors.As(err, &cerr) {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"param":  cerr.Param,
					"reason": cerr.Reason,
				})
				return
			}
			s.log.Error("api: validate parameter", zap.String("param", name), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	for name, value := range params {
		if err := s.ctrl.SetRadioParameter(name, value); err != nil {
			s.log.Error("api: set parameter", zap.String("param", name), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.ctrl.Config())
}

// ── WebSocket event stream ────────────────────────────────────────────────

func (s *apiServer) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("api: ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, unsub := s.bus.Subscribe()
	defer unsub()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				s.log.Debug("api: ws write", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// ── Middleware ────────────────────────────────────────────────────────────

func withLogging(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug("api",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.code),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

// ── helpers ───────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func queryInt(r *http.Request, key string, def, min, max int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("%s must be %d–%d", key, min, max)
	}
	return n, nil
}
