package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/chairmatch/internal/geo"
	"github.com/example/chairmatch/internal/models"
	"github.com/example/chairmatch/internal/observability"
	"github.com/example/chairmatch/internal/storage"
)

// Mirror is the optional out-of-process sink for accepted reports.
type Mirror interface {
	Store(ctx context.Context, chairID string, s models.PositionSample) error
}

// StatsSource exposes the last completed matching cycle.
type StatsSource interface {
	LastStats() models.CycleStats
}

// Server is the engine's ingress and inspection surface: chairs report
// positions here (HTTP or websocket) and operators read cache, availability
// and cycle stats. Ride intake is not served here; rides land in the store
// through the wider platform.
type Server struct {
	store  storage.Store
	cache  *geo.PositionCache
	mirror Mirror
	stats  StatsSource
	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires routes and middleware. mirror may be nil.
func NewServer(store storage.Store, cache *geo.PositionCache, mirror Mirror, stats StatsSource, logger *slog.Logger) *Server {
	s := &Server{
		store:  store,
		cache:  cache,
		mirror: mirror,
		stats:  stats,
		logger: logger,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/chair/locations", s.handleChairLocation).Methods("POST")
	s.mux.HandleFunc("/internal/chairs/{chair_id}/position", s.handleChairPosition).Methods("GET")
	s.mux.HandleFunc("/internal/chairs/{chair_id}/availability", s.handleChairAvailability).Methods("GET")
	s.mux.HandleFunc("/internal/matching/stats", s.handleMatchingStats).Methods("GET")
	s.mux.HandleFunc("/ws/chairs/{chair_id}", s.handleChairStream)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleChairLocation(w http.ResponseWriter, r *http.Request) {
	var ev models.ChairLocationEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ev.ChairID == "" {
		http.Error(w, "chair_id is required", http.StatusBadRequest)
		return
	}
	s.acceptReport(r.Context(), ev.ChairID, ev.Coord(), "http")
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

// handleChairStream accepts a long-lived report stream. The chair identity
// comes from the path; each JSON frame carries coordinates only.
func (s *Server) handleChairStream(w http.ResponseWriter, r *http.Request) {
	chairID := mux.Vars(r)["chair_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var ev models.ChairLocationEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("chair stream ended", "chair_id", chairID, "error", err)
			}
			return
		}
		s.acceptReport(r.Context(), chairID, ev.Coord(), "websocket")
	}
}

func (s *Server) acceptReport(ctx context.Context, chairID string, c models.Coordinate, source string) {
	s.cache.Report(chairID, c)
	observability.LocationReportsTotal.WithLabelValues(source).Inc()

	if s.mirror == nil {
		return
	}
	sample := models.PositionSample{Coordinate: c, ReportedAt: time.Now()}
	if err := s.mirror.Store(ctx, chairID, sample); err != nil {
		s.logger.Warn("position mirror write failed", "chair_id", chairID, "error", err)
	}
}

func (s *Server) handleChairPosition(w http.ResponseWriter, r *http.Request) {
	chairID := mux.Vars(r)["chair_id"]
	sample, ok := s.cache.Lookup(chairID)
	if !ok {
		http.Error(w, "no position reported", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chair_id": chairID, "position": sample})
}

func (s *Server) handleChairAvailability(w http.ResponseWriter, r *http.Request) {
	chairID := mux.Vars(r)["chair_id"]
	busy, err := s.store.ChairHasUnfinishedRide(r.Context(), chairID)
	if err != nil {
		s.logger.Error("availability lookup failed", "chair_id", chairID, "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chair_id": chairID, "available": !busy})
}

func (s *Server) handleMatchingStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.LastStats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
