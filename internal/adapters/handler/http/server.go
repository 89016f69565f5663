package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hivescan/hivescan/internal/core/domain"
	"github.com/hivescan/hivescan/internal/core/logger"
	"github.com/hivescan/hivescan/internal/core/ports"
)

// RuntimeFactory builds a fresh runtime per request. Scan invocations block
// for the whole orchestration sequence, so each one owns its own instance.
type RuntimeFactory func() (ports.Runtime, error)

type Server struct {
	router     *chi.Mux
	newRuntime RuntimeFactory
	hub        *Hub
}

func NewServer(newRuntime RuntimeFactory, hub *Hub) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		newRuntime: newRuntime,
		hub:        hub,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		MetricsHandler().ServeHTTP(w, r)
	})
	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/api/ws", s.handleWS)

	s.router.Route("/api/scans", func(r chi.Router) {
		r.Post("/", s.handleStartScan)
		r.Get("/", s.handleListScans)
		r.Delete("/{id}", s.handleStopScan)
	})
}

func (s *Server) Run(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

type startScanRequest struct {
	Title string `json:"title"`
	Asset struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"asset"`
	Agents []domain.AgentSettings `json:"agents"`
}

// handleStartScan validates the request and launches the blocking scan
// sequence on its own goroutine; progress is observable over /api/ws.
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	asset, err := parseAsset(req.Asset.Type, req.Asset.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Agents) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing agent list"))
		return
	}
	for i := range req.Agents {
		if req.Agents[i].Replicas < 1 {
			req.Agents[i].Replicas = 1
		}
	}
	group := domain.AgentGroupDefinition{Agents: req.Agents}

	rt, err := s.newRuntime()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !rt.CanRun(group) {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("runtime cannot run the provided agent group"))
		return
	}

	RecordScanStarted()
	// The scan outlives the request; detach it from the request context.
	go func() {
		if err := rt.Scan(context.Background(), req.Title, group, asset); err != nil {
			RecordScanFailed()
			logger.Error("scan failed", "title", req.Title, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	rt, err := s.newRuntime()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	scans, err := rt.List(r.Context(), 0, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"scans": scans})
}

func (s *Server) handleStopScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "id")
	rt, err := s.newRuntime()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := rt.Stop(r.Context(), scanID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	RecordScanStopped()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stopped", "scan_id": scanID})
}

func parseAsset(assetType, value string) (domain.Asset, error) {
	if value == "" {
		return nil, fmt.Errorf("missing asset value")
	}
	switch assetType {
	case "domain":
		return domain.DomainName{Name: value}, nil
	case "ip":
		return domain.IPv4{Host: value}, nil
	default:
		return nil, fmt.Errorf("unsupported asset type %q", assetType)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
