package report

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/backtester/internal/storage"
)

// Server exposes the run history over a read-only JSON API with CSV
// downloads per run.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	storage *storage.Storage
	logger  *logrus.Logger
	addr    string
}

// runSummary is the list view: the heavyweight ledger fields stay behind
// the per-run endpoints.
type runSummary struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Strategy    string    `json:"strategy"`
	Symbols     []string  `json:"symbols"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	FinalEquity float64   `json:"final_equity"`
	TotalTrades int       `json:"total_trades"`
}

// NewServer wires the routes. Call Start to listen.
func NewServer(addr string, store *storage.Storage, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:  chi.NewRouter(),
		storage: store,
		logger:  logger,
		addr:    addr,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/api/results", s.handleListRuns)
	s.router.Get("/api/results/{id}", s.handleGetRun)
	s.router.Get("/api/results/{id}/trades.csv", s.handleTradesCSV)
}

// Start blocks serving until Shutdown or listener failure.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.WithField("addr", s.addr).Info("starting results server")
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	runs := s.storage.ListRuns()
	summaries := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, runSummary{
			ID:          r.ID,
			CreatedAt:   r.CreatedAt,
			Strategy:    r.Strategy,
			Symbols:     r.Symbols,
			Start:       r.Start,
			End:         r.End,
			FinalEquity: r.FinalEquity,
			TotalTrades: len(r.Trades),
		})
	}
	s.writeJSON(w, summaries)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.storage.GetRun(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, rec)
}

func (s *Server) handleTradesCSV(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.storage.GetRun(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trades.csv"`)
	if err := WriteTrades(w, rec.Trades); err != nil {
		s.logger.WithError(err).Error("failed to write trades csv")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}
