package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vouchmesh/vouchmesh/internal/api/handlers"
	mw "github.com/vouchmesh/vouchmesh/internal/api/middleware"
	"github.com/vouchmesh/vouchmesh/internal/buildconfig"
	"github.com/vouchmesh/vouchmesh/internal/config"
	"github.com/vouchmesh/vouchmesh/internal/domain"
	"github.com/vouchmesh/vouchmesh/internal/service"
	"github.com/vouchmesh/vouchmesh/internal/store"
	"go.uber.org/zap"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router  *chi.Mux
	Network *service.NetworkService
	Monitor *service.TrustMonitor

	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(st domain.ContractStateStore, logger *zap.Logger) *App {
	contract := config.ContractID()

	// Services
	networkSvc := service.NewNetworkService(st, contract, logger)
	ejector := service.NewGroupEjector(networkSvc, logger)
	monitor := service.NewTrustMonitor(networkSvc, st, ejector, logger)

	// Handlers
	networkHandler := handlers.NewNetworkHandler(networkSvc, logger)
	analysisHandler := handlers.NewAnalysisHandler(networkSvc)
	proposalHandler := handlers.NewProposalHandler(networkSvc)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Network:   networkSvc,
		Monitor:   monitor,
		startTime: time.Now(),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	// Health
	r.Get("/health", healthHandler())

	// Metrics
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		// Membership commands and queries
		r.Route("/members", func(r chi.Router) {
			r.Get("/", networkHandler.ListMembers)
			r.Post("/", networkHandler.Invite)
			r.Route("/{hash}", func(r chi.Router) {
				r.Delete("/", networkHandler.RemoveMember)
				r.Get("/standing", networkHandler.GetStanding)
				r.Get("/ejection", networkHandler.CheckEjection)
			})
		})

		r.Post("/seed", networkHandler.Seed)

		r.Route("/vouches", func(r chi.Router) {
			r.Post("/", networkHandler.Vouch)
			r.Delete("/", networkHandler.RemoveVouch)
		})
		r.Route("/flags", func(r chi.Router) {
			r.Post("/", networkHandler.Flag)
			r.Delete("/", networkHandler.RemoveFlag)
		})

		// Replica exchange (CBOR frames)
		r.Get("/state", networkHandler.GetState)
		r.Post("/state/merge", networkHandler.MergeState)
		r.Post("/deltas", networkHandler.ApplyDelta)

		// Group policy
		r.Put("/config", networkHandler.UpdateConfig)

		// Federation contracts
		r.Route("/federation", func(r chi.Router) {
			r.Get("/", networkHandler.ListFederation)
			r.Post("/", networkHandler.RegisterFederation)
		})

		// Membership polls
		r.Route("/proposals", func(r chi.Router) {
			r.Get("/", proposalHandler.List)
			r.Post("/", proposalHandler.Create)
			r.Post("/check", proposalHandler.CheckExpired)
			r.Post("/{id}/result", proposalHandler.RecordResult)
		})

		// Topology, DVR, and recommendations
		r.Route("/analysis", func(r chi.Router) {
			r.Get("/clusters", analysisHandler.GetClusters)
			r.Get("/dvr", analysisHandler.GetDVR)
			r.Get("/introductions", analysisHandler.GetIntroductions)
		})
	})

	return app
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		writeJSON(w, http.StatusOK, map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
			"build":      buildconfig.VersionInfo(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Ensure store implementations satisfy the collaborator interface at
// compile time.
var (
	_ domain.ContractStateStore = (*store.InMemoryStore)(nil)
	_ domain.ContractStateStore = (*store.PostgresStore)(nil)
	_ domain.ContractStateStore = (*store.BadgerStore)(nil)
	_ domain.Ejector            = (*service.GroupEjector)(nil)
)
