package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/internal/config"
	"github.com/smartdevs17/crm-sync-engine/internal/metrics"
	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/schema"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/internal/sync"
	"github.com/smartdevs17/crm-sync-engine/internal/synclog"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// Server exposes the sync engine over HTTP: the notification endpoint the
// CRM calls, the change capture endpoint local applications call, and the
// operational surface (schema sync, config, logs, stats, metrics).
type Server struct {
	config         *config.Config
	storage        storage.Storage
	inbound        *sync.Inbound
	outbox         *sync.Outbox
	capture        *sync.Capture
	scheduler      *sync.Scheduler
	orchestrator   *schema.Orchestrator
	syncLog        *synclog.Logger
	metricsManager *metrics.Manager
	logger         *logrus.Logger
	httpServer     *http.Server
	router         *mux.Router
}

// Deps bundles the components the server fronts
type Deps struct {
	Storage      storage.Storage
	Inbound      *sync.Inbound
	Outbox       *sync.Outbox
	Capture      *sync.Capture
	Scheduler    *sync.Scheduler
	Orchestrator *schema.Orchestrator
	SyncLog      *synclog.Logger
	Metrics      *metrics.Manager
}

// NewServer creates the HTTP server
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		config:         cfg,
		storage:        deps.Storage,
		inbound:        deps.Inbound,
		outbox:         deps.Outbox,
		capture:        deps.Capture,
		scheduler:      deps.Scheduler,
		orchestrator:   deps.Orchestrator,
		syncLog:        deps.SyncLog,
		metricsManager: deps.Metrics,
		logger:         utils.GetLogger(),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)
	if s.config.Server.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/notifications", s.handleNotification).Methods("POST")
	api.HandleFunc("/changes", s.handleCaptureChange).Methods("POST")
	api.HandleFunc("/outbox/drain", s.handleDrain).Methods("POST")
	api.HandleFunc("/schema/discover", s.handleDiscover).Methods("POST")
	api.HandleFunc("/schema/sync", s.handleSchemaSyncAll).Methods("POST")
	api.HandleFunc("/schema/sync/{object}", s.handleSchemaSyncObject).Methods("POST")
	api.HandleFunc("/sync/pull/{object}", s.handleBulkPull).Methods("POST")
	api.HandleFunc("/objects", s.handleListObjects).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handlePutConfig).Methods("PUT")
	api.HandleFunc("/logs", s.handleQueryLogs).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ServerAddress(),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.WithFields(logrus.Fields{
		"address": s.config.ServerAddress(),
	}).Info("HTTP server starting")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return utils.NewAppError(utils.ErrCodeInternal, "HTTP server failed", err.Error())
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("HTTP server stopping")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"version":   s.config.App.Version,
		"timestamp": time.Now().UTC(),
		"storage":   s.storage.GetHealth(),
		"scheduler": map[string]interface{}{"running": s.scheduler != nil && s.scheduler.IsRunning()},
	}
	if sh := s.storage.GetHealth(); !sh.Healthy {
		health["status"] = "degraded"
		s.writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.GetStorageStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := map[string]interface{}{
		"storage": stats,
	}
	if s.scheduler != nil {
		status["scheduler"] = s.scheduler.GetStats()
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	var notification models.InboundNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		s.writeError(w, http.StatusBadRequest,
			utils.NewAppError(utils.ErrCodeValidation, "Invalid notification payload", err.Error()))
		return
	}
	if notification.ObjectAPIName == "" || notification.ObjectID == "" {
		s.writeError(w, http.StatusBadRequest,
			utils.NewAppError(utils.ErrCodeValidation, "objectApiName and objectId are required", ""))
		return
	}

	result, err := s.inbound.HandleNotification(r.Context(), &notification)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCaptureChange(w http.ResponseWriter, r *http.Request) {
	var change sync.LocalChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		s.writeError(w, http.StatusBadRequest,
			utils.NewAppError(utils.ErrCodeValidation, "Invalid change payload", err.Error()))
		return
	}
	if change.ObjectAPIName == "" {
		s.writeError(w, http.StatusBadRequest,
			utils.NewAppError(utils.ErrCodeValidation, "objectApiName is required", ""))
		return
	}

	entry, err := s.capture.CaptureChange(r.Context(), &change)
	if err != nil {
		status := http.StatusInternalServerError
		switch utils.ErrorCode(err) {
		case utils.ErrCodeValidation:
			status = http.StatusBadRequest
		case utils.ErrCodeNotFound:
			status = http.StatusNotFound
		}
		s.writeError(w, status, err)
		return
	}
	if entry == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"captured": false, "reason": "no effective change"})
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"captured": true, "entry": entry})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	result, err := s.outbox.ProcessPending(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	defs, err := s.orchestrator.Discovery().DiscoverObjects(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"objects": defs})
}

func (s *Server) handleSchemaSyncAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.orchestrator.SyncAll(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSchemaSyncObject(w http.ResponseWriter, r *http.Request) {
	object := mux.Vars(r)["object"]
	result, err := s.orchestrator.SyncObject(r.Context(), object)
	if err != nil {
		status := http.StatusInternalServerError
		if utils.ErrorCode(err) == utils.ErrCodeNotFound {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBulkPull(w http.ResponseWriter, r *http.Request) {
	object := mux.Vars(r)["object"]
	entry, err := s.inbound.BulkPull(r.Context(), object, models.TriggerManual)
	if err != nil {
		status := http.StatusInternalServerError
		if utils.ErrorCode(err) == utils.ErrCodeNotFound {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	defs, err := s.storage.ListObjectDefinitions(r.Context(), enabledOnly)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"objects": defs, "count": len(defs)})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.storage.LoadSyncConfig(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.SyncConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest,
			utils.NewAppError(utils.ErrCodeValidation, "Invalid sync config payload", err.Error()))
		return
	}
	if cfg.MaxRetries < 1 || cfg.MaxRetries > 100 || cfg.BatchSize < 1 || cfg.DedupWindow < 0 {
		s.writeError(w, http.StatusBadRequest,
			utils.NewAppError(utils.ErrCodeValidation, "Invalid sync config values", ""))
		return
	}

	if err := s.storage.SaveSyncConfig(r.Context(), &cfg); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &cfg)
}

func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := &models.SyncLogFilter{
		ObjectAPIName: query.Get("object"),
		RecordID:      query.Get("record_id"),
		TriggerSource: models.TriggerSource(query.Get("trigger")),
		Direction:     query.Get("direction"),
		Status:        query.Get("status"),
		Limit:         100,
	}
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit <= 1000 {
			filter.Limit = limit
		}
	}
	if raw := query.Get("since"); raw != "" {
		if since, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.Since = since
		}
	}

	entries, err := s.syncLog.Query(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries, "count": len(entries)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			window = parsed
		}
	}

	stats, err := s.syncLog.Statistics(r.Context(), window)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// --- response helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithFields(logrus.Fields{"error": err.Error()}).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  utils.ErrorCode(err),
	})
}
