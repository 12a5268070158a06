// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/toxicity-log-service/internal/auth"
	"github.com/smartdevs17/toxicity-log-service/internal/metrics"
	"github.com/smartdevs17/toxicity-log-service/internal/storage"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
	MaxBodyBytes  int64         `json:"max_body_bytes"`
	Version       string        `json:"version"`
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	gate           *auth.Gate
	metricsManager *metrics.Manager
	logger         *logrus.Logger
	templates      *template.Template

	stopUpdater chan struct{}
	stopOnce    sync.Once
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	config *ServerConfig,
	storage storage.Storage,
	gate *auth.Gate,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {
	if storage == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Storage is required", "")
	}
	if gate == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Admin gate is required", "")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	server := &HTTPServer{
		config:         config,
		storage:        storage,
		gate:           gate,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		templates:      tmpl,
		stopUpdater:    make(chan struct{}),
	}

	// Setup router
	server.setupRouter()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// Handler returns the root HTTP handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()
	s.router.NotFoundHandler = http.HandlerFunc(s.notFoundHandler)

	// Middleware
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	s.router.HandleFunc("/", s.homeHandler).Methods(http.MethodGet)

	// Health check endpoint
	if s.config.EnableHealth {
		s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	}

	// Metrics endpoint
	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler()).Methods(http.MethodGet)
	}

	// Ingestion from the classifier
	s.router.HandleFunc("/log", s.ingestHandler).Methods(http.MethodPost)

	// Admin routes
	admin := s.router.NewRoute().Subrouter()
	admin.Use(s.gate.Middleware)
	admin.HandleFunc("/logs", s.logsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/logs", s.logsFormHandler).Methods(http.MethodPost)
	admin.HandleFunc("/logs/stats", s.statsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/delete/{id}", s.deleteHandler).Methods(http.MethodGet)
	admin.HandleFunc("/delete_all", s.deleteAllHandler).Methods(http.MethodGet)
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
		"admin_enabled":   s.gate.Enabled(),
	}).Info("Starting HTTP server")

	// Update system and component metrics so they appear on first scrape
	if s.metricsManager != nil {
		s.updateMetrics()
		go s.systemMetricsUpdater()
	}

	// Create a channel to receive startup errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (s *HTTPServer) updateMetrics() {
	s.metricsManager.UpdateSystemMetrics()
	health := s.storage.GetHealth()
	s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("storage", health.Healthy)
}

// systemMetricsUpdater updates system metrics periodically until Stop
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateMetrics()
		case <-s.stopUpdater:
			return
		}
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	s.stopOnce.Do(func() { close(s.stopUpdater) })

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response. Details of validation errors are
// returned to the caller; store and internal causes are only logged.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		if appErr, ok := asAppError(err); ok && appErr.Code == utils.ErrCodeValidation {
			errorResponse["details"] = appErr.Details
		}
		entry := s.requestLogger(r).WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err.Error(),
		})
		if status >= http.StatusInternalServerError {
			entry.Error("HTTP error")
		} else {
			entry.Warn("HTTP error")
		}
	}

	s.writeJSON(w, status, errorResponse)
}
