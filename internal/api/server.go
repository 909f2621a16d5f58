package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"convertd/internal/config"
	"convertd/internal/conversion"
	"convertd/internal/logging"
	"convertd/internal/notifications"
	"convertd/internal/objectstore"
	"convertd/internal/queue"
	"convertd/internal/records"
	"convertd/internal/scheduling"
)

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Config    *config.Config
	Records   *records.Store
	Queue     queue.Queue
	Objects   objectstore.Store
	Submitter *conversion.Submitter
	Schedules *scheduling.Manager
	Notifier  *notifications.Enqueuer
	Logger    *slog.Logger
	// Now overrides the clock used for expiry stamps and digests.
	Now func() time.Time
}

// Server routes HTTP requests to the record store and queue.
type Server struct {
	deps     Deps
	queueSvc *QueueService
	validate *validator.Validate
	logger   *slog.Logger
	local    *objectstore.Local
	now      func() time.Time

	router   chi.Router
	listener net.Listener
	server   *http.Server
}

// New builds the router.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Records == nil || deps.Queue == nil || deps.Objects == nil || deps.Submitter == nil || deps.Schedules == nil {
		return nil, errors.New("api requires config, records, queue, objects, submitter and schedules")
	}
	s := &Server{
		deps:     deps,
		queueSvc: NewQueueService(deps.Queue),
		validate: newValidator(),
		logger:   logging.NewComponentLogger(deps.Logger, "api"),
		now:      deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.deps.Notifier == nil {
		s.deps.Notifier = notifications.NewEnqueuer(deps.Queue, deps.Config.Workers.NotificationMaxAttempts)
	}
	if local, ok := deps.Objects.(*objectstore.Local); ok {
		s.local = local
	}
	s.router = s.routes()
	return s, nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	if origins := s.deps.Config.API.CORSOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", accountHeader},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	if s.local != nil {
		r.Get("/objects/*", s.handleObjectGet)
		r.Put("/objects/*", s.handleObjectPut)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(s.deps.Config.API.Token))
		r.Use(accountMiddleware)

		r.Post("/files", s.handleCreateFile)
		r.Get("/files", s.handleListFiles)
		r.Get("/files/{id}/upload-url", s.handleUploadURL)

		r.Post("/conversions", s.handleCreateConversion)
		r.Get("/conversions", s.handleListConversions)
		r.Get("/conversions/{id}", s.handleGetConversion)
		r.Post("/conversions/{id}/cancel", s.handleCancelConversion)

		r.Post("/schedules", s.handleCreateSchedule)
		r.Get("/schedules", s.handleListSchedules)
		r.Delete("/schedules/{id}", s.handleDeleteSchedule)
		r.Post("/schedules/{id}/pause", s.handlePauseSchedule)
		r.Post("/schedules/{id}/resume", s.handleResumeSchedule)

		r.Get("/notifications", s.handleListNotifications)
		r.Post("/notifications/{id}/read", s.handleReadNotification)

		r.Get("/queue/stats", s.handleQueueStats)
		r.Get("/queue/dead", s.handleQueueDead)

		r.Post("/digest", s.handleDigest)
	})
	return r
}

// Start listens on the configured bind address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.deps.Config.API.Bind)
	if bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	}
}

// Addr reports the bound address once Start is listening.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Records.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
