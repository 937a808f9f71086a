package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aulakube/classdb"
)

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitManagerError    = 2
	ExitHTTPServerError = 3
)

// classManager is the slice of classdb.Manager the handlers use. Narrowing
// it to an interface lets tests substitute a fake.
type classManager interface {
	Deploy(ctx context.Context, req classdb.DeployRequest) ([]classdb.PortAssignment, error)
	Destroy(ctx context.Context, req classdb.DestroyRequest) error
	Status(ctx context.Context, namespace string) ([]classdb.ClassStatus, error)
	Kinds() []string
}

// Server hosts the classdb HTTP API.
type Server struct {
	config     *Config
	manager    classManager
	closer     func() error
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the manager from config and wires it into an HTTP
// server.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	opts := []classdb.Option{
		classdb.WithRegistryLocation(cfg.Registry.Namespace, cfg.Registry.Name),
		classdb.WithEntrypoint(cfg.Entrypoint.Namespace, cfg.Entrypoint.Service),
		classdb.WithDatabaseKind(classdb.KindMySQL, cfg.Charts.MySQL, classdb.PortRange{
			Internal: classdb.MySQLInternalPort,
			Start:    classdb.MySQLRangeStart,
			End:      classdb.MySQLRangeEnd,
		}),
		classdb.WithDatabaseKind(classdb.KindMongo, cfg.Charts.Mongo, classdb.PortRange{
			Internal: classdb.MongoInternalPort,
			Start:    classdb.MongoRangeStart,
			End:      classdb.MongoRangeEnd,
		}),
		classdb.WithInstallTimeout(cfg.Timeouts.Install),
		classdb.WithUninstallTimeout(cfg.Timeouts.Uninstall),
		classdb.WithRegistryTimeout(cfg.Timeouts.Registry),
		classdb.WithReconcileTimeout(cfg.Timeouts.Reconcile),
	}
	if cfg.Kube.Kubeconfig != "" {
		opts = append(opts, classdb.WithKubeconfig(cfg.Kube.Kubeconfig))
	}
	if cfg.Registry.LockFile != "" {
		opts = append(opts, classdb.WithLockFile(cfg.Registry.LockFile))
	}
	if cfg.Audit.Path != "" {
		opts = append(opts, classdb.WithAuditJournal(cfg.Audit.Path))
	}

	mgr, err := classdb.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create manager: %w", err)
	}

	return &Server{
		config:  cfg,
		manager: mgr,
		closer:  mgr.Close,
		logger:  logger,
	}, nil
}

// Start runs the HTTP server until SIGINT or SIGTERM, then shuts down
// gracefully within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Server.Address(),
		Handler:      s.routes(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		s.logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("shutting down", "reason", ctx.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if s.closer != nil {
		if err := s.closer(); err != nil {
			s.logger.Warn("closing manager", "error", err)
		}
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(jsonContentType)

	r.Get("/health", s.handleHealth)
	r.Post("/deploy", s.handleDeploy)
	r.Delete("/destroy", s.handleDestroy)
	r.Get("/classes", s.handleClasses)

	return r
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// classRequest is the wire form of deploy and destroy requests. Field names
// follow the client the API grew up with.
type classRequest struct {
	DBType      string `json:"db_type"`
	ClassName   string `json:"class_name"`
	NumStudents int    `json:"num_students"`
	Namespace   string `json:"namespace"`
}

type portMapping struct {
	StudentName     string `json:"student_name"`
	ExternalPort    int32  `json:"external_port"`
	InternalService string `json:"internal_service"`
}

type deployResponse struct {
	Message      string        `json:"message"`
	ReleaseName  string        `json:"release_name"`
	PortMappings []portMapping `json:"port_mappings"`
}

type destroyResponse struct {
	Message     string `json:"message"`
	ReleaseName string `json:"release_name"`
}

type classResponse struct {
	ReleaseName  string        `json:"release_name"`
	Namespace    string        `json:"namespace"`
	Chart        string        `json:"chart"`
	Status       string        `json:"status"`
	Updated      time.Time     `json:"updated"`
	PortMappings []portMapping `json:"port_mappings"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Partial is true when cluster state was partially updated and the
	// request can be retried to converge.
	Partial bool `json:"partial,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"kinds":  s.manager.Kinds(),
	})
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req classRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", "bad_request")
		return
	}

	log := s.logger.With("kind", req.DBType, "class", req.ClassName, "students", req.NumStudents)
	log.Info("deploy requested")

	assignments, err := s.manager.Deploy(r.Context(), classdb.DeployRequest{
		Kind:      req.DBType,
		ClassName: req.ClassName,
		Students:  req.NumStudents,
		Namespace: req.Namespace,
	})
	if err != nil {
		log.Error("deploy failed", "error", err)
		s.writeManagerError(w, err)
		return
	}

	log.Info("deploy succeeded", "assignments", len(assignments))
	s.writeJSON(w, http.StatusOK, deployResponse{
		Message:      fmt.Sprintf("class %q deployed with %d instances", req.ClassName, req.NumStudents),
		ReleaseName:  req.ClassName,
		PortMappings: toPortMappings(assignments),
	})
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	var req classRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", "bad_request")
		return
	}

	log := s.logger.With("kind", req.DBType, "class", req.ClassName)
	log.Info("destroy requested")

	err := s.manager.Destroy(r.Context(), classdb.DestroyRequest{
		Kind:      req.DBType,
		ClassName: req.ClassName,
		Students:  req.NumStudents,
		Namespace: req.Namespace,
	})
	if err != nil {
		log.Error("destroy failed", "error", err)
		s.writeManagerError(w, err)
		return
	}

	log.Info("destroy succeeded")
	s.writeJSON(w, http.StatusOK, destroyResponse{
		Message:     fmt.Sprintf("class %q removed", req.ClassName),
		ReleaseName: req.ClassName,
	})
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")

	statuses, err := s.manager.Status(r.Context(), namespace)
	if err != nil {
		s.logger.Error("status failed", "namespace", namespace, "error", err)
		s.writeManagerError(w, err)
		return
	}

	out := make([]classResponse, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, classResponse{
			ReleaseName:  st.Release.Name,
			Namespace:    st.Release.Namespace,
			Chart:        st.Release.Chart,
			Status:       st.Release.Status,
			Updated:      st.Release.Updated,
			PortMappings: toPortMappings(st.Assignments),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// writeManagerError maps the manager's error taxonomy onto HTTP statuses.
// Partial failures report 502 so clients know cluster state moved and the
// request should be retried rather than treated as rejected.
func (s *Server) writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, classdb.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error(), "validation")
	case errors.Is(err, classdb.ErrUnknownKind):
		s.writeError(w, http.StatusBadRequest, err.Error(), "unknown_kind")
	case errors.Is(err, classdb.ErrPartialFailure):
		code := "partial_failure"
		status := http.StatusBadGateway
		if errors.Is(err, classdb.ErrRangeExhausted) {
			code = "range_exhausted"
			status = http.StatusConflict
		}
		s.writeJSON(w, status, errorResponse{Error: err.Error(), Code: code, Partial: true})
	case errors.Is(err, classdb.ErrRangeExhausted):
		s.writeError(w, http.StatusConflict, err.Error(), "range_exhausted")
	case errors.Is(err, classdb.ErrRuntime):
		s.writeError(w, http.StatusBadGateway, err.Error(), "runtime")
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error(), "internal")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, code string) {
	s.writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func toPortMappings(in []classdb.PortAssignment) []portMapping {
	out := make([]portMapping, 0, len(in))
	for _, a := range in {
		out = append(out, portMapping{
			StudentName:     a.StudentName,
			ExternalPort:    a.ExternalPort,
			InternalService: a.Target,
		})
	}
	return out
}
