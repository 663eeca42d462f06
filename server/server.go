// Package server exposes the question-answering pipeline over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/pipeline"
	"go.uber.org/zap"
)

const WelcomeMessage = "Welcome to the HackRx Query-Retrieval System API. Head to /docs for the API documentation."

// Runner answers questions about a document.
type Runner interface {
	Run(ctx context.Context, url string, questions []string) ([]models.Answer, error)
}

type RunRequest struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

type RunResponse struct {
	Answers []string `json:"answers"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type Server struct {
	runner Runner
	config config.ServerConfig
	auth   config.AuthConfig
	logger *zap.Logger
	server *http.Server
}

func New(runner Runner, serverConfig config.ServerConfig, auth config.AuthConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		runner: runner,
		config: serverConfig,
		auth:   auth,
		logger: logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		if s.auth.Enabled {
			r.Use(s.bearerAuth)
		}
		r.Post("/hackrx/run", s.handleRun)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down server")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return <-errCh
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"message": WelcomeMessage})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateRunRequest(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Debug("run request",
		zap.String("documents", req.Documents),
		zap.Int("questions", len(req.Questions)))

	answers, err := s.runner.Run(r.Context(), req.Documents, req.Questions)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrDocumentUnavailable) {
			status = http.StatusBadRequest
		}
		s.logger.Error("run failed",
			zap.String("documents", req.Documents),
			zap.Int("status", status),
			zap.Error(err))
		s.respondError(w, status, err.Error())
		return
	}

	resp := RunResponse{Answers: make([]string, len(answers))}
	for i, a := range answers {
		resp.Answers[i] = a.Answer
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func validateRunRequest(req RunRequest) error {
	if req.Documents == "" {
		return errors.New("documents is required")
	}
	u, err := url.Parse(req.Documents)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("documents must be an http or https URL")
	}
	return nil
}

func (s *Server) bearerAuth(next http.Handler) http.Handler {
	want := []byte(s.auth.BearerToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.respondError(w, http.StatusUnauthorized, "Invalid or missing authentication token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, detail string) {
	s.respondJSON(w, status, errorResponse{Detail: detail})
}
