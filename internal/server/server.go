package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/franckalain/snapnourish/internal/events"
	"github.com/franckalain/snapnourish/internal/models"
)

const (
	maxEventBody   = 1 << 20
	maxAnalyzeBody = 64 << 10
)

// Analyzer runs the analysis pipeline for one request
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResponse, error)
}

// Records reads stored analyses
type Records interface {
	GetAnalysis(ctx context.Context, userID, id string) (*models.PersistedRecord, error)
	ListAnalyses(ctx context.Context, userID string, limit int) ([]*models.PersistedRecord, error)
}

// EventDispatcher handles storage upload notifications
type EventDispatcher interface {
	Dispatch(ctx context.Context, source string, body []byte) (*models.AnalysisResponse, error)
}

type Server struct {
	analyzer       Analyzer
	records        Records
	events         EventDispatcher
	clients        sync.Map
	allowedOrigins []string
	debug          bool
	upgrader       websocket.Upgrader
	httpServer     *http.Server
}

func New(analyzer Analyzer, records Records, dispatcher EventDispatcher, allowedOrigins []string, debug bool) *Server {
	s := &Server{
		analyzer:       analyzer,
		records:        records,
		events:         dispatcher,
		allowedOrigins: allowedOrigins,
		debug:          debug,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP routes of the service
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if s.debug {
		r.Use(requestLogger)
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Post("/ai-analysis/analyze", s.wrap("Failed to analyze image", s.handleAnalyze))
	r.Post("/events/storage", s.wrap("Failed to process storage event", s.handleStorageEvent))

	r.Route("/users/{userId}/nutrition", func(rt chi.Router) {
		rt.Get("/", s.wrap("Failed to load nutrition history", s.handleList))
		rt.Get("/latest", s.wrap("Failed to load nutrition history", s.handleLatest))
		rt.Get("/{id}", s.wrap("Failed to load analysis", s.handleGet))
	})

	return r
}

// Start serves on port until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port string) error {
	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting server on port %s", port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.clients.Range(func(_, conn any) bool {
		conn.(*websocket.Conn).Close()
		return true
	})
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) origins() []string {
	if len(s.allowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.allowedOrigins
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins() {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// wrap maps handler errors onto status codes. Server errors carry prefix.
func (s *Server) wrap(prefix string, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		status := statusFor(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = fmt.Sprintf("%s: %v", prefix, err)
			log.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"request_id": middleware.GetReqID(r.Context()),
			}).WithError(err).Error(prefix)
		}
		writeJSON(w, status, errorResponse{StatusCode: status, Message: msg})
	}
}

func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

// POST /ai-analysis/analyze
// Body: {"userId": "...", "imageUrl": "..."}
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) error {
	var req models.AnalysisRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBody)).Decode(&req); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err)
	}

	resp, err := s.analyzer.Analyze(r.Context(), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// POST /events/storage
// Body: {"bucket": "...", "name": "..."} or a Pub/Sub push envelope
func (s *Server) handleStorageEvent(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		return fmt.Errorf("%w: reading event body: %v", models.ErrValidation, err)
	}

	resp, err := s.events.Dispatch(r.Context(), "http", body)
	if errors.Is(err, events.ErrIgnored) {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// GET /users/{userId}/nutrition?limit=20
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) error {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: invalid limit %q", models.ErrValidation, v)
		}
		limit = n
	}

	list, err := s.records.ListAnalyses(r.Context(), chi.URLParam(r, "userId"), limit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /users/{userId}/nutrition/latest
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) error {
	userID := chi.URLParam(r, "userId")
	list, err := s.records.ListAnalyses(r.Context(), userID, 1)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return fmt.Errorf("%w: no analyses for user %s", models.ErrNotFound, userID)
	}
	writeJSON(w, http.StatusOK, list[0])
	return nil
}

// GET /users/{userId}/nutrition/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) error {
	rec, err := s.records.GetAnalysis(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	s.clients.Store(clientID, conn)
	defer s.clients.Delete(clientID)
	log.WithField("client_id", clientID).Debug("websocket client connected")

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.sendError(conn, "Invalid message format")
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithField("client_id", clientID).WithError(err).Debug("websocket read ended")
			}
			return
		}
		s.handleWebSocketMessage(r.Context(), conn, msg)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(started).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
