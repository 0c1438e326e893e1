// Package server is the HTTP boundary of testmaster: the executor contract used by the
// original web front end, the session API, the websocket push channel and metrics.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/testmaster/testmaster/internal/journal"
	"github.com/testmaster/testmaster/internal/logging"
	"github.com/testmaster/testmaster/internal/metrics"
	"github.com/testmaster/testmaster/internal/runner"
	"github.com/testmaster/testmaster/internal/script"
	"github.com/testmaster/testmaster/internal/session"
	"github.com/testmaster/testmaster/internal/store"
	"github.com/testmaster/testmaster/internal/stream"
)

// Options wires a Server. Store, Scripts and Port are required; Journal, Logger and
// Metrics may be nil. An empty Token is generated.
type Options struct {
	Store     store.Store
	Scripts   *script.Registry
	Journal   *journal.Journal
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	UnitMode  session.UnitMode
	Port      int
	Token     string
	TokenFile string
}

type Server struct {
	store     store.Store
	scripts   *script.Registry
	session   *session.Session
	runner    *runner.Runner
	broker    *Broker
	hub       *stream.Hub
	metrics   *metrics.Metrics
	logger    *logging.Logger
	port      int
	token     string
	tokenFile string
	router    *mux.Router
	startTime time.Time
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	token := opts.Token
	if token == "" {
		token = generateToken()
	}

	hub := stream.NewHub(logger, opts.Metrics)

	// the session drives the runner through the backend while the runner reports back
	// through the broker, so the broker gets its session after both exist
	broker := NewBroker(opts.Store, opts.Journal, hub, nil, logger)
	r := runner.New(opts.Scripts, broker, logger, opts.Metrics)
	sess := session.New(NewLocalBackend(opts.Scripts, r), session.Options{
		Logger:   logger,
		Metrics:  opts.Metrics,
		UnitMode: opts.UnitMode,
	})
	broker.session = sess

	srv := &Server{
		store:     opts.Store,
		scripts:   opts.Scripts,
		session:   sess,
		runner:    r,
		broker:    broker,
		hub:       hub,
		metrics:   opts.Metrics,
		logger:    logger.WithComponent("server"),
		port:      opts.Port,
		token:     token,
		tokenFile: opts.TokenFile,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	r := s.router

	// Executor contract
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/scripts", s.handleScripts).Methods(http.MethodGet)
	r.HandleFunc("/script_tests", s.handleScriptTests).Methods(http.MethodPost)
	r.Handle("/start", s.authMiddleware(http.HandlerFunc(s.handleStart))).Methods(http.MethodPost)
	r.Handle("/stop", s.authMiddleware(http.HandlerFunc(s.handleStop))).Methods(http.MethodPost)
	r.HandleFunc("/results/upload", s.handleUpload).Methods(http.MethodPost)
	r.Handle("/ws", s.hub)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// Session API
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", s.handleSessionState).Methods(http.MethodGet)
	api.HandleFunc("/session/results", s.handleSessionResults).Methods(http.MethodGet)
	api.HandleFunc("/session/summary", s.handleSessionSummary).Methods(http.MethodGet)
	api.HandleFunc("/session/failures", s.handleSessionFailures).Methods(http.MethodGet)
	api.Handle("/session/load", s.authMiddleware(http.HandlerFunc(s.handleSessionLoad))).Methods(http.MethodPost)
	api.Handle("/session/toggle", s.authMiddleware(http.HandlerFunc(s.handleSessionToggle))).Methods(http.MethodPost)
	api.Handle("/session/units", s.authMiddleware(http.HandlerFunc(s.handleSessionUnits))).Methods(http.MethodPut)
	api.Handle("/session/details", s.authMiddleware(http.HandlerFunc(s.handleSessionDetails))).Methods(http.MethodPut)
	api.Handle("/session/tab", s.authMiddleware(http.HandlerFunc(s.handleSessionTab))).Methods(http.MethodPut)
	api.Handle("/session/start", s.authMiddleware(http.HandlerFunc(s.handleSessionStart))).Methods(http.MethodPost)
	api.Handle("/session/stop", s.authMiddleware(http.HandlerFunc(s.handleSessionStop))).Methods(http.MethodPost)

	// Stored runs
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/export", s.handleExportRun).Methods(http.MethodGet)
	api.Handle("/runs/{id}", s.authMiddleware(http.HandlerFunc(s.handleDeleteRun))).Methods(http.MethodDelete)
}

// Restore replays the journal of the last run into the live session.
func (s *Server) Restore(ctx context.Context) error {
	return s.broker.Restore(ctx)
}

// Start serves until ctx is done, printing the startup banner.
func (s *Server) Start(ctx context.Context) error {
	return s.StartWithOptions(ctx, true)
}

// StartQuiet serves until ctx is done without printing startup messages.
func (s *Server) StartQuiet(ctx context.Context) error {
	return s.StartWithOptions(ctx, false)
}

func (s *Server) StartWithOptions(ctx context.Context, printMessages bool) error {
	// Write token to file for the token command and remote clients
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.logger.Warn("failed to write token file", "path", s.tokenFile, "err", err)
		}
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if printMessages {
		fmt.Println()
		fmt.Printf("testmaster running on http://localhost:%d\n", s.port)
		fmt.Printf("Session API token: %s\n", s.token)
		fmt.Println()
		fmt.Println("Press Ctrl+C to stop")
	}
	s.logger.Info("listening", "port", s.port)

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close(shutdownCtx)
	return httpSrv.Shutdown(shutdownCtx)
}

// Close stops any active run and disconnects push clients.
func (s *Server) Close(ctx context.Context) {
	if err := s.runner.Stop(ctx); err != nil {
		s.logger.Warn("failed to stop run", "err", err)
	}
	s.hub.Close()
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Session() *session.Session {
	return s.session
}

func (s *Server) Runner() *runner.Runner {
	return s.runner
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
