package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fridayops/friday/pkg/artifacts"
	"github.com/fridayops/friday/pkg/config"
	"github.com/fridayops/friday/pkg/ingest"
	"github.com/fridayops/friday/pkg/rag"
	"github.com/fridayops/friday/pkg/store"
	"github.com/fridayops/friday/pkg/vector"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log         logrus.FieldLogger
	cfg         *config.Config
	store       store.Store
	vector      vector.Store
	coordinator *ingest.Coordinator
	rag         *rag.Service
	presigner   *artifacts.Presigner
	localServer *artifacts.LocalServer
	httpServer  *http.Server
	wg          sync.WaitGroup
	done        chan struct{}
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Start initializes both stores and the query service, then starts the
// HTTP server. An unreachable relational database is fatal and prevents
// service start.
func (s *server) Start(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	var llm rag.LLM

	if s.cfg.Vector.Enabled {
		embedder, err := vector.NewOllamaEmbedder(&s.cfg.Embedding)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}

		s.vector = vector.NewStore(s.log, &s.cfg.Vector, embedder)

		if err := s.vector.Start(ctx); err != nil {
			return fmt.Errorf("starting vector store: %w", err)
		}

		llm, err = rag.NewOllamaLLM(&s.cfg.LLM)
		if err != nil {
			return fmt.Errorf("creating llm client: %w", err)
		}
	} else {
		s.log.Warn("Vector store disabled, ingestion is relational-only " +
			"and queries return synthetic answers")
	}

	s.coordinator = ingest.NewCoordinator(
		s.log, s.store, s.vector, s.cfg.Ingest.Concurrency,
	)

	var retriever rag.Retriever
	if s.vector != nil {
		retriever = s.vector
	}

	s.rag = rag.NewService(
		s.log, retriever, llm,
		s.cfg.LLM.QueryLimit, s.cfg.LLM.MaxSources, s.cfg.LLMTimeout(),
	)

	// Artifact backends.
	if s.cfg.Artifacts.S3 != nil && s.cfg.Artifacts.S3.Enabled {
		presigner, err := artifacts.NewPresigner(s.log, s.cfg.Artifacts.S3)
		if err != nil {
			return fmt.Errorf("initializing artifacts presigner: %w", err)
		}

		s.presigner = presigner

		s.log.Info("S3 artifact serving enabled")
	}

	if s.cfg.Artifacts.Local != nil && s.cfg.Artifacts.Local.Enabled {
		s.localServer = artifacts.NewLocalServer(s.log, s.cfg.Artifacts.Local)

		s.log.Info("Local artifact serving enabled")
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes both stores.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.vector != nil {
		if err := s.vector.Stop(); err != nil {
			s.log.WithError(err).Warn("Vector store stop error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
