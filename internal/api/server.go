package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docsearch/internal/domain/rag"
	applog "docsearch/internal/platform/log"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// DefaultTopK applies when a search omits top_k.
	DefaultTopK int
	// MaxUploadBytes caps request bodies of uploads; 0 means unlimited.
	MaxUploadBytes int64
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // OCR of large scans is slow
		DefaultTopK:  5,
	}
}

// Engine is the document core the handlers drive. *rag.Engine implements it.
type Engine interface {
	Ingest(ctx context.Context, data []byte, kind rag.MediaKind) (*rag.Document, error)
	Submit(ctx context.Context, data []byte, kind rag.MediaKind) (*rag.Document, error)
	Retry(ctx context.Context, id string) (*rag.Document, error)
	CancelIngest(id string) bool
	Delete(ctx context.Context, id string) error
	Document(id string) (*rag.Document, error)
	Documents() []rag.Document
	Search(ctx context.Context, req rag.SearchRequest) (*rag.SearchResult, error)
	Health(ctx context.Context) rag.Health
	IndexStats() rag.IndexStats
	Rebuild(ctx context.Context) (*rag.RebuildReport, error)
	SupportedKinds() []rag.MediaKind
}

var _ Engine = (*rag.Engine)(nil)

// Server is the HTTP front of the engine.
type Server struct {
	config  *ServerConfig
	engine  Engine
	httpSrv *http.Server
}

func NewServer(config *ServerConfig, engine Engine) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{config: config, engine: engine}
}

// Start serves until Stop is called. It returns http.ErrServerClosed after
// a graceful stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Info("[API] Server starting", "addr", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler returns the router; tests use it directly.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	h := NewDocumentHandler(s.engine, s.config.DefaultTopK, s.config.MaxUploadBytes)
	h.RegisterRoutes(r)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
