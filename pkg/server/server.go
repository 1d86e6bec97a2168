// Package server exposes a configuration store read-only over HTTP.
//
//	GET /health           liveness probe
//	GET /keys             sorted keys of the store
//	GET /values/:key      resolved value of one key, 404 when it has no value
//	GET /subsets/:prefix  resolved entries of a subset, keys relative to the prefix
//
// Requests read the store under a read lock. Replace and Update take the write lock, so
// the store can be reloaded or modified while the server is running.
package server

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/animalet/sargantana-cfg/pkg/config"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultShutdownTimeout = 10 * time.Second

// contentSecurityPolicy allows nothing: responses are JSON only.
const contentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"

// Server serves one root store.
type Server struct {
	config config.ServerConfig

	// mu guards store and listener
	mu         sync.RWMutex
	store      *cfg.Store
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	done       chan error
}

// NewServer creates a server for the store. A nil store serves an empty one.
func NewServer(c config.ServerConfig, store *cfg.Store) *Server {
	if store == nil {
		store = cfg.New()
	}
	s := &Server{config: c, store: store}
	s.engine = s.newEngine()
	return s
}

func (s *Server) newEngine() *gin.Engine {
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if gin.IsDebugging() {
		engine.Use(bodyLogMiddleware, gin.ErrorLogger())
	} else {
		// SetTrustedProxies(nil) never fails
		_ = engine.SetTrustedProxies(nil)
		engine.Use(gin.ErrorLoggerT(gin.ErrorTypePrivate))
	}
	engine.Use(
		gin.Recovery(),
		secure.New(secure.Config{
			FrameDeny:             true,
			ContentTypeNosniff:    true,
			BrowserXssFilter:      true,
			ContentSecurityPolicy: contentSecurityPolicy,
			ReferrerPolicy:        "no-referrer",
			IENoOpen:              true,
		}),
	)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/keys", s.keys)
	engine.GET("/values/:key", s.value)
	engine.GET("/subsets/:prefix", s.subset)
	return engine
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Replace swaps the served store. A nil store serves an empty one.
func (s *Server) Replace(store *cfg.Store) {
	if store == nil {
		store = cfg.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	log.Info().Int("keys", len(store.Keys())).Msg("Configuration store replaced")
}

// Update runs fn with exclusive access to the served store.
func (s *Server) Update(fn func(store *cfg.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.store)
}

func (s *Server) keys(c *gin.Context) {
	s.mu.RLock()
	keys := s.store.Keys()
	s.mu.RUnlock()
	c.JSON(http.StatusOK, keys)
}

func (s *Server) value(c *gin.Context) {
	key := c.Param("key")
	s.mu.RLock()
	value, err := s.store.GetString(key)
	s.mu.RUnlock()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

func (s *Server) subset(c *gin.Context) {
	s.mu.RLock()
	values, err := s.store.Subset(c.Param("prefix")).ToMap()
	s.mu.RUnlock()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, values)
}

// abortWithError maps the store errors to HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, cfg.ErrMissingKey):
		status = http.StatusNotFound
	case errors.Is(err, cfg.ErrUnresolvedSubstitution), errors.Is(err, cfg.ErrCircularSubstitution):
		status = http.StatusUnprocessableEntity
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// Start listens on the configured address and serves requests in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.config.Address)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan error, 1)

	log.Info().Msgf("Starting server on %s", listener.Addr())
	go func() {
		err := s.httpServer.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return nil
}

// Addr returns the address the server listens on, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run starts the server and blocks until ctx is done or serving fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown requested")
	case err := <-s.done:
		if err != nil {
			return errors.Wrap(err, "server stopped")
		}
		return nil
	}
	return s.Shutdown()
}

// Shutdown gracefully shuts down the server, waiting for active requests to complete.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	log.Info().Msg("Shutting down server...")

	timeout := s.config.ShutdownTimeout
	if timeout == 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "forced shutdown")
	}
	if err := <-s.done; err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func bodyLogMiddleware(c *gin.Context) {
	blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
	c.Writer = blw
	c.Next()
	log.Debug().Msgf("Response body: %s", blw.body.String())
}
