package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mohametBa/UniversMurid-sub001/internal/api"
	"github.com/mohametBa/UniversMurid-sub001/internal/offline"
)

// apiPrefixes never fall back to the application shell.
var apiPrefixes = []string{"/game-progress", "/game-stats", "/offline", "/healthz"}

type Router struct {
	engine *gin.Engine
	cert   *tls.Certificate

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
	stopped  bool
}

// NewRouter wires the progress API, the offline cache middleware and the
// application shell. shell may be nil when no UI is served.
func NewRouter(h *api.Handler, shell fs.FS) *Router {
	r := gin.Default()

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-User-ID, X-Client-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	if h.Offline != nil {
		r.Use(offline.Middleware(h.Offline))
	}

	r.GET("/healthz", h.Health)
	r.POST("/game-progress", h.SaveProgress)
	r.GET("/game-progress", h.LoadProgress)
	stats := r.Group("/game-stats")
	{
		stats.GET("/history", h.GetHistory)
		stats.GET("/achievements", h.GetAchievements)
	}
	r.GET("/offline/manifest", h.GetManifest)

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, prefix := range apiPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.JSON(http.StatusNotFound, gin.H{"error": "API route not found"})
				return
			}
		}
		if shell == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		file, err := shell.Open(strings.TrimPrefix(path, "/"))
		if err == nil {
			file.Close()
			http.FileServer(http.FS(shell)).ServeHTTP(c.Writer, c.Request)
			return
		}
		c.FileFromFS("/", http.FS(shell))
	})

	return &Router{engine: r}
}

// Handler exposes the gin engine, mainly for tests.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Addr returns the bound address once Listen is running.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Listen serves HTTP (or HTTPS with a certificate) on addr until Stop.
func (r *Router) Listen(addr string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}, MinVersion: tls.VersionTLS12}
		listener, err = tls.Listen("tcp", addr, config)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           r.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return listener.Close()
	}
	r.listener = listener
	r.srv = srv
	r.mu.Unlock()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	srv := r.srv
	r.stopped = true
	r.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
