package offline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	net := newCountingFetcher(map[string]string{"/": "cached shell"})
	m := NewManager(NewMemCacheStore(nil, nil), net, Manifest{Generation: "v1", URLs: []string{"/"}}, nil)

	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "live shell") })
	r.POST("/", func(c *gin.Context) { c.String(http.StatusOK, "posted") })
	r.GET("/game-progress", func(c *gin.Context) { c.String(http.StatusOK, "live data") })

	get := func(method, url string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(method, url, nil)
		r.ServeHTTP(w, req)
		return w
	}

	// Nothing active yet: the handler answers.
	if w := get(http.MethodGet, "/"); w.Body.String() != "live shell" || w.Header().Get(CacheHeader) != "" {
		t.Fatalf("Expected live response before activation, got %q", w.Body.String())
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	w := get(http.MethodGet, "/")
	if w.Code != http.StatusOK || w.Body.String() != "cached shell" {
		t.Errorf("Expected cached shell, got %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get(CacheHeader) != "v1" {
		t.Errorf("Expected %s=v1, got %q", CacheHeader, w.Header().Get(CacheHeader))
	}
	if w.Header().Get("Content-Type") != "text/plain" {
		t.Errorf("cached header not replayed: %q", w.Header().Get("Content-Type"))
	}

	if w := get(http.MethodPost, "/"); w.Body.String() != "posted" {
		t.Errorf("POST must bypass the cache, got %q", w.Body.String())
	}
	if w := get(http.MethodGet, "/game-progress"); w.Body.String() != "live data" || w.Header().Get(CacheHeader) != "" {
		t.Errorf("uncached URL must reach the handler, got %q", w.Body.String())
	}
}

func TestMiddleware_RegistersClients(t *testing.T) {
	gin.SetMode(gin.TestMode)

	net := newCountingFetcher(map[string]string{"/": "shell"})
	m := NewManager(NewMemCacheStore(nil, nil), net, Manifest{Generation: "v7", URLs: []string{"/"}}, nil)

	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(ClientHeader, "tab-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get(ControllerHeader) != "" {
		t.Fatalf("no controller expected before activation")
	}

	m.Start(context.Background())
	if controller, _ := m.Controller("tab-1"); controller != "v7" {
		t.Fatalf("Expected registered client to be claimed, got %q", controller)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get(ControllerHeader) != "v7" {
		t.Errorf("Expected controller v7, got %q", w.Header().Get(ControllerHeader))
	}
}
