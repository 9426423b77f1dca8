package offline

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// CacheHeader names the generation that answered a request from cache.
	CacheHeader = "X-Offline-Cache"
	// ClientHeader carries an opaque id for the page or tab making the request.
	ClientHeader = "X-Client-ID"
	// ControllerHeader reports the generation controlling the requesting client.
	ControllerHeader = "X-Offline-Controller"
)

// Middleware answers GET requests for URLs held in the manager's active
// generation straight from the cache. Everything else continues down the
// chain untouched and is not cached. Requests that carry ClientHeader
// register that client with the manager.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(ClientHeader); id != "" {
			if controller := m.RegisterClient(id); controller != "" {
				c.Header(ControllerHeader, controller)
			}
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Next()
			return
		}
		resp, ok := m.Lookup(c.Request.URL.RequestURI())
		if !ok {
			c.Next()
			return
		}

		header := c.Writer.Header()
		for k, vs := range resp.Header {
			for _, v := range vs {
				header.Add(k, v)
			}
		}
		header.Set(CacheHeader, m.Active())
		c.Data(resp.Status, resp.Header.Get("Content-Type"), resp.Body)
		c.Abort()
	}
}
