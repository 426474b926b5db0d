package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// cachedEnvelope wraps every read endpoint's body so callers can tell a
// cache hit from a fresh read.
type cachedEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Cached bool            `json:"cached"`
}

// serveWithCache answers from the response cache when it can, otherwise runs
// fetch and stores the result under the class's freshness window.
func (s *Server) serveWithCache(c *gin.Context, class string, params url.Values, fetch func(ctx context.Context) (any, error)) {
	ctx := c.Request.Context()

	if payload, ok := s.respCache.Get(ctx, class, params); ok {
		c.JSON(http.StatusOK, cachedEnvelope{Data: payload, Cached: true})
		return
	}

	data, err := fetch(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.respCache.Put(ctx, class, params, payload)
	c.JSON(http.StatusOK, cachedEnvelope{Data: payload, Cached: false})
}
