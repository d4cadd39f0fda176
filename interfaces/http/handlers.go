package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opskb/ragd/internal/apperr"
	"github.com/opskb/ragd/internal/breaker"
	"github.com/opskb/ragd/internal/model"
)

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid query body: %v", err))
		return
	}

	q := req.toQuery()
	for _, id := range q.SourcesHint {
		if _, ok := s.sources.Get(id); !ok {
			writeError(c, apperr.BadRequest("unknown source %q", id))
			return
		}
	}

	answer, err := s.orchestrator.Handle(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, queryResponseFromAnswer(answer))
}

func (s *Server) handleStats(c *gin.Context) {
	snap := s.metrics.Snapshot()
	c.JSON(http.StatusOK, statsResponse{
		Stats:           s.cache.Stats(),
		CacheHitRatio:   snap.CacheHitRatio,
		BreakerTrips:    snap.BreakerTrips,
		BreakerRecovers: snap.BreakerRecovers,
		FanoutLatency:   snap.FanoutLatency,
		LLMLatency:      snap.LLMLatency,
	})
}

func (s *Server) handleInvalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid invalidate body: %v", err))
		return
	}

	switch {
	case req.Key != "":
		c.JSON(http.StatusOK, invalidateResponse{Removed: s.cache.Invalidate(req.Key)})
	case req.Predicate != nil && req.Predicate.SourceId != "":
		target := model.SourceId(req.Predicate.SourceId)
		removed := s.cache.InvalidateMatching(func(e *model.CacheEntry) bool {
			for _, cit := range e.Value.Citations {
				if cit.SourceId == target {
					return true
				}
			}
			return false
		})
		c.JSON(http.StatusOK, invalidateResponse{Removed: removed})
	default:
		writeError(c, apperr.BadRequest("invalidate requires key or predicate"))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	adapters := make([]model.AdapterHealth, 0, len(s.readyNames))
	allHealthy := true
	now := time.Now()
	for _, name := range s.readyNames {
		b := s.breakers.Get(name)
		healthy := b.State() != breaker.Open
		if !healthy {
			allHealthy = false
		}
		adapters = append(adapters, model.AdapterHealth{Name: name, Healthy: healthy, LastCheckedAt: now})
	}

	status := http.StatusOK
	statusText := "ready"
	if !allHealthy {
		status = http.StatusServiceUnavailable
		statusText = "not_ready"
	}
	c.JSON(status, readyResponse{Status: statusText, Adapters: adapters})
}

// writeError maps err to the caller-facing {code, message, retry_after_ms}
// shape and an HTTP status, per spec.md §7's taxonomy.
func writeError(c *gin.Context, err error) {
	ae, ok := err.(*apperr.Error)
	if !ok {
		ae = apperr.Internal("unexpected error: %v", err)
	}
	c.JSON(statusForCode(ae.Code), ae)
}

func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeBadRequest:
		return http.StatusBadRequest
	case apperr.CodeUnavailable:
		return http.StatusServiceUnavailable
	case apperr.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
