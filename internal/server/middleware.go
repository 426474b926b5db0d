package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderAPIKey = "X-API-Key"

	contextIdentityIDKey = "identity_id"
	contextTierKey       = "tier"
	contextAPIKeyKey     = "api_key"
)

// APIKeyRequired resolves the caller's identity from the X-API-Key header.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if apiKey == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.quotaSvc.Lookup(c.Request.Context(), apiKey)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextIdentityIDKey, identity.ID.String())
		c.Set(contextTierKey, identity.Tier)
		c.Set(contextAPIKeyKey, apiKey)
		c.Next()
	}
}

// TierRequired rejects callers below the given tier.
func (s *Server) TierRequired(tier string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(contextTierKey) != tier {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// QuotaAdmission charges one call against the caller's daily allowance and
// stamps the X-RateLimit headers either way.
func (s *Server) QuotaAdmission() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetString(contextAPIKeyKey)
		if apiKey == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		decision, err := s.quotaSvc.Admit(c.Request.Context(), apiKey, 1)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			AbortWithError(c, &RateLimitExceededError{
				Limit:     decision.Limit,
				Remaining: decision.Remaining,
				ResetAt:   decision.ResetAt,
			})
			return
		}
		c.Next()
	}
}

// BudgetAdmission gates an administrative route by its operation class
// rather than the caller's identity.
func (s *Server) BudgetAdmission(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := s.budget.Acquire(c.Request.Context(), class)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.IncBudgetDenied(class)
			}
			AbortWithError(c, &RateLimitExceededError{
				Limit:     decision.Limit,
				Remaining: decision.Remaining,
				ResetAt:   decision.ResetAt,
			})
			return
		}
		c.Next()
	}
}
