package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ingestiondomain "github.com/jeffconboy/statedge/internal/ingestion/domain"
	"github.com/jeffconboy/statedge/internal/ingestion/provider"
	quotadomain "github.com/jeffconboy/statedge/internal/quota/domain"
	"github.com/jeffconboy/statedge/internal/ratelimit"
	statsdomain "github.com/jeffconboy/statedge/internal/stats/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// rateLimitResponse is the envelope for every 429, whether a daily quota or
// an operation budget was the limit that tripped.
type rateLimitResponse struct {
	ErrorCode  string    `json:"error_code"`
	Message    string    `json:"message"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	RetryAfter int       `json:"retry_after"`
	ResetAt    time.Time `json:"reset_at"`
}

// RateLimitExceededError carries the limit state into the error pipeline so
// the middleware can render the full 429 envelope.
type RateLimitExceededError struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitExceededError) Error() string {
	return "rate_limit_exceeded"
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var rateErr *RateLimitExceededError
		if errors.As(lastErr.Err, &rateErr) {
			retryAfter := int(time.Until(rateErr.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Content-Type", "application/json")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, rateLimitResponse{
				ErrorCode:  "RATE_LIMIT_EXCEEDED",
				Message:    "rate limit exceeded",
				Limit:      rateErr.Limit,
				Remaining:  rateErr.Remaining,
				RetryAfter: retryAfter,
				ResetAt:    rateErr.ResetAt,
			})
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, quotadomain.ErrIdentityNotFound):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, quotadomain.ErrInvalidCost),
		errors.Is(err, ingestiondomain.ErrInvalidRange),
		errors.Is(err, ingestiondomain.ErrInvalidChunkSize),
		errors.Is(err, statsdomain.ErrInvalidQuery):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ingestiondomain.ErrBackfillInFlight):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "a backfill for this source is already running",
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ingestiondomain.ErrJobNotFound),
		errors.Is(err, statsdomain.ErrPlayerNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ingestiondomain.ErrUpstreamFailed),
		errors.Is(err, provider.ErrUpstreamUnavailable):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_unavailable",
			Message: "upstream data source unavailable",
		}
	case errors.Is(err, quotadomain.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog tags request log lines with a stable error type/code.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	var rateErr *RateLimitExceededError
	if errors.As(err, &rateErr) {
		return "rate_limit", "RATE_LIMIT_EXCEEDED"
	}
	if errors.Is(err, ratelimit.ErrUnknownClass) {
		return "internal", "unknown_budget_class"
	}
	status, payload := mapError(err)
	switch {
	case status >= 500:
		return "internal", payload.Type
	case status == http.StatusTooManyRequests:
		return "rate_limit", payload.Type
	default:
		return "request", payload.Type
	}
}
