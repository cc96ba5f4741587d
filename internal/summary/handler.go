package summary

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
	httperr "github.com/tideline-analytics/tideline/internal/core/errors"
)

const (
	// requestTimeout bounds one summary request end to end, including
	// retries inside the raw-aggregation tier.
	requestTimeout = 15 * time.Second

	defaultSampleLimit = 10
	maxSampleLimit     = 100
)

// RegisterRoutes registers the summary read endpoints.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/accounts/sample", s.SampleAccountsHandler)
	r.GET("/v1/accounts/:account_id/summary", s.GetSummaryHandler)
}

// GetSummaryHandler handles GET /v1/accounts/:account_id/summary. The
// window query parameter selects the lookback period; unknown values fall
// back to the 24h default rather than erroring.
func (s *Service) GetSummaryHandler(c *gin.Context) {
	accountID := c.Param("account_id")
	window := v1.NormalizeWindow(c.Query("window"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	summary, err := s.Summarize(ctx, accountID, window)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("[Summary] Request timed out",
				"account_id", accountID,
				"window", window)
			c.JSON(http.StatusGatewayTimeout, httperr.ErrorResponse{
				ErrorType: httperr.HttpRequestTimeoutError,
				Message:   "Summary request timed out",
			})
			return
		}
		slog.Error("[Summary] Failed to compute summary",
			"account_id", accountID,
			"window", window,
			"error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to compute summary",
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// SampleAccountsHandler handles GET /v1/accounts/sample. The limit query
// parameter defaults to 10 and is capped at 100; unparseable values use
// the default.
func (s *Service) SampleAccountsHandler(c *gin.Context) {
	limit := defaultSampleLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxSampleLimit {
		limit = maxSampleLimit
	}

	ids, err := s.SampleAccountIDs(c.Request.Context(), limit)
	if err != nil {
		slog.Error("[Summary] Failed to sample account ids", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to sample accounts",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": ids})
}
