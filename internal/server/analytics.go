package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/revlens/internal/clock"
	cohortdomain "github.com/smallbiznis/revlens/internal/cohort/domain"
)

// GetRetention serves GET /api/v1/analytics/retention?window=30d.
func (s *Server) GetRetention(c *gin.Context) {
	window, err := cohortdomain.ParseWindow(c.Query("window"))
	if err != nil {
		AbortWithError(c, newValidationError("window", "invalid_window", err.Error()))
		return
	}

	target := clock.ReferenceDate(s.clock, s.reportingLoc)
	result, err := s.cohortSvc.Compare(c.Request.Context(), target, window)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetTrialConversion serves GET /api/v1/analytics/trial-conversion?window=30d.
func (s *Server) GetTrialConversion(c *gin.Context) {
	window, err := cohortdomain.ParseWindow(c.Query("window"))
	if err != nil {
		AbortWithError(c, newValidationError("window", "invalid_window", err.Error()))
		return
	}

	target := clock.ReferenceDate(s.clock, s.reportingLoc)
	result, err := s.conversionSvc.Verify(c.Request.Context(), target, window)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetAnalyticsSnapshot serves GET /api/v1/analytics/snapshot.
func (s *Server) GetAnalyticsSnapshot(c *gin.Context) {
	result, err := s.analyticsSvc.Summary(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RunSnapshot serves POST /api/v1/snapshots/run, forcing a rebuild of the
// current reference date.
func (s *Server) RunSnapshot(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrInternal)
		return
	}

	result, err := s.scheduler.Rebuild(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
