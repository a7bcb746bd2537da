package httpapi

import (
	"errors"
	"net/http"
	"time"

	"teleconsult/internal/aiflow"
	"teleconsult/internal/reporting"

	"github.com/gin-gonic/gin"
)

// CallsReport summarizes outcomes. Query: from, to (RFC3339), receiver_id.
// The range defaults to the last 24 hours.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	now := time.Now().UTC()
	rng := reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		rng.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		rng.To = t
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range:      rng,
		ReceiverID: c.Query("receiver_id"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- AI flows ---

func (h Handlers) SymptomCheck(c *gin.Context) {
	var in aiflow.SymptomCheckInput
	if !bindFlow(c, &in) {
		return
	}
	out, err := h.Flows.SymptomCheck(c.Request.Context(), in)
	flowResult(c, out, err)
}

func (h Handlers) FirstAid(c *gin.Context) {
	var in aiflow.FirstAidInput
	if !bindFlow(c, &in) {
		return
	}
	out, err := h.Flows.FirstAid(c.Request.Context(), in)
	flowResult(c, out, err)
}

func (h Handlers) PrescriptionSummary(c *gin.Context) {
	var in aiflow.PrescriptionSummaryInput
	if !bindFlow(c, &in) {
		return
	}
	out, err := h.Flows.PrescriptionSummary(c.Request.Context(), in)
	flowResult(c, out, err)
}

func (h Handlers) Translate(c *gin.Context) {
	var in aiflow.TranslateInput
	if !bindFlow(c, &in) {
		return
	}
	out, err := h.Flows.Translate(c.Request.Context(), in)
	flowResult(c, out, err)
}

func bindFlow(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return true
}

func flowResult(c *gin.Context, out any, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, out)
	case errors.Is(err, aiflow.ErrInvalidInput):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, aiflow.ErrDisabled):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "ai flows disabled"})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "ai flow failed"})
	}
}
