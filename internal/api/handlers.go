package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/north-cloud/crawlcoord/internal/domain"
	"github.com/north-cloud/crawlcoord/internal/operator"
	"github.com/north-cloud/crawlcoord/internal/priority"
)

type handlers struct {
	operator *operator.Operator
	priority *priority.Calculator
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) domainStatusSummary(c *gin.Context) {
	counts, err := h.operator.DomainStatusSummary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (h *handlers) domainInfo(c *gin.Context) {
	rec, err := h.operator.DomainInfo(c.Request.Context(), c.Param("domain"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) domainsByStatus(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.operator.DomainsByStatus(c.Request.Context(), domain.Status(c.Param("status")), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"domains": records})
}

func (h *handlers) prioritySummary(c *gin.Context) {
	stats, err := h.priority.Summary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrInvalidInput) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
