package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"slapulse/internal/metrics"
	"slapulse/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MonitorHandler exposes the SLA monitor over the ops API: cumulative
// scan counters, a manual one-shot scan, and the evaluated SLA view of
// a single ticket.
type MonitorHandler struct {
	monitor *services.SLAMonitor
	tickets *services.TicketService
	logger  *logrus.Logger
}

// NewMonitorHandler creates the handler.
func NewMonitorHandler(monitor *services.SLAMonitor, tickets *services.TicketService) *MonitorHandler {
	return &MonitorHandler{
		monitor: monitor,
		tickets: tickets,
		logger:  logrus.StandardLogger(),
	}
}

// StatsResponse is the cumulative counter payload.
type StatsResponse struct {
	Scans    uint64 `json:"scans"`
	Warnings uint64 `json:"warnings"`
	Breaches uint64 `json:"breaches"`
	Errors   uint64 `json:"errors"`
}

// Stats returns cumulative scan counters.
func (h *MonitorHandler) Stats(c *gin.Context) {
	scans, warnings, breaches, errs := metrics.ScanSnapshot()
	c.JSON(http.StatusOK, StatsResponse{
		Scans:    scans,
		Warnings: warnings,
		Breaches: breaches,
		Errors:   errs,
	})
}

// TriggerScan runs one scan synchronously and returns its stats.
func (h *MonitorHandler) TriggerScan(c *gin.Context) {
	stats, err := h.monitor.RunScan(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Manual SLA scan failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "scan_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "scan completed", Data: stats})
}

// TicketSLA returns the evaluated SLA view for one ticket.
func (h *MonitorHandler) TicketSLA(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "ticket id must be numeric"})
		return
	}

	ticket, err := h.tickets.GetTicketByID(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, services.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "lookup_failed", Message: err.Error()})
		return
	}

	view := services.NewTicketSLAView(ticket, time.Now())
	c.JSON(http.StatusOK, view)
}
