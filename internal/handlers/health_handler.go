package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler serves the liveness/readiness endpoint.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler creates the handler.
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Uptime    string            `json:"uptime"`
	GoVersion string            `json:"go_version"`
}

var startTime = time.Now()

// Health reports process and database health.
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  map[string]string{},
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		GoVersion: runtime.Version(),
	}

	status := http.StatusOK
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			response.Status = "degraded"
			response.Services["database"] = "failed: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response.Services["database"] = "ok"
		}
	}

	c.JSON(status, response)
}
