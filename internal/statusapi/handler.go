// Package statusapi serves the agent's operational state over HTTP for
// ground crews on the same network. It is read only: mission control
// stays with the flight controller link, not with this API.
package statusapi

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/skysurvey/companion/internal/mission"
	"github.com/skysurvey/companion/internal/storage"
	"github.com/skysurvey/companion/internal/transmit"
)

// Mission is the mission controller surface the API reads.
// This allows for faking in tests.
type Mission interface {
	State() mission.State
	LastEvaluation() mission.Evaluation
}

// ImageStore reports image storage occupancy.
type ImageStore interface {
	Status() storage.Status
}

// Transmitter reports transmission progress.
type Transmitter interface {
	Stats() transmit.Stats
}

// Handler serves the status endpoints.
type Handler struct {
	mission  Mission
	store    ImageStore
	transmit Transmitter
}

// NewHandler creates a handler reading from the given subsystems.
func NewHandler(mission Mission, store ImageStore, transmit Transmitter) *Handler {
	return &Handler{
		mission:  mission,
		store:    store,
		transmit: transmit,
	}
}

// Router builds the gin engine with all routes attached.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.Healthz)

	v1 := router.Group("/v1")
	v1.GET("/status", h.Status)
	v1.GET("/storage", h.Storage)
	v1.GET("/transmit", h.Transmit)

	return router
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports the mission state and the latest health evaluation.
func (h *Handler) Status(c *gin.Context) {
	eval := h.mission.LastEvaluation()

	issues := make([]gin.H, 0, len(eval.Issues))
	for _, issue := range eval.Issues {
		issues = append(issues, gin.H{
			"source":   string(issue.Source),
			"severity": issue.Severity.String(),
			"message":  issue.Message,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"mission_state": h.mission.State().String(),
		"system_state":  eval.State.String(),
		"issues":        issues,
		"evaluated_at":  eval.At,
	})
}

// Storage reports image storage occupancy and transmission queue depth.
func (h *Handler) Storage(c *gin.Context) {
	status := h.store.Status()

	c.JSON(http.StatusOK, gin.H{
		"storage":     status,
		"total_human": humanize.IBytes(status.TotalBytes),
		"free_human":  humanize.IBytes(status.FreeBytes),
	})
}

// Transmit reports transmission counters and the last known link signal.
func (h *Handler) Transmit(c *gin.Context) {
	stats := h.transmit.Stats()

	c.JSON(http.StatusOK, gin.H{
		"transmit":   stats,
		"sent_human": humanize.IBytes(stats.BytesSent),
	})
}
