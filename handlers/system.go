package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/vanish/internal/services"
)

// SystemHandler handles system endpoints
type SystemHandler struct {
	service *services.PasteService
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(service *services.PasteService) *SystemHandler {
	return &SystemHandler{service: service}
}

// Health handles health check via GET /api/healthz
func (h *SystemHandler) Health(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok":      false,
			"backend": h.service.Backend(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"backend": h.service.Backend(),
	})
}
