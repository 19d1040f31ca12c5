package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetLayers godoc
// @Summary      Layer diagnostics
// @Description  Returns every registered layer with its weight, health, and circuit breaker state
// @Tags         layers
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/layers [get]
func (h *Handler) GetLayers(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-layers")
	defer span.End()

	descriptors := h.layers.Descriptors()
	if h.breakers != nil {
		for i := range descriptors {
			descriptors[i].Breaker = h.breakers.BreakerState(descriptors[i].Name)
		}
	}
	c.JSON(http.StatusOK, gin.H{"layers": descriptors, "count": len(descriptors)})
}

// GetLayerEvents godoc
// @Summary      Weight adjustment history for one layer
// @Description  Returns the append-only audit log of multiplier changes, newest first
// @Tags         layers
// @Produce      json
// @Param        name   path   string  true   "Layer name"
// @Param        limit  query  int     false  "Max rows (default 50)"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/layers/{name}/events [get]
func (h *Handler) GetLayerEvents(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-layer-events")
	defer span.End()

	name := c.Param("name")
	span.SetAttributes(attribute.String("layer", name))

	events, err := h.audit.Events(ctx, name, intQuery(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"layer": name, "events": events, "count": len(events)})
}
