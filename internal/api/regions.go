package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"geofacts/server/config"
)

// ListRegions returns the configured map regions
func (h *Handler) ListRegions(c *gin.Context) {
	c.JSON(http.StatusOK, h.regions)
}

// GetRegion returns a specific map region
func (h *Handler) GetRegion(c *gin.Context) {
	region := config.RegionByName(h.regions, c.Param("name"))
	if region == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Region not found"})
		return
	}
	c.JSON(http.StatusOK, region)
}
