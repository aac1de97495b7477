package api

import (
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"geofacts/server/internal/metrics"
)

// NewRouter builds the engine with CORS for origins and all routes.
func NewRouter(handler *Handler, origins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestMetrics())

	corsConfig := cors.DefaultConfig()
	if len(origins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	SetupRoutes(router, handler)
	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	{
		api.GET("/counts", handler.GetCounts)
		api.GET("/units", handler.ListUnits)
		api.GET("/units/:guid", handler.GetUnit)
		api.GET("/stats", handler.GetSaleStats)
		api.GET("/timeseries/:level/:code", handler.GetTimeSeries)
		api.GET("/nearby/markers", handler.NearbyMarkers)
		api.GET("/nearby/incidents", handler.NearbyIncidents)
		api.GET("/nearby/postcodes", handler.NearbyPostcodes)
		api.GET("/markers.geojson", handler.MarkersGeoJSON)
		api.GET("/districts/:prefix", handler.DistrictHulls)
		api.GET("/regions", handler.ListRegions)
		api.GET("/regions/:name", handler.GetRegion)
		api.POST("/update-coordinates", handler.UpdateCoordinates)
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
