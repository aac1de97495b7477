package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"geofacts/server/config"
	"geofacts/server/internal/database"
	"geofacts/server/internal/models"
	"geofacts/server/internal/normalize"
	"geofacts/server/internal/pipeline"
)

type Handler struct {
	db       *database.Database
	logger   *logrus.Logger
	regions  []config.Region
	pipeline *pipeline.Pipeline
	geocoder pipeline.Geocoder
}

type DateRange struct {
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
}

// parse returns the bounds of the range; blank bounds are zero.
func (r DateRange) parse() (from, to time.Time, err error) {
	if r.StartDate != "" {
		if from, err = normalize.ParseDate(r.StartDate); err != nil {
			return
		}
	}
	if r.EndDate != "" {
		if to, err = normalize.ParseDate(r.EndDate); err != nil {
			return
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		err = errors.New("endDate is before startDate")
	}
	return
}

func NewHandler(db *database.Database, logger *logrus.Logger, regions []config.Region) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if regions == nil {
		regions = config.DefaultRegions
	}

	return &Handler{
		db:       db,
		logger:   logger,
		regions:  regions,
		pipeline: pipeline.New(db, logger),
	}
}

// WithGeocoder enables the coordinate enrichment endpoint.
func (h *Handler) WithGeocoder(g pipeline.Geocoder) *Handler {
	h.geocoder = g
	return h
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		h.logger.WithError(err).Error("Store is unreachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) GetCounts(c *gin.Context) {
	counts, err := h.db.Counts(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to count rows")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count rows"})
		return
	}
	c.JSON(http.StatusOK, counts)
}

type unitQuery struct {
	Postcode     string `form:"postcode"`
	Street       string `form:"street"`
	Town         string `form:"town"`
	PropertyType string `form:"type"`
	Limit        int    `form:"limit"`
	Offset       int    `form:"offset"`
}

func (h *Handler) ListUnits(c *gin.Context) {
	var q unitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	filter := database.UnitFilter{
		Postcode:     q.Postcode,
		Street:       q.Street,
		Town:         q.Town,
		PropertyType: q.PropertyType,
	}
	units, total, err := h.db.SearchUnits(c.Request.Context(), filter, database.Page{Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		h.logger.WithError(err).Error("Failed to search units")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search units"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"units": units,
		"total": total,
	})
}

func (h *Handler) GetUnit(c *gin.Context) {
	guid := c.Param("guid")
	unit, err := h.db.UnitByGUID(c.Request.Context(), guid)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unit not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("guid", guid).Error("Failed to get unit")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get unit"})
		return
	}

	sales, err := h.db.UnitSales(c.Request.Context(), guid)
	if err != nil {
		h.logger.WithError(err).WithField("guid", guid).Error("Failed to get unit sales")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get unit sales"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"unit":  unit,
		"sales": sales,
	})
}

func (h *Handler) GetSaleStats(c *gin.Context) {
	var dateRange DateRange
	if err := c.ShouldBindQuery(&dateRange); err != nil {
		h.logger.WithError(err).Error("Failed to parse date range")
	}
	from, to, err := dateRange.parse()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stats, err := h.db.SaleStats(c.Request.Context(), c.Query("prefix"), from, to)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get sale stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get sale stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

var seriesLevels = map[string]bool{
	models.LevelArea:     true,
	models.LevelDistrict: true,
	models.LevelSector:   true,
	models.LevelPostcode: true,
}

func (h *Handler) GetTimeSeries(c *gin.Context) {
	level := strings.ToLower(c.Param("level"))
	if !seriesLevels[level] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown level"})
		return
	}

	points, err := h.db.TimeSeries(c.Request.Context(), c.Param("code"), level)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get time series")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get time series"})
		return
	}
	c.JSON(http.StatusOK, points)
}

// UpdateCoordinates geocodes a bounded number of postcodes without coordinates.
func (h *Handler) UpdateCoordinates(c *gin.Context) {
	if h.geocoder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Geocoding is not configured"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}

	stats, err := h.pipeline.EnrichCoordinates(c.Request.Context(), h.geocoder, limit, false)
	if err != nil {
		h.logger.WithError(err).Error("Failed to update coordinates")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update coordinates"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":   stats.RunID,
		"checked":  stats.RowsRead,
		"updated":  stats.Updated,
		"rejected": stats.Rejections(),
	})
}
