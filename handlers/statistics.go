package handlers

import (
	"net/http"

	"free-games-tracker-service/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type StatisticsHandler struct {
	Store *services.StoreService
}

func NewStatisticsHandler(store *services.StoreService) *StatisticsHandler {
	return &StatisticsHandler{Store: store}
}

// GetStatistics returns the cached statistics row (recomputed after each
// successful pipeline run).
func (h *StatisticsHandler) GetStatistics(c *gin.Context) {
	stats, err := h.Store.GetStatistics()
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusOK, gin.H{
				"message": "Statistics not yet available",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve statistics",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}
