package handlers

import (
	"strconv"

	"free-games-tracker-service/services"
	"free-games-tracker-service/utils"

	"github.com/gin-gonic/gin"
)

type HistoryHandler struct {
	Store *services.StoreService
}

func NewHistoryHandler(store *services.StoreService) *HistoryHandler {
	return &HistoryHandler{Store: store}
}

// GetScrapeHistory returns the most recent scrape runs. Supports ?limit=
func (h *HistoryHandler) GetScrapeHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			utils.BadRequestResponse(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := h.Store.GetScrapeHistory(limit)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to load scrape history")
		return
	}
	utils.SuccessResponse(c, runs)
}
