package handlers

import (
	"strconv"

	"free-games-tracker-service/services"
	"free-games-tracker-service/utils"

	"github.com/gin-gonic/gin"
)

type GamesHandler struct {
	Store *services.StoreService
}

func NewGamesHandler(store *services.StoreService) *GamesHandler {
	return &GamesHandler{Store: store}
}

// GetCurrentGames returns all currently free games, optionally filtered by
// ?platform=
func (h *GamesHandler) GetCurrentGames(c *gin.Context) {
	games, err := h.Store.GetCurrentGames(c.Query("platform"))
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to load current games")
		return
	}
	utils.SuccessResponse(c, games)
}

// GetUpcomingGames returns all upcoming free games, soonest first
func (h *GamesHandler) GetUpcomingGames(c *gin.Context) {
	games, err := h.Store.GetUpcomingGames(c.Query("platform"))
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to load upcoming games")
		return
	}
	utils.SuccessResponse(c, games)
}

// GetAllGames returns every game chronologically with its promotion window.
// Supports ?platform= and ?limit=
func (h *GamesHandler) GetAllGames(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.BadRequestResponse(c, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	games, err := h.Store.GetAllGamesChronological(c.Query("platform"), limit)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to load games")
		return
	}
	utils.SuccessResponse(c, games)
}
