package services

import (
	"time"

	"free-games-tracker-service/models"
)

// ClassifyPromotion maps an offer window and a reference instant onto exactly
// one lifecycle status. Both boundaries are inclusive for "current": an offer
// that starts or ends at precisely `now` counts as live.
func ClassifyPromotion(now, start, end time.Time) string {
	if now.Before(start) {
		return models.StatusUpcoming
	}
	if now.After(end) {
		return models.StatusExpired
	}
	return models.StatusCurrent
}
