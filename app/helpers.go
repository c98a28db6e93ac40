package app

import (
	"strconv"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/models"
	"github.com/joe02740/wmapp/app/quota"
)

// parseID parses a positive integer path parameter.
func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidRequest("invalid id " + strconv.Quote(raw))
	}
	return id, nil
}

func usageSummary(d quota.Decision) models.UsageSummary {
	s := models.UsageSummary{Daily: d.Daily, Monthly: d.Monthly}
	if !d.Unlimited {
		s.DailyLimit = intPtr(d.Limits.Daily)
		s.MonthlyLimit = intPtr(d.Limits.Monthly)
	}
	return s
}

func intPtr(n int) *int { return &n }
