package quota

import (
	"time"

	"github.com/joe02740/wmapp/app/config"
	"github.com/joe02740/wmapp/app/models"
)

// Limits bounds the number of answered queries per calendar window.
type Limits struct {
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

// Table maps each tier to its limits. A tier missing from the table is
// unlimited.
type Table map[models.Tier]Limits

func DefaultTable() Table {
	return Table{
		models.TierFree:  {Daily: 2, Monthly: 6},
		models.TierBasic: {Daily: 10, Monthly: 100},
		models.TierPro:   {Daily: 50, Monthly: 500},
	}
}

func TableFromConfig(cfg config.QuotaConfig) Table {
	return Table{
		models.TierFree:  {Daily: cfg.FreeDaily, Monthly: cfg.FreeMonthly},
		models.TierBasic: {Daily: cfg.BasicDaily, Monthly: cfg.BasicMonthly},
		models.TierPro:   {Daily: cfg.ProDaily, Monthly: cfg.ProMonthly},
	}
}

// Lookup reports the limits for tier and false when the tier is unlimited.
func (t Table) Lookup(tier models.Tier) (Limits, bool) {
	l, ok := t[tier]
	return l, ok
}

// windows returns the start of the calendar day and month containing now in
// loc, and the start of the following day and month.
func windows(now time.Time, loc *time.Location) (dayStart, dayEnd, monthStart, monthEnd time.Time) {
	local := now.In(loc)
	y, m, d := local.Date()
	dayStart = time.Date(y, m, d, 0, 0, 0, 0, loc)
	dayEnd = dayStart.AddDate(0, 0, 1)
	monthStart = time.Date(y, m, 1, 0, 0, 0, 0, loc)
	monthEnd = monthStart.AddDate(0, 1, 0)
	return
}
