package services

import (
	"context"
	"math"

	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/internal/repo"
)

// CountryStats is the per-country summary shown in the analysis view.
type CountryStats struct {
	Country  string `json:"country"`
	Sessions int64  `json:"sessions"`
	// SatisfactionRate is the share of Satisfied sessions, in percent.
	SatisfactionRate float64 `json:"satisfaction_rate"`
	// EngagementPct and IntelligencePct are mean scores as a percent of
	// the top score (3). Nil when no session in the group was scored.
	EngagementPct   *float64 `json:"avg_engagement_pct"`
	IntelligencePct *float64 `json:"avg_intelligence_pct"`
	// AvgDurationMinutes is nil when no session in the group finished.
	AvgDurationMinutes *float64 `json:"avg_duration_minutes"`
}

// AnalyticsService aggregates stored sessions for the researcher views.
type AnalyticsService struct {
	DB *gorm.DB
}

// Countries returns one row per recorded country, busiest first.
func (s *AnalyticsService) Countries(ctx context.Context) ([]CountryStats, error) {
	rows, err := repo.CountryAggregates(ctx, s.DB)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]CountryStats, 0, len(rows))
	for _, r := range rows {
		cs := CountryStats{Country: r.Country, Sessions: r.Total}
		if r.Total > 0 {
			cs.SatisfactionRate = round1(float64(r.Satisfied) / float64(r.Total) * 100)
		}
		if r.AvgEngagement != nil {
			cs.EngagementPct = ptr(round1(*r.AvgEngagement / 3 * 100))
		}
		if r.AvgIntelligence != nil {
			cs.IntelligencePct = ptr(round1(*r.AvgIntelligence / 3 * 100))
		}
		if r.AvgDuration != nil {
			cs.AvgDurationMinutes = ptr(round1(*r.AvgDuration / 60))
		}
		out = append(out, cs)
	}
	return out, nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
