package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

// CountryRow is the raw per-country aggregate. Averages are nil when no
// session in the group carries a value.
type CountryRow struct {
	Country         string
	Total           int64
	Satisfied       int64
	AvgEngagement   *float64
	AvgIntelligence *float64
	AvgDuration     *float64
}

// CountryAggregates groups every session that recorded a country, busiest
// country first.
func CountryAggregates(ctx context.Context, db *gorm.DB) ([]CountryRow, error) {
	var out []CountryRow
	err := db.WithContext(ctx).
		Model(&domain.Session{}).
		Select(`TRIM(country_of_origin) AS country,
			COUNT(*) AS total,
			SUM(CASE WHEN user_satisfaction = 1 THEN 1 ELSE 0 END) AS satisfied,
			AVG(CAST(engagement_score AS DOUBLE PRECISION)) AS avg_engagement,
			AVG(CAST(intelligence_score AS DOUBLE PRECISION)) AS avg_intelligence,
			AVG(CAST(duration_seconds AS DOUBLE PRECISION)) AS avg_duration`).
		Where("country_of_origin IS NOT NULL AND TRIM(country_of_origin) <> ''").
		Group("TRIM(country_of_origin)").
		Order("total DESC, country ASC").
		Scan(&out).Error
	return out, err
}
