package batchapi

import (
	"math"

	"riskdash/pkg/models"
)

// Category labels of a user's peak score.
const (
	CategoryAnomalous = "Anomalous"
	CategoryNormal    = "Normal"
)

// AnomalyRecord is one user-day score of the batch prediction.
type AnomalyRecord struct {
	User         string  `json:"user"`
	Day          string  `json:"day"`
	AnomalyScore float64 `json:"anomaly_score"`
}

// SeriesPoint is a rounded score of one day.
type SeriesPoint struct {
	Day   string `json:"day"`
	Score int    `json:"anomaly_score"`
}

// UserSeries holds the daily scores of one user.
type UserSeries struct {
	User   string        `json:"user"`
	Points []SeriesPoint `json:"points"`
}

// DayMax is the highest score of a day and who produced it.
type DayMax struct {
	Day   string  `json:"day"`
	User  string  `json:"user"`
	Score float64 `json:"anomaly_score"`
}

// UserScore is a user's peak score.
type UserScore struct {
	User     string           `json:"user"`
	Score    int              `json:"score"`
	Category string           `json:"category"`
	Level    models.RiskLevel `json:"level"`
}

// Report is the aggregated batch prediction.
type Report struct {
	Records    []AnomalyRecord `json:"records"`
	ByUser     []UserSeries    `json:"by_user"`
	MaxByDay   []DayMax        `json:"max_by_day"`
	UserScores []UserScore     `json:"user_scores"`
}

// Scale maps scores linearly onto [1,100]. When every score is equal they
// all map to 1.
func Scale(records []AnomalyRecord) []AnomalyRecord {
	out := make([]AnomalyRecord, len(records))
	copy(out, records)
	if len(out) == 0 {
		return out
	}
	lo, hi := out[0].AnomalyScore, out[0].AnomalyScore
	for _, r := range out {
		lo = math.Min(lo, r.AnomalyScore)
		hi = math.Max(hi, r.AnomalyScore)
	}
	span := hi - lo
	for i := range out {
		if span == 0 {
			out[i].AnomalyScore = 1
			continue
		}
		out[i].AnomalyScore = (out[i].AnomalyScore-lo)/span*99 + 1
	}
	return out
}

// Aggregate scales the records and derives the per-user and per-day views.
// Users and days keep the order they first appear in.
func Aggregate(records []AnomalyRecord) Report {
	scaled := Scale(records)
	rep := Report{Records: scaled}

	userIdx := make(map[string]int)
	dayIdx := make(map[string]int)
	peak := make(map[string]float64)
	for _, r := range scaled {
		i, ok := userIdx[r.User]
		if !ok {
			i = len(rep.ByUser)
			userIdx[r.User] = i
			rep.ByUser = append(rep.ByUser, UserSeries{User: r.User})
			peak[r.User] = r.AnomalyScore
		}
		rep.ByUser[i].Points = append(rep.ByUser[i].Points, SeriesPoint{
			Day:   r.Day,
			Score: int(math.Round(r.AnomalyScore)),
		})
		if r.AnomalyScore > peak[r.User] {
			peak[r.User] = r.AnomalyScore
		}

		d, ok := dayIdx[r.Day]
		if !ok {
			dayIdx[r.Day] = len(rep.MaxByDay)
			rep.MaxByDay = append(rep.MaxByDay, DayMax{Day: r.Day, User: r.User, Score: r.AnomalyScore})
			continue
		}
		if r.AnomalyScore > rep.MaxByDay[d].Score {
			rep.MaxByDay[d].User = r.User
			rep.MaxByDay[d].Score = r.AnomalyScore
		}
	}

	for _, s := range rep.ByUser {
		score := peak[s.User]
		us := UserScore{
			User:     s.User,
			Score:    int(math.Round(score)),
			Category: CategoryNormal,
			Level:    Level(score),
		}
		if score > 50 {
			us.Category = CategoryAnomalous
		}
		rep.UserScores = append(rep.UserScores, us)
	}
	return rep
}

// Level bands a scaled score: above 70 is high, above 50 medium.
func Level(score float64) models.RiskLevel {
	switch {
	case score > 70:
		return models.RiskHigh
	case score > 50:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
