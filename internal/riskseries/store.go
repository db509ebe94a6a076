// Package riskseries stores the risk score timeline derived from producer
// log lines.
package riskseries

import (
	"time"

	"riskdash/internal/extract"
	"riskdash/pkg/models"
)

// Store keeps risk points in arrival order. Points are never deduplicated
// or re-sorted; the producer is assumed to send them chronologically.
type Store struct {
	points []models.RiskPoint
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Append adds a point at the tail.
func (s *Store) Append(p models.RiskPoint) {
	s.points = append(s.points, p)
}

// Len returns the number of points.
func (s *Store) Len() int {
	return len(s.points)
}

// Snapshot returns a copy of the series.
func (s *Store) Snapshot() []models.RiskPoint {
	out := make([]models.RiskPoint, len(s.points))
	copy(out, s.points)
	return out
}

// Reset drops every point.
func (s *Store) Reset() {
	s.points = nil
}

// ChartPoint is a risk point with the projections a chart needs.
type ChartPoint struct {
	models.RiskPoint
	FormattedTime string    `json:"formatted_time"`
	Time          time.Time `json:"time,omitempty"`
}

// Project derives chart points from a series snapshot.
func Project(points []models.RiskPoint) []ChartPoint {
	out := make([]ChartPoint, 0, len(points))
	for _, p := range points {
		cp := ChartPoint{RiskPoint: p, FormattedTime: extract.TimeOfDay(p.Timestamp)}
		if ts, err := time.ParseInLocation(extract.TimestampLayout, p.Timestamp, time.UTC); err == nil {
			cp.Time = ts
		}
		out = append(out, cp)
	}
	return out
}

// Stats summarizes a series.
type Stats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Last  float64 `json:"last"`
}

// Summarize computes Stats over a series snapshot.
func Summarize(points []models.RiskPoint) Stats {
	if len(points) == 0 {
		return Stats{}
	}
	st := Stats{Count: len(points), Min: points[0].Score, Max: points[0].Score}
	sum := 0.0
	for _, p := range points {
		if p.Score < st.Min {
			st.Min = p.Score
		}
		if p.Score > st.Max {
			st.Max = p.Score
		}
		sum += p.Score
	}
	st.Mean = sum / float64(len(points))
	st.Last = points[len(points)-1].Score
	return st
}
