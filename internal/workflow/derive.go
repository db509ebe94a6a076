package workflow

import (
	"math"

	"riskdash/pkg/models"
)

// ReconstructionThreshold is the 95th percentile reconstruction error of the
// email autoencoder.
const ReconstructionThreshold = 0.3

// Band is a coarse severity used for colouring scores.
type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// EmailView is an email result with its display derivations.
type EmailView struct {
	models.EmailResult
	AnomalyPercent       int     `json:"anomaly_percent"`
	AnomalyBand          Band    `json:"anomaly_band"`
	ErrorBand            Band    `json:"error_band"`
	ErrorMarkerPercent   float64 `json:"error_marker_percent"`
	ThresholdPercent     float64 `json:"threshold_percent"`
	TopSimilarityPercent *int    `json:"top_similarity_percent,omitempty"`
}

// Derive computes the display fields of a normalized result.
func Derive(r models.EmailResult) EmailView {
	scale := ReconstructionThreshold * 3
	v := EmailView{
		EmailResult:        r,
		AnomalyPercent:     int(math.Round(r.AnomalyScore * 100)),
		AnomalyBand:        anomalyBand(r.AnomalyScore),
		ErrorBand:          errorBand(r.ReconstructionError),
		ErrorMarkerPercent: math.Min(r.ReconstructionError*100/scale, 100),
		ThresholdPercent:   ReconstructionThreshold * 100 / scale,
	}
	if len(r.SimilarEmails) > 0 {
		top := int(math.Round(r.SimilarEmails[0].SimilarityScore * 100))
		v.TopSimilarityPercent = &top
	}
	return v
}

// DeriveAll derives every result in order.
func DeriveAll(results []models.EmailResult) []EmailView {
	out := make([]EmailView, 0, len(results))
	for _, r := range results {
		out = append(out, Derive(r))
	}
	return out
}

func anomalyBand(score float64) Band {
	switch {
	case score > 0.7:
		return BandHigh
	case score > 0.5:
		return BandMedium
	default:
		return BandLow
	}
}

func errorBand(err float64) Band {
	switch {
	case err > ReconstructionThreshold*1.5:
		return BandHigh
	case err > ReconstructionThreshold:
		return BandMedium
	default:
		return BandLow
	}
}
