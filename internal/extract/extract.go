// Package extract parses structured fields out of the pipeline's
// semi-structured text lines.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"riskdash/pkg/models"
)

// TimestampLayout is the layout of risk timestamps on producer lines.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	riskLinePattern  = regexp.MustCompile(`Sent risk: (\d+(?:\.\d+)?) at (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)
	riskValuePattern = regexp.MustCompile(`Sent risk: (\d+(?:\.\d+)?)`)
)

// ExtractRisk parses "Sent risk: <float> at <YYYY-MM-DD HH:MM:SS>" anywhere in
// the line.
func ExtractRisk(line string) (models.RiskPoint, bool) {
	m := riskLinePattern.FindStringSubmatch(line)
	if m == nil {
		return models.RiskPoint{}, false
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return models.RiskPoint{}, false
	}
	return models.RiskPoint{Timestamp: m[2], Score: score}, true
}

// ClassifyRiskLevel tags a line by its embedded risk value: high above 90,
// medium above 70, low otherwise. Lines without a value are RiskNone.
func ClassifyRiskLevel(line string) models.RiskLevel {
	m := riskValuePattern.FindStringSubmatch(line)
	if m == nil {
		return models.RiskNone
	}
	risk, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return models.RiskNone
	}
	switch {
	case risk > 90:
		return models.RiskHigh
	case risk > 70:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// CategoryOf buckets an activity string by prefix.
func CategoryOf(activity string) models.Category {
	switch {
	case strings.HasPrefix(activity, "http"):
		return models.CategoryHTTP
	case strings.HasPrefix(activity, "email"):
		return models.CategoryEmail
	default:
		return models.CategoryNone
	}
}

// TimeOfDay returns the HH:MM:SS part of a risk timestamp, or the input
// unchanged when it has no date part.
func TimeOfDay(timestamp string) string {
	if idx := strings.IndexByte(timestamp, ' '); idx >= 0 {
		return timestamp[idx+1:]
	}
	return timestamp
}
