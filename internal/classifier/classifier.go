// Package classifier files high-risk activity records under their category.
package classifier

import (
	"riskdash/internal/extract"
	"riskdash/pkg/models"
)

// DefaultThreshold is the risk score a record must exceed to be filed.
const DefaultThreshold = 95

// Config controls classification.
type Config struct {
	Threshold float64
}

// Classifier accumulates flagged records per category. Records are never
// removed or re-categorized once filed; only Reset empties it.
type Classifier struct {
	cfg        Config
	byCategory map[models.Category][]models.ActivityRecord
	order      []models.Category
}

// New creates an empty classifier.
func New(cfg Config) *Classifier {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Classifier{
		cfg:        cfg,
		byCategory: make(map[models.Category][]models.ActivityRecord),
	}
}

// Threshold returns the effective filing threshold.
func (c *Classifier) Threshold() float64 {
	return c.cfg.Threshold
}

// Consider files the record when its category is known and its risk is
// strictly above the threshold. It reports whether the record was filed.
func (c *Classifier) Consider(activity string, risk float64) bool {
	category := extract.CategoryOf(activity)
	if category == models.CategoryNone {
		return false
	}
	if !(risk > c.cfg.Threshold) {
		return false
	}
	if _, seen := c.byCategory[category]; !seen {
		c.order = append(c.order, category)
	}
	c.byCategory[category] = append(c.byCategory[category], models.ActivityRecord{
		Activity: activity,
		Risk:     risk,
	})
	return true
}

// CategoryCounts returns the number of records per seen category.
func (c *Classifier) CategoryCounts() map[models.Category]int {
	out := make(map[models.Category]int, len(c.byCategory))
	for category, records := range c.byCategory {
		out[category] = len(records)
	}
	return out
}

// Categories returns seen categories in the order they were first filed.
func (c *Classifier) Categories() []models.Category {
	out := make([]models.Category, len(c.order))
	copy(out, c.order)
	return out
}

// EntriesFor returns the records of a category in filing order. Unseen
// categories yield an empty slice.
func (c *Classifier) EntriesFor(category models.Category) []models.ActivityRecord {
	records := c.byCategory[category]
	out := make([]models.ActivityRecord, len(records))
	copy(out, records)
	return out
}

// Total returns the number of filed records.
func (c *Classifier) Total() int {
	n := 0
	for _, records := range c.byCategory {
		n += len(records)
	}
	return n
}

// Reset drops every filed record.
func (c *Classifier) Reset() {
	c.byCategory = make(map[models.Category][]models.ActivityRecord)
	c.order = nil
}
