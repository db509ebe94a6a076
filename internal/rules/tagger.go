// Package rules tags activity messages with matching Sigma rules.
package rules

import "riskdash/pkg/models"

// Tagger annotates an activity message with rule hits.
type Tagger interface {
	Apply(msg *models.Message) []models.RuleTag
}

// NoopTagger returns no tags.
type NoopTagger struct{}

// Apply returns an empty tag list.
func (NoopTagger) Apply(*models.Message) []models.RuleTag {
	return nil
}
