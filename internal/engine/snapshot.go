package engine

import (
	"riskdash/internal/applog"
	"riskdash/internal/extract"
	"riskdash/internal/riskseries"
	"riskdash/internal/workflow"
	"riskdash/pkg/models"
)

// LogLine is a log entry as presented to renderers.
type LogLine struct {
	models.LogEntry
	Recent    bool             `json:"recent"`
	RiskLevel models.RiskLevel `json:"risk_level,omitempty"`
}

// RuleHit is an activity message matched by at least one rule.
type RuleHit struct {
	Index    int              `json:"index"`
	User     string           `json:"user"`
	Activity string           `json:"activity"`
	Tags     []models.RuleTag `json:"tags"`
}

// Snapshot is an immutable view of a session's derived state.
type Snapshot struct {
	Version          uint64                  `json:"version"`
	Mounted          bool                    `json:"mounted"`
	ProducerLog      []LogLine               `json:"producer_log"`
	MessageLog       []LogLine               `json:"message_log"`
	RiskSeries       []riskseries.ChartPoint `json:"risk_series"`
	RiskStats        riskseries.Stats        `json:"risk_stats"`
	CategoryCounts   map[models.Category]int `json:"category_counts"`
	Categories       []models.Category       `json:"categories"`
	FlaggedTotal     int                     `json:"flagged_total"`
	SelectedCategory models.Category         `json:"selected_category"`
	SelectedEntries  []models.ActivityRecord `json:"selected_entries"`
	RuleHits         []RuleHit               `json:"rule_hits"`
	Viewport         models.ViewportState    `json:"viewport"`
	Workflow         models.WorkflowState    `json:"workflow"`
	Emails           []workflow.EmailView    `json:"emails"`
}

func logLines(store *applog.Store, tagRisk bool) []LogLine {
	entries := store.Snapshot()
	out := make([]LogLine, len(entries))
	for i, e := range entries {
		out[i] = LogLine{LogEntry: e, Recent: store.IsRecentlyArrived(e.Index)}
		if tagRisk {
			out[i].RiskLevel = extract.ClassifyRiskLevel(e.Text)
		}
	}
	return out
}

func (s *Session) buildSnapshot(version uint64, mounted bool) *Snapshot {
	points := s.risk.Snapshot()
	wf := s.workflow.State()
	hits := make([]RuleHit, len(s.ruleHits))
	copy(hits, s.ruleHits)
	return &Snapshot{
		Version:          version,
		Mounted:          mounted,
		ProducerLog:      logLines(s.producer, true),
		MessageLog:       logLines(s.messages, false),
		RiskSeries:       riskseries.Project(points),
		RiskStats:        riskseries.Summarize(points),
		CategoryCounts:   s.classifier.CategoryCounts(),
		Categories:       s.classifier.Categories(),
		FlaggedTotal:     s.classifier.Total(),
		SelectedCategory: s.selectedCategory,
		SelectedEntries:  s.classifier.EntriesFor(s.selectedCategory),
		RuleHits:         hits,
		Viewport:         s.viewport.State(),
		Workflow:         wf,
		Emails:           workflow.DeriveAll(wf.EmailResults),
	}
}
