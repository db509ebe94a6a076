package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"riskdash/internal/extract"
	"riskdash/pkg/models"
)

// Product is the Sigma logsource product accepted besides an empty one.
const Product = "riskdash"

var techniqueTagRegex = regexp.MustCompile(`^attack\.t\d{4}(?:\.\d{3})?$`)

// LoadStats counts loaded and skipped rule files.
type LoadStats struct {
	TotalFiles     int
	Loaded         int
	SkippedSource  int
	SkippedComplex int
	SkippedInvalid int
}

type compiledRule struct {
	eval *sigmaevaluator.RuleEvaluator
	tag  models.RuleTag
}

// SigmaTagger evaluates single-event Sigma rules against activity messages.
type SigmaTagger struct {
	rules []compiledRule
}

// LoadSigma compiles every rule found at path, which may be a single YAML
// file or a directory tree. Rules that need correlation, keywords or another
// log source are skipped and counted.
func LoadSigma(path string) (*SigmaTagger, LoadStats, error) {
	var stats LoadStats

	files, err := ruleFiles(path)
	if err != nil {
		return nil, stats, err
	}

	stats.TotalFiles = len(files)
	compiled := make([]compiledRule, 0, len(files))
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		rule, err := sigma.ParseRule(raw)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		if !acceptsSource(rule) {
			stats.SkippedSource++
			continue
		}
		if !singleEvent(rule) {
			stats.SkippedComplex++
			continue
		}
		compiled = append(compiled, compiledRule{
			eval: sigmaevaluator.ForRule(rule),
			tag:  tagFromRule(rule),
		})
		stats.Loaded++
	}

	return &SigmaTagger{rules: compiled}, stats, nil
}

// Len returns the number of compiled rules.
func (t *SigmaTagger) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

// Apply returns the tags of every rule matching the message.
func (t *SigmaTagger) Apply(msg *models.Message) []models.RuleTag {
	if t == nil || msg == nil || len(t.rules) == 0 {
		return nil
	}

	event := eventFrom(msg)
	ctx := context.Background()
	var out []models.RuleTag
	for _, r := range t.rules {
		res, err := r.eval.Matches(ctx, event)
		if err != nil || !res.Match {
			continue
		}
		out = append(out, r.tag)
	}
	return out
}

func ruleFiles(path string) ([]string, error) {
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rule path: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat rule path: %w", err)
	}
	if !info.IsDir() {
		if !isYAML(resolved) {
			return nil, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		return []string{resolved}, nil
	}

	var files []string
	err = filepath.WalkDir(resolved, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && isYAML(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk rule directory: %w", err)
	}
	return files, nil
}

func isYAML(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func acceptsSource(rule sigma.Rule) bool {
	product := strings.ToLower(strings.TrimSpace(rule.Logsource.Product))
	return product == "" || product == Product
}

func singleEvent(rule sigma.Rule) bool {
	if rule.Detection.Timeframe > 0 {
		return false
	}
	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil || !simpleExpr(cond.Search) {
			return false
		}
	}
	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 || len(search.EventMatchers) == 0 {
			return false
		}
	}
	return true
}

func simpleExpr(expr sigma.SearchExpr) bool {
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.And:
		for _, child := range e {
			if !simpleExpr(child) {
				return false
			}
		}
		return true
	case sigma.Or:
		for _, child := range e {
			if !simpleExpr(child) {
				return false
			}
		}
		return true
	case sigma.Not:
		return simpleExpr(e.Expr)
	default:
		return false
	}
}

// eventFrom flattens a message for the evaluator. Values are rendered as
// strings so numeric fields can be matched with modifiers like |startswith.
func eventFrom(msg *models.Message) map[string]interface{} {
	event := make(map[string]interface{}, len(msg.Fields)+1)
	for k := range msg.Fields {
		event[k] = msg.Field(k)
	}
	if cat := extract.CategoryOf(msg.Activity()); cat != models.CategoryNone {
		event["category"] = string(cat)
	}
	return event
}

func tagFromRule(rule sigma.Rule) models.RuleTag {
	id := strings.TrimSpace(rule.ID)
	if id == "" {
		id = strings.TrimSpace(rule.Title)
	}
	level := strings.ToLower(strings.TrimSpace(rule.Level))
	if level == "" {
		level = "medium"
	}
	tactic, technique := attackTags(rule.Tags)
	return models.RuleTag{
		ID:        id,
		Name:      strings.TrimSpace(rule.Title),
		Severity:  level,
		Tactic:    tactic,
		Technique: technique,
	}
}

func attackTags(tags []string) (tactic, technique string) {
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if !strings.HasPrefix(tag, "attack.") {
			continue
		}
		suffix := strings.TrimPrefix(tag, "attack.")
		if technique == "" && techniqueTagRegex.MatchString(tag) {
			technique = strings.ToUpper(strings.ReplaceAll(suffix, ".", "/"))
			continue
		}
		if tactic == "" && !strings.HasPrefix(suffix, "t") {
			tactic = strings.ReplaceAll(suffix, "_", "-")
		}
	}
	return tactic, technique
}
