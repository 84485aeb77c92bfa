package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/servicehub/vetted/internal/model"
)

// Risk contributions of the rule checks shared by the service-quality,
// support, and QA evaluators.
const (
	ruleRiskBannedTerm   = 45.0
	ruleRiskDuplicate    = 30.0
	ruleRiskShortContent = 20.0
	ruleRiskNoContent    = 25.0
)

var ruleFolder = cases.Fold()

// defaultMinContentLength applies when the agent config carries none.
const defaultMinContentLength = 20

type contentRecord struct {
	taskID   string
	targetID string
}

// RuleEvaluator runs the rule checks behind the service-quality, support,
// and QA agents: duplicate detection, content-quality heuristics, and
// banned-term compliance scans. All three agent types share the checks and
// differ only in configuration, keeping new rule sets a config change.
type RuleEvaluator struct {
	logger *slog.Logger

	mu   sync.Mutex
	seen map[uint64]contentRecord
}

// NewRuleEvaluator creates a rule evaluator with an empty duplicate window.
func NewRuleEvaluator(logger *slog.Logger) *RuleEvaluator {
	return &RuleEvaluator{logger: logger, seen: make(map[uint64]contentRecord)}
}

// Evaluate implements Evaluator.
func (e *RuleEvaluator) Evaluate(_ context.Context, cfg model.AgentConfig, task model.Task) (model.Decision, error) {
	var settings model.RuleSettings
	if cfg.Rules != nil {
		settings = *cfg.Rules
	}
	minLen := settings.MinContentLength
	if minLen <= 0 {
		minLen = defaultMinContentLength
	}

	content := strings.TrimSpace(task.PayloadString("content"))
	folded := ruleFolder.String(content)

	var (
		risk     float64
		evidence []string
		banned   []string
	)

	switch {
	case content == "":
		risk += ruleRiskNoContent
		evidence = append(evidence, "no content supplied for review")
	case len(content) < minLen:
		risk += ruleRiskShortContent
		evidence = append(evidence, fmt.Sprintf("content length %d below minimum %d", len(content), minLen))
	}

	for _, term := range settings.BannedTerms {
		if term != "" && strings.Contains(folded, ruleFolder.String(term)) {
			banned = append(banned, term)
		}
	}
	if len(banned) > 0 {
		risk += ruleRiskBannedTerm
		evidence = append(evidence, fmt.Sprintf("content contains banned terms: %s", strings.Join(banned, ", ")))
	}

	var duplicateOf string
	if content != "" {
		duplicateOf = e.recordContent(folded, task)
		if duplicateOf != "" {
			risk += ruleRiskDuplicate
			evidence = append(evidence, fmt.Sprintf("content duplicates target %s", duplicateOf))
		}
	}

	risk = clamp(risk)
	d := model.Decision{
		Risk:       risk,
		Confidence: clamp(100 - risk),
		Evidence:   evidence,
	}
	switch {
	case len(banned) > 0:
		d.Value = model.DecisionReject
		d.Reasoning = "content fails compliance scan"
	case duplicateOf != "":
		d.Value = model.DecisionFlagForReview
		d.Reasoning = "content previously submitted by a different target"
	case content == "" || len(content) < minLen:
		d.Value = model.DecisionRequestInfo
		d.Reasoning = "content too thin to assess"
	default:
		d.Value = model.DecisionApprove
		d.Reasoning = "all rule checks passed"
	}
	return d, nil
}

// recordContent registers the task's content hash and returns the target ID
// of a previous submission of identical content by a different target, or
// "" when the content is first-seen. Re-evaluating the same task (a retried
// transient failure) never counts as its own duplicate.
func (e *RuleEvaluator) recordContent(folded string, task model.Task) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(folded))
	key := h.Sum64()

	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.seen[key]; ok {
		if rec.taskID == task.ID.String() || rec.targetID == task.TargetID {
			return ""
		}
		return rec.targetID
	}
	e.seen[key] = contentRecord{taskID: task.ID.String(), targetID: task.TargetID}
	return ""
}
