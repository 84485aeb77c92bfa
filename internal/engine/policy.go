package engine

import "github.com/servicehub/vetted/internal/model"

// Route applies the auto-approval policy to a scored decision and returns
// the task status it produces.
//
// A decision completes without sign-off only when every gate passes: the
// evaluator did not flag mandatory review, confidence and risk sit inside
// the agent's bounds, auto-approval is enabled, confidence meets the
// threshold (inclusive at equality), and risk is strictly below the
// ceiling. Any other scored decision is routed to a human, regardless of
// its raw value, and HumanReviewRequired is set on the decision.
func Route(cfg model.AgentConfig, d *model.Decision) model.TaskStatus {
	switch {
	case d.HumanReviewRequired:
	case d.Confidence < cfg.MinConfidence:
	case d.Risk > cfg.MaxRisk:
	case !cfg.AutoApproveEnabled:
	case d.Confidence >= cfg.AutoApproveThreshold && d.Risk < cfg.MaxRisk:
		return model.TaskCompleted
	}
	d.HumanReviewRequired = true
	return model.TaskRequiresHuman
}
