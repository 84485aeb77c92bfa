package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/servicehub/vetted/internal/model"
)

// fraudSignalWeights maps known fraud signals, supplied in the task payload
// by upstream detectors, to their risk contribution.
var fraudSignalWeights = map[string]float64{
	"chargeback_history":   35,
	"payment_method_reuse": 25,
	"velocity_spike":       20,
	"identity_reuse":       20,
	"location_mismatch":    15,
	"disposable_email":     15,
	"new_account":          10,
}

// Default threshold set used when the agent config carries none.
var defaultFraudSettings = model.FraudSettings{
	HighRiskThreshold:   70,
	MediumRiskThreshold: 40,
	LowRiskThreshold:    20,
}

// FraudEvaluator scores fraud signals against the agent's configured
// {high, medium, low} thresholds. Its decisions are advisory: the fraud
// agent ships with auto-approval disabled, so every outcome passes a human
// unless an operator explicitly overrides that.
type FraudEvaluator struct {
	logger *slog.Logger
}

// NewFraudEvaluator creates a fraud evaluator.
func NewFraudEvaluator(logger *slog.Logger) *FraudEvaluator {
	return &FraudEvaluator{logger: logger}
}

// Evaluate implements Evaluator.
func (e *FraudEvaluator) Evaluate(_ context.Context, cfg model.AgentConfig, task model.Task) (model.Decision, error) {
	settings := defaultFraudSettings
	if cfg.Fraud != nil {
		settings = *cfg.Fraud
	}

	signals := payloadSignals(task)
	var (
		risk     float64
		evidence []string
	)
	for _, s := range signals {
		w, known := fraudSignalWeights[s]
		if !known {
			evidence = append(evidence, fmt.Sprintf("unrecognized signal %q ignored", s))
			continue
		}
		risk += w
		evidence = append(evidence, fmt.Sprintf("signal %s (+%v risk)", s, w))
	}
	risk = clamp(risk)

	d := model.Decision{
		Risk:     risk,
		Evidence: evidence,
		Metadata: map[string]any{"signals": signals},
	}
	switch {
	case risk >= settings.HighRiskThreshold:
		d.Value = model.DecisionReject
		d.Confidence = clamp(risk)
		d.Reasoning = fmt.Sprintf("risk %.0f at or above high threshold %.0f", risk, settings.HighRiskThreshold)
		// Pattern match at the high threshold is a mandatory-review rule,
		// independent of the auto-approval policy.
		d.HumanReviewRequired = true
	case risk >= settings.MediumRiskThreshold:
		d.Value = model.DecisionFlagForReview
		d.Confidence = clamp(50 + risk - settings.MediumRiskThreshold)
		d.Reasoning = fmt.Sprintf("risk %.0f between medium %.0f and high %.0f thresholds", risk, settings.MediumRiskThreshold, settings.HighRiskThreshold)
	case risk >= settings.LowRiskThreshold:
		d.Value = model.DecisionRequestInfo
		d.Confidence = 50
		d.Reasoning = fmt.Sprintf("risk %.0f between low %.0f and medium %.0f thresholds", risk, settings.LowRiskThreshold, settings.MediumRiskThreshold)
	default:
		d.Value = model.DecisionApprove
		d.Confidence = clamp(100 - risk)
		d.Reasoning = fmt.Sprintf("risk %.0f below low threshold %.0f", risk, settings.LowRiskThreshold)
	}
	return d, nil
}

// payloadSignals extracts the sorted, de-duplicated signal names from the
// task payload's "signals" entry.
func payloadSignals(task model.Task) []string {
	raw, ok := task.Payload["signals"]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	switch vs := raw.(type) {
	case []string:
		for _, s := range vs {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	case []any:
		for _, v := range vs {
			if s, ok := v.(string); ok && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
