package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/servicehub/vetted/internal/model"
	"github.com/servicehub/vetted/internal/registry"
	"github.com/servicehub/vetted/internal/storage"
	"github.com/servicehub/vetted/internal/verify"
)

// Scoring weights for the KYC evaluator. Cross-verification dominates:
// two independent registries agreeing on the holder outweighs everything
// a provider typed in themselves.
const (
	kycWeightCrossVerify  = 60.0
	kycWeightFormat       = 10.0 // per document
	kycWeightCompleteness = 20.0

	kycRiskInvalidFormat  = 25.0 // per document
	kycRiskNotFound       = 30.0
	kycRiskMismatch       = 35.0
	kycRiskMissingField   = 8.0 // per missing required field
	kycRiskDuplicateDocs  = 40.0
	kycRiskSuspectedPhone = 15.0
)

// defaultRequiredFields is used when the agent config does not name its own.
var defaultRequiredFields = []string{"email", "owner_name", "phone", "national_id", "tax_id"}

// documentDupeFinder is implemented by provider stores that can detect the
// same identity document registered under a different provider.
type documentDupeFinder interface {
	CountByDocuments(ctx context.Context, excludeProviderID, nationalID, taxID string) (int, error)
}

// KYCEvaluator verifies provider identity: loads the provider record,
// checks completeness and document formats, and cross-verifies the national
// ID against the tax ID through the registry.
type KYCEvaluator struct {
	providers storage.ProviderStore
	verifier  *verify.Engine
	logger    *slog.Logger
}

// NewKYCEvaluator creates a KYC evaluator over the given provider store and
// cross-verification engine.
func NewKYCEvaluator(providers storage.ProviderStore, verifier *verify.Engine, logger *slog.Logger) *KYCEvaluator {
	return &KYCEvaluator{providers: providers, verifier: verifier, logger: logger}
}

// Evaluate implements Evaluator.
func (e *KYCEvaluator) Evaluate(ctx context.Context, cfg model.AgentConfig, task model.Task) (model.Decision, error) {
	providerID := task.PayloadString("provider_id")
	if providerID == "" {
		providerID = task.TargetID
	}

	p, err := e.providers.GetProvider(ctx, providerID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Decision{
			Value:      model.DecisionRequestInfo,
			Confidence: 0,
			Risk:       kycRiskMissingField,
			Reasoning:  fmt.Sprintf("provider record %s does not exist", providerID),
		}, nil
	}
	if err != nil {
		return model.Decision{}, fmt.Errorf("engine: load provider %s: %w", providerID, err)
	}

	var (
		confidence float64
		risk       float64
		evidence   []string
	)

	// Required-field completeness.
	required := defaultRequiredFields
	if cfg.KYC != nil && len(cfg.KYC.RequiredFields) > 0 {
		required = cfg.KYC.RequiredFields
	}
	missing := missingFields(p, required)
	if len(missing) == 0 {
		confidence += kycWeightCompleteness
	} else {
		confidence += kycWeightCompleteness * float64(len(required)-len(missing)) / float64(len(required))
		risk += kycRiskMissingField * float64(len(missing))
		evidence = append(evidence, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	// Local format checks, independent of registry availability.
	formatOK := true
	for _, doc := range []struct {
		t model.DocumentType
		n string
	}{{model.DocNationalID, p.NationalID}, {model.DocTaxID, p.TaxID}} {
		if registry.ValidFormat(doc.t, doc.n) {
			confidence += kycWeightFormat
		} else {
			formatOK = false
			risk += kycRiskInvalidFormat
			evidence = append(evidence, fmt.Sprintf("document %s %q has invalid format", doc.t, doc.n))
		}
	}

	if suspiciousPhone(p.Phone) {
		risk += kycRiskSuspectedPhone
		evidence = append(evidence, fmt.Sprintf("phone %q matches a suspicious pattern", p.Phone))
	}

	// The same document registered under another provider is the strongest
	// fraud signal KYC sees. Only stores that can answer the query are asked.
	if finder, ok := e.providers.(documentDupeFinder); ok && formatOK {
		n, err := finder.CountByDocuments(ctx, p.ID, p.NationalID, p.TaxID)
		if err != nil {
			return model.Decision{}, fmt.Errorf("engine: duplicate document check for %s: %w", p.ID, err)
		}
		if n > 0 {
			risk += kycRiskDuplicateDocs
			evidence = append(evidence, fmt.Sprintf("identity documents shared with %d other provider(s)", n))
		}
	}

	// Cross-verification. A transient registry failure aborts the whole
	// evaluation so the runtime can retry; deterministic failures score.
	var verified bool
	if formatOK {
		res, err := e.verifier.CrossVerify(ctx,
			verify.Document{Type: model.DocNationalID, Number: p.NationalID},
			verify.Document{Type: model.DocTaxID, Number: p.TaxID},
			p.OwnerName,
		)
		if err != nil {
			return model.Decision{}, err
		}
		if res.Matched {
			verified = true
			confidence += kycWeightCrossVerify
			evidence = append(evidence, fmt.Sprintf("registry records agree on holder, verified phone %s", res.VerifiedPhone))
		} else {
			evidence = append(evidence, res.Reasons...)
			if notFoundReasons(res.Reasons) {
				risk += kycRiskNotFound
			} else {
				risk += kycRiskMismatch
			}
		}
	}

	d := model.Decision{
		Confidence: clamp(confidence),
		Risk:       clamp(risk),
		Evidence:   evidence,
		Metadata:   map[string]any{"provider_id": p.ID},
	}
	switch {
	case verified && len(missing) == 0:
		d.Value = model.DecisionApprove
		d.Reasoning = "identity documents cross-verified and record complete"
	case verified:
		d.Value = model.DecisionRequestInfo
		d.Reasoning = "identity verified but provider record is incomplete"
	case !formatOK || len(missing) > 0:
		d.Value = model.DecisionRequestInfo
		d.Reasoning = "identity could not be verified from the submitted documents"
	default:
		d.Value = model.DecisionReject
		d.Reasoning = "registry records contradict the claimed identity"
	}
	return d, nil
}

// missingFields returns the names of required fields that are empty on p.
func missingFields(p model.Provider, required []string) []string {
	var missing []string
	for _, f := range required {
		var v string
		switch f {
		case "email":
			v = p.Email
		case "business_name":
			v = p.BusinessName
		case "owner_name":
			v = p.OwnerName
		case "phone":
			v = p.Phone
		case "service_name":
			v = p.ServiceName
		case "location":
			v = p.Location
		case "national_id":
			v = p.NationalID
		case "tax_id":
			v = p.TaxID
		}
		if strings.TrimSpace(v) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// suspiciousPhone flags numbers whose national part canonicalizes too
// short or consists of one repeated digit. Empty phones are a completeness
// problem, not a pattern problem, and are not flagged here.
func suspiciousPhone(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	phone := verify.CanonicalPhone(raw)
	if len(phone) < 10 {
		return true
	}
	national := phone[len(phone)-10:]
	for i := 1; i < len(national); i++ {
		if national[i] != national[0] {
			return false
		}
	}
	return true
}

// notFoundReasons reports whether every failure reason is a missing-record
// reason, as opposed to a phone or name contradiction.
func notFoundReasons(reasons []string) bool {
	for _, r := range reasons {
		if !strings.Contains(r, "not found") {
			return false
		}
	}
	return len(reasons) > 0
}
