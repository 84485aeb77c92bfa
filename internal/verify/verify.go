// Package verify implements the cross-verification engine: confirming that
// two independent identity documents agree on holder identity via phone and
// name comparison. Phone agreement across two government documents is used
// as a proxy for document authenticity and ownership.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/servicehub/vetted/internal/model"
	"github.com/servicehub/vetted/internal/registry"
)

var tracer = otel.Tracer("vetted/verify")

// Document identifies one document to cross-verify.
type Document struct {
	Type   model.DocumentType
	Number string
}

// Engine cross-verifies document pairs against an injected registry.
type Engine struct {
	registry registry.Registry
	logger   *slog.Logger
}

// New creates an engine backed by reg.
func New(reg registry.Registry, logger *slog.Logger) *Engine {
	return &Engine{registry: reg, logger: logger}
}

// CrossVerify looks up both documents concurrently and compares their
// registered phone numbers and holder names against claimedName.
//
// Deterministic verification failures (invalid format, not found, phone or
// name mismatch) produce an unmatched result with reasons, not an error.
// The only error returned is a transient registry failure, which the caller
// retries.
func (e *Engine) CrossVerify(ctx context.Context, docA, docB Document, claimedName string) (result model.CrossVerificationResult, err error) {
	ctx, span := tracer.Start(ctx, "verify.cross_verify",
		trace.WithAttributes(
			attribute.String("vetted.doc_a", string(docA.Type)),
			attribute.String("vetted.doc_b", string(docB.Type)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
		} else {
			span.SetAttributes(attribute.Bool("vetted.matched", result.Matched))
		}
		span.End()
	}()

	var recs [2]model.IdentityRecord
	var reasons [2]string

	g, ctx := errgroup.WithContext(ctx)
	for i, doc := range []Document{docA, docB} {
		g.Go(func() error {
			rec, err := e.registry.Verify(ctx, doc.Type, doc.Number)
			switch {
			case err == nil:
				recs[i] = rec
				return nil
			case errors.Is(err, registry.ErrInvalidFormat):
				reasons[i] = fmt.Sprintf("document %s %q failed format validation", doc.Type, doc.Number)
				return nil
			case errors.Is(err, registry.ErrNotFound):
				reasons[i] = fmt.Sprintf("document %s %q not found in registry", doc.Type, doc.Number)
				return nil
			default:
				// Transient: abort the other lookup and surface to the caller.
				return fmt.Errorf("verify: lookup %s %q: %w", doc.Type, doc.Number, err)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return model.CrossVerificationResult{}, err
	}

	result = model.CrossVerificationResult{
		PhoneA: recs[0].Phone,
		PhoneB: recs[1].Phone,
		NameA:  recs[0].HolderName,
		NameB:  recs[1].HolderName,
	}

	// Either document failing deterministically ends verification here:
	// phone and name comparison against a missing record proves nothing.
	for _, r := range reasons {
		if r != "" {
			result.Reasons = append(result.Reasons, r)
		}
	}
	if len(result.Reasons) > 0 {
		return result, nil
	}

	phoneA := CanonicalPhone(recs[0].Phone)
	phoneB := CanonicalPhone(recs[1].Phone)
	if phoneA == "" || phoneA != phoneB {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"registered phone numbers disagree: %s has %q, %s has %q",
			docA.Type, recs[0].Phone, docB.Type, recs[1].Phone))
		return result, nil
	}

	nameA := NormalizeName(recs[0].HolderName)
	nameB := NormalizeName(recs[1].HolderName)
	claimed := NormalizeName(claimedName)

	// The claimed name must equal at least one registry name, or the two
	// registry names must equal each other. Any pairwise equality tolerates
	// minor transcription differences in the third value.
	if claimed != nameA && claimed != nameB && nameA != nameB {
		result.Reasons = append(result.Reasons, fmt.Sprintf(
			"holder names disagree: claimed %q, %s has %q, %s has %q",
			claimedName, docA.Type, recs[0].HolderName, docB.Type, recs[1].HolderName))
		return result, nil
	}

	result.Matched = true
	result.VerifiedPhone = phoneA
	e.logger.Debug("verify: documents matched",
		"doc_a", docA.Type,
		"doc_b", docB.Type,
		"phone", phoneA,
	)
	return result, nil
}

var nameFolder = cases.Fold()

// NormalizeName case-folds a name and collapses interior whitespace so that
// registry and user transcriptions compare on content, not formatting.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(nameFolder.String(name)), " ")
}
