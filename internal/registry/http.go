package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/servicehub/vetted/internal/model"
)

var tracer = otel.Tracer("vetted/registry")

// Default client settings. Registries are government endpoints with strict
// fair-use limits, so the defaults are conservative.
const (
	defaultRequestTimeout = 10 * time.Second
	defaultRate           = rate.Limit(5) // lookups per second
	defaultBurst          = 5
	defaultMaxFailures    = 5
	defaultOpenTimeout    = 30 * time.Second
)

// HTTPConfig configures an HTTPRegistry.
type HTTPConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	// Rate is sustained lookups per second; Burst the bucket capacity.
	Rate  float64
	Burst int
	// MaxFailures is consecutive failures before the circuit opens.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a probe.
	OpenTimeout time.Duration
}

// HTTPRegistry calls a real registry endpoint over HTTP. Lookups are rate
// limited and routed through a circuit breaker: when the registry fails
// repeatedly, subsequent calls fail fast with ErrUnavailable instead of
// piling timeouts onto a struggling upstream.
type HTTPRegistry struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[model.IdentityRecord]
	logger     *slog.Logger
}

// NewHTTPRegistry creates a registry client. Zero-valued config fields fall
// back to defaults.
func NewHTTPRegistry(cfg HTTPConfig, logger *slog.Logger) *HTTPRegistry {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	r := rate.Limit(cfg.Rate)
	if r == 0 {
		r = defaultRate
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = defaultBurst
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout == 0 {
		openTimeout = defaultOpenTimeout
	}

	cb := gobreaker.NewCircuitBreaker[model.IdentityRecord](gobreaker.Settings{
		Name:        "registry",
		MaxRequests: 1, // one probe in half-open state
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("registry: circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Deterministic outcomes are not upstream failures.
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidFormat)
		},
	})

	return &HTTPRegistry{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(r, burst),
		breaker:    cb,
		logger:     logger,
	}
}

type verifyResponse struct {
	Exists     bool   `json:"exists"`
	HolderName string `json:"holder_name"`
	Phone      string `json:"phone"`
}

// Verify implements Registry. The format check runs locally before any
// rate-limit wait or network call.
func (r *HTTPRegistry) Verify(ctx context.Context, docType model.DocumentType, number string) (model.IdentityRecord, error) {
	if err := CheckFormat(docType, number); err != nil {
		return model.IdentityRecord{}, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return model.IdentityRecord{}, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}

	rec, err := r.breaker.Execute(func() (model.IdentityRecord, error) {
		return r.lookup(ctx, docType, number)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return model.IdentityRecord{}, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return model.IdentityRecord{}, err
	}
	return rec, nil
}

func (r *HTTPRegistry) lookup(ctx context.Context, docType model.DocumentType, number string) (rec model.IdentityRecord, err error) {
	ctx, span := tracer.Start(ctx, "registry.lookup",
		trace.WithAttributes(attribute.String("vetted.document_type", string(docType))),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	url := fmt.Sprintf("%s/v1/documents/%s/%s", r.baseURL, docType, number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.IdentityRecord{}, fmt.Errorf("registry: create request: %w", err)
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are transient.
		return model.IdentityRecord{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return model.IdentityRecord{}, fmt.Errorf("%w: %s %q", ErrNotFound, docType, number)
	case resp.StatusCode == http.StatusBadRequest:
		return model.IdentityRecord{}, fmt.Errorf("%w: %s %q rejected upstream", ErrInvalidFormat, docType, number)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.IdentityRecord{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.IdentityRecord{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if !result.Exists {
		return model.IdentityRecord{}, fmt.Errorf("%w: %s %q", ErrNotFound, docType, number)
	}

	return model.IdentityRecord{
		DocumentType:   docType,
		DocumentNumber: number,
		FormatValid:    true,
		Exists:         true,
		HolderName:     result.HolderName,
		Phone:          result.Phone,
		FetchedAt:      time.Now().UTC(),
	}, nil
}
