// Package biometric is the capability boundary around the external face
// matching engine. The core consumes only a match score; the matching
// algorithm itself is never implemented here.
package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	dErrors "dosegate/pkg/domain-errors"
)

// Sample is a raw probe captured by the client device. Opaque to the core.
type Sample []byte

// Verifier scores a probe sample against an enrolled template.
// Scores are in [0,100]; the threshold comparison belongs to the session
// machine, not the verifier.
type Verifier interface {
	Score(ctx context.Context, sample Sample, templateRef string) (float64, error)
}

var tracer = otel.Tracer("dosegate/biometric")

// HTTPVerifier calls an external matching engine over HTTP.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
}

func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type scoreRequest struct {
	Sample      []byte `json:"sample"`
	TemplateRef string `json:"template_ref"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score posts the probe to the matching engine. Transport failures surface as
// SensorUnavailable: the client may retry within its stage retry budget.
func (v *HTTPVerifier) Score(ctx context.Context, sample Sample, templateRef string) (float64, error) {
	ctx, span := tracer.Start(ctx, "biometric.Score")
	defer span.End()

	body, err := json.Marshal(scoreRequest{Sample: sample, TemplateRef: templateRef})
	if err != nil {
		return 0, fmt.Errorf("marshal score request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/match", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeSensorUnavailable, "matching engine unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		return 0, dErrors.New(dErrors.CodeSensorUnavailable,
			fmt.Sprintf("matching engine returned status %d", resp.StatusCode))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeSensorUnavailable, "invalid matching engine response")
	}
	if out.Score < 0 || out.Score > 100 {
		return 0, dErrors.New(dErrors.CodeInternal, "matching engine score out of range")
	}
	span.SetAttributes(attribute.Float64("biometric.score", out.Score))
	return out.Score, nil
}

// StaticVerifier returns a fixed score. Test double.
type StaticVerifier struct {
	FixedScore float64
	Err        error
}

func (v StaticVerifier) Score(context.Context, Sample, string) (float64, error) {
	if v.Err != nil {
		return 0, v.Err
	}
	return v.FixedScore, nil
}
