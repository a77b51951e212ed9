// Package enrich runs optional model-backed refinement passes on top of the
// static analyses. Every call is best-effort: when the service is disabled,
// the request fails, times out, or the response cannot be decoded, callers
// keep their static results unchanged.
package enrich

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"perflens/internal/llm"
	"perflens/internal/util/jsonutil"
)

// DefaultTimeout bounds a single enrichment request.
const DefaultTimeout = 45 * time.Second

// Service wraps an llm.Client for use by the analysis stages. A nil Service
// or nil Client means enrichment is disabled and every Call reports ok=false.
type Service struct {
	Client  llm.Client
	Timeout time.Duration
}

func NewService(client llm.Client) *Service {
	return &Service{Client: client, Timeout: DefaultTimeout}
}

// Enabled reports whether calls will actually reach a model.
func (s *Service) Enabled() bool { return s != nil && s.Client != nil }

// Call sends one enrichment request tagged with phase and decodes the
// response into T. ok=false covers disabled service, transport failure, and
// undecodable responses alike; it is never an error for the pipeline.
func Call[T any](ctx context.Context, s *Service, phase, prompt string, input any) (T, bool) {
	var zero T
	raw, ok := s.raw(ctx, phase, prompt, input)
	if !ok {
		return zero, false
	}
	var out T
	if err := jsonutil.UnmarshalFlex(raw, &out); err != nil {
		log.Printf("[%s] enrichment response malformed: %v", phase, err)
		return zero, false
	}
	return out, true
}

func (s *Service) raw(ctx context.Context, phase, prompt string, input any) (json.RawMessage, bool) {
	if !s.Enabled() {
		return nil, false
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(llm.WithPhase(ctx, phase), timeout)
	defer cancel()

	resp, err := s.Client.GenerateJSON(ctx, prompt, input)
	if err != nil {
		log.Printf("[%s] enrichment call failed: %v", phase, err)
		return nil, false
	}
	block, ok := FirstJSONBlock(string(resp))
	if !ok {
		log.Printf("[%s] enrichment response carried no JSON", phase)
		return nil, false
	}
	return block, true
}
