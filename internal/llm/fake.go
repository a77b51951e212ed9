package llm

import (
	"context"
	"encoding/json"
)

// FakeClient returns deterministic canned payloads per phase for offline
// runs and tests. Entries in Canned override the phase defaults; Err, when
// set, fails every call.
type FakeClient struct {
	Canned map[string]json.RawMessage
	Err    error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{Canned: map[string]json.RawMessage{}}
}

// Set installs a canned response for a phase, marshaling v to JSON.
func (f *FakeClient) Set(phase string, v any) *FakeClient {
	b, _ := json.Marshal(v)
	f.Canned[phase] = b
	return f
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	phase := PhaseFrom(ctx)
	if raw, ok := f.Canned[phase]; ok {
		return raw, nil
	}
	switch phase {
	case "identify", "complexity", "hotspots", "advise":
		return json.RawMessage(`[]`), nil
	case "memory":
		return json.RawMessage(`{"issues":[],"pattern_summary":""}`), nil
	default:
		return json.RawMessage(`{}`), nil
	}
}
