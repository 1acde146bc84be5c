package synthesizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	statex "github.com/pattarawit/ensemble/agent/state"
)

type fakeRunner struct {
	content string
	err     error
	inputs  []map[string]any
}

func (f *fakeRunner) Invoke(ctx context.Context, in map[string]any, opts ...compose.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.content, nil), nil
}

func (f *fakeRunner) Stream(ctx context.Context, in map[string]any, opts ...compose.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (f *fakeRunner) Collect(ctx context.Context, in *schema.StreamReader[map[string]any], opts ...compose.Option) (*schema.Message, error) {
	return nil, errors.New("collect not supported")
}

func (f *fakeRunner) Transform(ctx context.Context, in *schema.StreamReader[map[string]any], opts ...compose.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("transform not supported")
}

func newTestContext(outputs map[string]string) *statex.Context {
	c := statex.NewContext("what is our refund policy?", "u1", "c1", time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	c.Intent = "policy question"
	for name, value := range outputs {
		c.SetOutput(name, value)
	}
	return c
}

func TestSynthesizeApologyWithoutOutputs(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{content: "should not be called"}
	s := &Synthesizer{runner: runner}

	got := s.Synthesize(context.Background(), newTestContext(nil))
	if got != ApologyReply {
		t.Fatalf("unexpected reply: %q", got)
	}
	if len(runner.inputs) != 0 {
		t.Fatalf("model must not be invoked with nothing to merge, got %d calls", len(runner.inputs))
	}
}

func TestSynthesizeMergesContextAndResponses(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{content: "Refunds are accepted within 30 days."}
	s := &Synthesizer{runner: runner}

	got := s.Synthesize(context.Background(), newTestContext(map[string]string{
		"knowledge": "Refund window: 30 days.",
		"general":   "We have a refund policy.",
	}))
	if got != "Refunds are accepted within 30 days." {
		t.Fatalf("unexpected reply: %q", got)
	}

	if len(runner.inputs) != 1 {
		t.Fatalf("expected one invoke, got %d", len(runner.inputs))
	}
	input, _ := runner.inputs[0]["input"].(string)
	for _, want := range []string{
		"Original User Question: what is our refund policy?",
		"Intent: policy question",
		"=== CONTEXT ===",
		"## Company Knowledge",
		"Refund window: 30 days.",
		"=== AGENT RESPONSES ===",
		"## Response",
	} {
		if !strings.Contains(input, want) {
			t.Fatalf("synthesis input missing %q:\n%s", want, input)
		}
	}
}

func TestSynthesizeSkipsEmptyContextBlock(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{content: "merged"}
	s := &Synthesizer{runner: runner}

	s.Synthesize(context.Background(), newTestContext(map[string]string{
		"general": "first take",
		"writing": "second take",
	}))

	input, _ := runner.inputs[0]["input"].(string)
	if strings.Contains(input, "=== CONTEXT ===") {
		t.Fatalf("context block must be omitted without retrieval output:\n%s", input)
	}
	if !strings.Contains(input, "=== AGENT RESPONSES ===") {
		t.Fatalf("responses block missing:\n%s", input)
	}
}

func TestSynthesizeDegradesOnModelError(t *testing.T) {
	t.Parallel()

	s := &Synthesizer{runner: &fakeRunner{err: errors.New("upstream unavailable")}}

	got := s.Synthesize(context.Background(), newTestContext(map[string]string{
		"knowledge": "Refund window: 30 days.",
		"general":   "We have a refund policy.",
	}))

	for _, want := range []string{"## Company Knowledge", "Refund window: 30 days.", "## Response", "We have a refund policy."} {
		if !strings.Contains(got, want) {
			t.Fatalf("degraded reply missing %q:\n%s", want, got)
		}
	}
}

func TestSynthesizeDegradesOnEmptyContent(t *testing.T) {
	t.Parallel()

	s := &Synthesizer{runner: &fakeRunner{content: "   "}}

	got := s.Synthesize(context.Background(), newTestContext(map[string]string{
		"writing": "a finished draft",
	}))
	if !strings.Contains(got, "a finished draft") {
		t.Fatalf("degraded reply missing draft: %q", got)
	}
}
