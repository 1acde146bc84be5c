package workflow

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/pattarawit/ensemble/agent/contract"
	statex "github.com/pattarawit/ensemble/agent/state"
)

type fakeRouter struct {
	decision contractx.RouteDecision
	calls    int
}

func (f *fakeRouter) Route(ctx context.Context, query string) contractx.RouteDecision {
	f.calls++
	return f.decision
}

type fakeHandler struct {
	name   string
	kind   statex.Kind
	output string
	err    error
	calls  int

	// Shared across handlers to observe cross-phase execution order.
	order *[]string

	// Retrieval sections visible at run time, recorded for grounding checks.
	seenContext int
}

func (f *fakeHandler) Name() string {
	return f.name
}

func (f *fakeHandler) Kind() statex.Kind {
	return f.kind
}

func (f *fakeHandler) Run(ctx context.Context, wctx *statex.Context) (string, error) {
	f.calls++
	if f.order != nil {
		*f.order = append(*f.order, f.name)
	}
	f.seenContext = len(wctx.RetrievalOutputs())
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

type fakeRegistry struct {
	handlers map[string]contractx.Handler
}

func (f *fakeRegistry) Handler(name string) (contractx.Handler, bool) {
	h, ok := f.handlers[name]
	return h, ok
}

type fakeSynthesizer struct {
	reply string
	calls int
	seen  *statex.Context
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, wctx *statex.Context) string {
	f.calls++
	f.seen = wctx
	return f.reply
}

func newTestService(t *testing.T, router contractx.Router, handlers map[string]contractx.Handler, synth contractx.Synthesizer) *Service {
	t.Helper()
	s, err := New(router, &fakeRegistry{handlers: handlers}, synth)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestHandleQueryRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	s := newTestService(t,
		&fakeRouter{},
		map[string]contractx.Handler{},
		&fakeSynthesizer{},
	)

	_, err := s.HandleQuery(context.Background(), Request{Query: "   "})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestHandleQuerySingleResponsePassesThrough(t *testing.T) {
	t.Parallel()

	general := &fakeHandler{name: "general", kind: statex.KindGeneration, output: "2+2 equals 4."}
	synth := &fakeSynthesizer{reply: "should not be used"}

	s := newTestService(t,
		&fakeRouter{decision: contractx.RouteDecision{Intent: "math question", SelectedHandlers: []string{"general"}}},
		map[string]contractx.Handler{"general": general},
		synth,
	)

	result, err := s.HandleQuery(context.Background(), Request{Query: "What is 2+2?"})
	if err != nil {
		t.Fatalf("HandleQuery() error = %v", err)
	}
	if result.FinalOutput != "2+2 equals 4." {
		t.Fatalf("unexpected final output: %q", result.FinalOutput)
	}
	if result.Intent != "math question" {
		t.Fatalf("unexpected intent: %q", result.Intent)
	}
	if synth.calls != 0 {
		t.Fatalf("synthesizer must not run on passthrough, got %d calls", synth.calls)
	}
	if len(result.ExecutedHandlers) != 1 || result.ExecutedHandlers[0] != "general" {
		t.Fatalf("unexpected execution trace: %v", result.ExecutedHandlers)
	}
	if !result.Final() {
		t.Fatal("context must be terminal")
	}
}

func TestHandleQueryRetrievalForcesSynthesis(t *testing.T) {
	t.Parallel()

	var order []string
	knowledge := &fakeHandler{name: "knowledge", kind: statex.KindRetrieval, output: "Company facts.", order: &order}
	writing := &fakeHandler{name: "writing", kind: statex.KindGeneration, output: "A polished draft.", order: &order}
	synth := &fakeSynthesizer{reply: "A draft grounded in company facts."}

	s := newTestService(t,
		&fakeRouter{decision: contractx.RouteDecision{Intent: "writing with grounding", SelectedHandlers: []string{"writing", "knowledge"}}},
		map[string]contractx.Handler{"knowledge": knowledge, "writing": writing},
		synth,
	)

	result, err := s.HandleQuery(context.Background(), Request{Query: "write about our company"})
	if err != nil {
		t.Fatalf("HandleQuery() error = %v", err)
	}
	if result.FinalOutput != "A draft grounded in company facts." {
		t.Fatalf("unexpected final output: %q", result.FinalOutput)
	}
	if synth.calls != 1 {
		t.Fatalf("expected one synthesis, got %d", synth.calls)
	}
	if len(order) != 2 || order[0] != "knowledge" || order[1] != "writing" {
		t.Fatalf("retrieval must run before generation, got %v", order)
	}
	if writing.seenContext != 1 {
		t.Fatalf("writing handler must see the retrieval section, saw %d", writing.seenContext)
	}
}

func TestHandleQueryEmptySelectionSynthesizesApology(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{reply: "nothing to report"}
	s := newTestService(t,
		&fakeRouter{decision: contractx.RouteDecision{Intent: "unroutable", SelectedHandlers: []string{"nonexistent"}}},
		map[string]contractx.Handler{},
		synth,
	)

	result, err := s.HandleQuery(context.Background(), Request{Query: "???"})
	if err != nil {
		t.Fatalf("HandleQuery() error = %v", err)
	}
	if synth.calls != 1 {
		t.Fatalf("expected the empty case to reach the synthesizer, got %d calls", synth.calls)
	}
	if result.FinalOutput != "nothing to report" {
		t.Fatalf("unexpected final output: %q", result.FinalOutput)
	}
	if len(synth.seen.GenerationOutputs()) != 0 || len(synth.seen.RetrievalOutputs()) != 0 {
		t.Fatal("synthesizer must see an empty context")
	}
}

func TestHandleQueryFailedRetrievalStillCompletes(t *testing.T) {
	t.Parallel()

	knowledge := &fakeHandler{name: "knowledge", kind: statex.KindRetrieval, err: errors.New("backend down")}
	writing := &fakeHandler{name: "writing", kind: statex.KindGeneration, output: "answer without grounding"}
	synth := &fakeSynthesizer{reply: "unused"}

	s := newTestService(t,
		&fakeRouter{decision: contractx.RouteDecision{SelectedHandlers: []string{"knowledge", "writing"}}},
		map[string]contractx.Handler{"knowledge": knowledge, "writing": writing},
		synth,
	)

	result, err := s.HandleQuery(context.Background(), Request{Query: "write something"})
	if err != nil {
		t.Fatalf("HandleQuery() error = %v", err)
	}
	// Knowledge contributed nothing, so the single remaining response
	// qualifies for passthrough.
	if result.FinalOutput != "answer without grounding" {
		t.Fatalf("unexpected final output: %q", result.FinalOutput)
	}
	if synth.calls != 0 {
		t.Fatalf("synthesizer must not run, got %d calls", synth.calls)
	}
	if !result.Executed("knowledge") {
		t.Fatal("failed handler must still appear in the execution trace")
	}
}

func TestHandleQueryMultipleResponsesSynthesized(t *testing.T) {
	t.Parallel()

	general := &fakeHandler{name: "general", kind: statex.KindGeneration, output: "first answer"}
	code := &fakeHandler{name: "code", kind: statex.KindGeneration, output: "second answer"}
	synth := &fakeSynthesizer{reply: "combined answer"}

	s := newTestService(t,
		&fakeRouter{decision: contractx.RouteDecision{SelectedHandlers: []string{"general", "code"}}},
		map[string]contractx.Handler{"general": general, "code": code},
		synth,
	)

	result, err := s.HandleQuery(context.Background(), Request{Query: "explain and implement"})
	if err != nil {
		t.Fatalf("HandleQuery() error = %v", err)
	}
	if result.FinalOutput != "combined answer" {
		t.Fatalf("unexpected final output: %q", result.FinalOutput)
	}
	if synth.calls != 1 {
		t.Fatalf("expected one synthesis, got %d", synth.calls)
	}
}

func TestHandleQueryDuplicateSelectionRunsOnce(t *testing.T) {
	t.Parallel()

	general := &fakeHandler{name: "general", kind: statex.KindGeneration, output: "once"}
	s := newTestService(t,
		&fakeRouter{decision: contractx.RouteDecision{SelectedHandlers: []string{"general", "general"}}},
		map[string]contractx.Handler{"general": general},
		&fakeSynthesizer{},
	)

	result, err := s.HandleQuery(context.Background(), Request{Query: "hello"})
	if err != nil {
		t.Fatalf("HandleQuery() error = %v", err)
	}
	if general.calls != 1 {
		t.Fatalf("handler must run exactly once, got %d", general.calls)
	}
	if result.FinalOutput != "once" {
		t.Fatalf("unexpected final output: %q", result.FinalOutput)
	}
}

func TestHandleQueryUnknownSelectionDropped(t *testing.T) {
	t.Parallel()

	general := &fakeHandler{name: "general", kind: statex.KindGeneration, output: "just me"}
	s := newTestService(t,
		&fakeRouter{decision: contractx.RouteDecision{SelectedHandlers: []string{"general", "sql"}}},
		map[string]contractx.Handler{"general": general},
		&fakeSynthesizer{},
	)

	result, err := s.HandleQuery(context.Background(), Request{Query: "hello"})
	if err != nil {
		t.Fatalf("HandleQuery() error = %v", err)
	}
	if result.Executed("sql") {
		t.Fatal("names outside the handler table must never execute")
	}
	if result.FinalOutput != "just me" {
		t.Fatalf("unexpected final output: %q", result.FinalOutput)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakeRegistry{}, &fakeSynthesizer{}); err == nil {
		t.Fatal("expected error for nil router")
	}
	if _, err := New(&fakeRouter{}, nil, &fakeSynthesizer{}); err == nil {
		t.Fatal("expected error for nil registry")
	}
	if _, err := New(&fakeRouter{}, &fakeRegistry{}, nil); err == nil {
		t.Fatal("expected error for nil synthesizer")
	}
}
