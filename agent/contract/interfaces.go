package contract

import (
	"context"

	statex "github.com/pattarawit/ensemble/agent/state"
)

// Handler is one unit of work. It reads the shared context and returns the
// value for its own output slot; it must not touch another handler's slot.
// A failed handler returns an error and contributes nothing — the executor
// absorbs the error and the request continues.
type Handler interface {
	Name() string
	Kind() statex.Kind
	Run(ctx context.Context, wctx *statex.Context) (string, error)
}

// Router classifies the query's intent and selects which handlers run, in
// what priority. It degrades to a deterministic fallback decision on any
// parse failure, so Route never stalls the workflow.
type Router interface {
	Route(ctx context.Context, query string) RouteDecision
}

// Synthesizer merges the context's non-empty outputs into one final answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, wctx *statex.Context) string
}

// HandlerRegistry resolves handler identifiers to implementations.
type HandlerRegistry interface {
	Handler(name string) (Handler, bool)
}
