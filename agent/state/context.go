package state

import (
	"errors"
	"strings"
	"time"
)

var ErrFinalAlreadySet = errors.New("final output already set")

// Context is the single mutable record threaded through one workflow
// invocation. It is owned by the executor for the lifetime of the request and
// mutated additively: handlers set fields, never clear another handler's.
type Context struct {
	// Identity (immutable after creation)
	Query          string `json:"query"`
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Routing decision (set once, by the router)
	Intent           string   `json:"intent,omitempty"`
	SelectedHandlers []string `json:"selected_handlers,omitempty"`

	// Execution trace (grows monotonically)
	ExecutedHandlers []string          `json:"executed_handlers,omitempty"`
	Outputs          map[string]string `json:"outputs,omitempty"` // handler name -> slot value

	FinalOutput string `json:"final_output,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	finalSet bool
}

func NewContext(query, userID, conversationID string, now time.Time) *Context {
	return &Context{
		Query:          strings.TrimSpace(query),
		UserID:         strings.TrimSpace(userID),
		ConversationID: strings.TrimSpace(conversationID),
		Outputs:        make(map[string]string, len(descriptors)),
		CreatedAt:      now.UTC(),
	}
}

// SetOutput records a handler's contribution into its own slot. Empty values
// are dropped so that "failed" and "nothing to contribute" look the same to
// the aggregation decision.
func (c *Context) SetOutput(handler string, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if c.Outputs == nil {
		c.Outputs = make(map[string]string, len(descriptors))
	}
	c.Outputs[handler] = value
}

func (c *Context) Output(handler string) (string, bool) {
	v, ok := c.Outputs[handler]
	return v, ok
}

// MarkExecuted appends the handler to the execution trace. A handler already
// present is never re-run; the executor checks Executed before each visit.
func (c *Context) MarkExecuted(handler string) {
	c.ExecutedHandlers = append(c.ExecutedHandlers, handler)
}

func (c *Context) Executed(handler string) bool {
	for _, h := range c.ExecutedHandlers {
		if h == handler {
			return true
		}
	}
	return false
}

// SetFinal writes the terminal output. It may succeed exactly once; once set
// the context is terminal.
func (c *Context) SetFinal(value string) error {
	if c.finalSet {
		return ErrFinalAlreadySet
	}
	c.FinalOutput = value
	c.finalSet = true
	return nil
}

func (c *Context) Final() bool {
	return c.finalSet
}

// RetrievalOutputs returns the non-empty retrieval-kind contributions in
// descriptor-table order.
func (c *Context) RetrievalOutputs() []Section {
	return c.outputsOfKind(KindRetrieval)
}

// GenerationOutputs returns the non-empty generation-kind contributions in
// descriptor-table order.
func (c *Context) GenerationOutputs() []Section {
	return c.outputsOfKind(KindGeneration)
}

func (c *Context) outputsOfKind(kind Kind) []Section {
	var sections []Section
	for _, d := range descriptors {
		if d.Kind != kind {
			continue
		}
		v, ok := c.Outputs[d.Name]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		sections = append(sections, Section{
			Handler: d.Name,
			Heading: d.Heading,
			Body:    v,
		})
	}
	return sections
}

// Section is a formatted handler contribution, ready for grounding or
// synthesis prompts.
type Section struct {
	Handler string
	Heading string
	Body    string
}

func (s Section) String() string {
	return s.Heading + "\n\n" + s.Body
}
