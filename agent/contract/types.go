package contract

// AgentType identifies a unit of work in the workflow.
type AgentType string

const (
	AgentTypeRouter      AgentType = "router"
	AgentTypeGeneral     AgentType = "general"
	AgentTypeResearch    AgentType = "research"
	AgentTypeWriting     AgentType = "writing"
	AgentTypeCode        AgentType = "code"
	AgentTypeKnowledge   AgentType = "knowledge"
	AgentTypeMemory      AgentType = "memory"
	AgentTypeSynthesizer AgentType = "synthesizer"
)

// RouteDecision is the router's sole output: the classified intent and the
// ordered set of handlers that should run for this request. The router never
// answers the query itself.
type RouteDecision struct {
	Intent           string   `json:"intent"`
	SelectedHandlers []string `json:"selected_handlers"`
}
