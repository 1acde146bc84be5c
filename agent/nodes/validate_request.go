package workflownode

import (
	"errors"
	"strings"
	"time"

	statex "github.com/pattarawit/ensemble/agent/state"
)

var ErrInvalidQuery = errors.New("query is empty")

type GraphInput struct {
	Query          string
	UserID         string
	ConversationID string
}

type GraphOutput struct {
	Result *statex.Context
}

type GraphState struct {
	Ctx *statex.Context

	// Partitioned routing decision, set by Route. Handler names only;
	// resolution against the registry happens at execution time.
	Retrieval  []string
	Generation []string
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, ErrInvalidQuery
	}

	return &GraphState{
		Ctx: statex.NewContext(in.Query, in.UserID, in.ConversationID, nowFn()),
	}, nil
}
