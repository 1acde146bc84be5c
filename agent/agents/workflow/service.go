package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/pattarawit/ensemble/agent/contract"
	nodex "github.com/pattarawit/ensemble/agent/nodes"
	statex "github.com/pattarawit/ensemble/agent/state"
)

var ErrInvalidQuery = nodex.ErrInvalidQuery

// Request is one user turn. UserID and ConversationID are optional; without
// them memory recall is skipped by the memory handler.
type Request struct {
	Query          string
	UserID         string
	ConversationID string
}

// Service runs the full route -> retrieve -> generate -> aggregate workflow
// over a compiled graph. One Service is safe for concurrent use; all
// per-request state lives in the graph's Context.
type Service struct {
	router      contractx.Router
	handlers    contractx.HandlerRegistry
	synthesizer contractx.Synthesizer

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(
	router contractx.Router,
	handlers contractx.HandlerRegistry,
	synthesizer contractx.Synthesizer,
) (*Service, error) {
	if router == nil {
		return nil, errors.New("router is required")
	}
	if handlers == nil {
		return nil, errors.New("handler registry is required")
	}
	if synthesizer == nil {
		return nil, errors.New("synthesizer is required")
	}

	s := &Service{
		router:      router,
		handlers:    handlers,
		synthesizer: synthesizer,
		now:         time.Now,
	}

	graphRunner, err := s.compileHandleQueryGraph(context.Background())
	if err != nil {
		return nil, err
	}
	s.graphRunner = graphRunner

	return s, nil
}

// HandleQuery runs one request to completion and returns the terminal
// context, with FinalOutput set and the execution trace populated.
func (s *Service) HandleQuery(ctx context.Context, req Request) (*statex.Context, error) {
	out, err := s.graphRunner.Invoke(ctx, nodex.GraphInput{
		Query:          req.Query,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}
