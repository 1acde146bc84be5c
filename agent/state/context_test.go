package state

import (
	"errors"
	"testing"
	"time"
)

func TestNewContextTrimsIdentity(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	c := NewContext("  what is Go?  ", " u1 ", " conv-1 ", now)

	if c.Query != "what is Go?" {
		t.Fatalf("unexpected query: %q", c.Query)
	}
	if c.UserID != "u1" || c.ConversationID != "conv-1" {
		t.Fatalf("unexpected identity: %q %q", c.UserID, c.ConversationID)
	}
	if !c.CreatedAt.Equal(now) {
		t.Fatalf("unexpected created at: %v", c.CreatedAt)
	}
}

func TestSetOutputDropsEmpty(t *testing.T) {
	t.Parallel()

	c := NewContext("q", "", "", time.Now())
	c.SetOutput("general", "   ")
	if _, ok := c.Output("general"); ok {
		t.Fatal("blank output must not be recorded")
	}

	c.SetOutput("general", "  answer  ")
	got, ok := c.Output("general")
	if !ok || got != "answer" {
		t.Fatalf("unexpected output: %q ok=%v", got, ok)
	}
}

func TestSetFinalIsTerminal(t *testing.T) {
	t.Parallel()

	c := NewContext("q", "", "", time.Now())
	if c.Final() {
		t.Fatal("fresh context must not be final")
	}
	if err := c.SetFinal("done"); err != nil {
		t.Fatalf("SetFinal() error = %v", err)
	}
	if !c.Final() || c.FinalOutput != "done" {
		t.Fatalf("final not recorded: %q final=%v", c.FinalOutput, c.Final())
	}
	if err := c.SetFinal("again"); !errors.Is(err, ErrFinalAlreadySet) {
		t.Fatalf("expected ErrFinalAlreadySet, got %v", err)
	}
	if c.FinalOutput != "done" {
		t.Fatalf("final overwritten: %q", c.FinalOutput)
	}
}

func TestExecutedTrace(t *testing.T) {
	t.Parallel()

	c := NewContext("q", "", "", time.Now())
	if c.Executed("general") {
		t.Fatal("nothing executed yet")
	}
	c.MarkExecuted("knowledge")
	c.MarkExecuted("general")
	if !c.Executed("knowledge") || !c.Executed("general") {
		t.Fatal("trace lost a handler")
	}
	if len(c.ExecutedHandlers) != 2 {
		t.Fatalf("unexpected trace length: %d", len(c.ExecutedHandlers))
	}
}

func TestOutputsPartitionedInTableOrder(t *testing.T) {
	t.Parallel()

	c := NewContext("q", "", "", time.Now())
	// Insert out of table order on purpose.
	c.SetOutput("writing", "draft")
	c.SetOutput("memory", "history")
	c.SetOutput("general", "reply")
	c.SetOutput("knowledge", "facts")

	retrieval := c.RetrievalOutputs()
	if len(retrieval) != 2 || retrieval[0].Handler != "knowledge" || retrieval[1].Handler != "memory" {
		t.Fatalf("unexpected retrieval sections: %+v", retrieval)
	}
	if retrieval[0].Heading != "## Company Knowledge" {
		t.Fatalf("unexpected heading: %q", retrieval[0].Heading)
	}

	generation := c.GenerationOutputs()
	if len(generation) != 2 || generation[0].Handler != "general" || generation[1].Handler != "writing" {
		t.Fatalf("unexpected generation sections: %+v", generation)
	}
}

func TestSectionString(t *testing.T) {
	t.Parallel()

	s := Section{Handler: "code", Heading: "## Code Implementation", Body: "func main() {}"}
	if got := s.String(); got != "## Code Implementation\n\nfunc main() {}" {
		t.Fatalf("unexpected section rendering: %q", got)
	}
}

func TestPartition(t *testing.T) {
	t.Parallel()

	retrieval, generation := Partition([]string{"writing", "knowledge", "writing", "unknown", "memory", "code"})
	if len(retrieval) != 2 || retrieval[0] != "knowledge" || retrieval[1] != "memory" {
		t.Fatalf("unexpected retrieval partition: %v", retrieval)
	}
	if len(generation) != 2 || generation[0] != "writing" || generation[1] != "code" {
		t.Fatalf("unexpected generation partition: %v", generation)
	}
}

func TestPartitionPreservesSelectionOrder(t *testing.T) {
	t.Parallel()

	_, generation := Partition([]string{"code", "general"})
	if len(generation) != 2 || generation[0] != "code" || generation[1] != "general" {
		t.Fatalf("selection order not preserved: %v", generation)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	d, ok := Lookup("memory")
	if !ok || d.Kind != KindRetrieval {
		t.Fatalf("unexpected descriptor: %+v ok=%v", d, ok)
	}
	if _, ok := Lookup("router"); ok {
		t.Fatal("router must not be in the descriptor table")
	}
}
