package handlers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	memoryx "github.com/pattarawit/ensemble/agent/memory"
	statex "github.com/pattarawit/ensemble/agent/state"
)

type recallCall struct {
	userID string
	opts   memoryx.RecallOptions
}

type fakeDriver struct {
	records          map[string][]memoryx.Record // keyed by phase-identifying feature, see recall
	knowledgeRecords []memoryx.KnowledgeRecord
	recallErr        error
	knowledgeErr     error
	recallCalls      []recallCall
}

// recall phases are distinguished by their options: tag mode is the recent
// pass, semantic with a conversation id is short-term, semantic with exclude
// tags (or no conversation) is long-term.
func (f *fakeDriver) phase(opts memoryx.RecallOptions) string {
	if !opts.UseSemantic {
		return "recent"
	}
	if opts.ConversationID != "" {
		return "short"
	}
	return "long"
}

func (f *fakeDriver) Recall(ctx context.Context, userID string, opts memoryx.RecallOptions) ([]memoryx.Record, error) {
	f.recallCalls = append(f.recallCalls, recallCall{userID: userID, opts: opts})
	if f.recallErr != nil {
		return nil, f.recallErr
	}
	return f.records[f.phase(opts)], nil
}

func (f *fakeDriver) RecallKnowledge(ctx context.Context, query string, topK int, category string) ([]memoryx.KnowledgeRecord, error) {
	if f.knowledgeErr != nil {
		return nil, f.knowledgeErr
	}
	return f.knowledgeRecords, nil
}

func (f *fakeDriver) Store(ctx context.Context, userID, content string, opts memoryx.StoreOptions) (string, error) {
	return "", nil
}

func (f *fakeDriver) StoreKnowledge(ctx context.Context, doc memoryx.KnowledgeDoc) (string, error) {
	return "", nil
}

func (f *fakeDriver) Delete(ctx context.Context, recordID, userID string) (bool, error) {
	return false, nil
}

func (f *fakeDriver) HealthCheck(ctx context.Context) memoryx.HealthStatus {
	return memoryx.HealthStatus{Driver: "fake", Healthy: true}
}

func newTestContext(userID, conversationID string) *statex.Context {
	return statex.NewContext("how do refunds work?", userID, conversationID, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
}

func TestKnowledgeHandlerFormatsRecords(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{
		knowledgeRecords: []memoryx.KnowledgeRecord{
			{ID: "k1", Category: "POLICIES", Title: "Refunds", ExternalDocID: "doc-7", Content: "30 day window."},
			{ID: "k2", Category: "GENERAL", Content: "We sell widgets."},
		},
	}
	h := newKnowledgeHandler(driver)

	out, err := h.Run(context.Background(), newTestContext("u1", "c1"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := "[POLICIES] doc-7 - Refunds\n30 day window.\n\n[GENERAL]\nWe sell widgets."
	if out != want {
		t.Fatalf("unexpected output:\n%q\nwant:\n%q", out, want)
	}
}

func TestKnowledgeHandlerDegradesOnDriverError(t *testing.T) {
	t.Parallel()

	h := newKnowledgeHandler(&fakeDriver{knowledgeErr: errors.New("backend down")})

	out, err := h.Run(context.Background(), newTestContext("u1", "c1"))
	if err != nil {
		t.Fatalf("driver errors must be absorbed, got %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty contribution, got %q", out)
	}
}

func TestMemoryHandlerSkipsWithoutUser(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	h := newMemoryHandler(driver)

	out, err := h.Run(context.Background(), newTestContext("", "c1"))
	if err != nil || out != "" {
		t.Fatalf("expected silent skip, got %q err=%v", out, err)
	}
	if len(driver.recallCalls) != 0 {
		t.Fatalf("driver must not be called without a user, got %d calls", len(driver.recallCalls))
	}
}

func TestMemoryHandlerThreePhaseRecall(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{
		records: map[string][]memoryx.Record{
			"recent": {
				{ID: "m1", Content: "hello", Tags: []string{"user"}},
				{ID: "m2", Content: "hi there", Tags: []string{"assistant"}},
			},
			"short": {
				{ID: "m1", Content: "hello"}, // duplicate of recent, must be dropped
				{ID: "m3", Content: "asked about refunds"},
			},
			"long": {
				{ID: "m3", Content: "asked about refunds"}, // seen in short-term
				{ID: "m4", Content: "prefers email receipts"},
			},
		},
	}
	h := newMemoryHandler(driver)

	out, err := h.Run(context.Background(), newTestContext("u1", "c1"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, want := range []string{
		"=== RECENT CONVERSATION ===",
		"user: hello",
		"assistant: hi there",
		"=== RELEVANT FROM THIS CONVERSATION ===",
		"• asked about refunds",
		"=== RELEVANT FROM PAST CONVERSATIONS ===",
		"• prefers email receipts",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "asked about refunds") != 1 {
		t.Fatalf("duplicate record not deduped:\n%s", out)
	}

	if len(driver.recallCalls) != 3 {
		t.Fatalf("expected three recall phases, got %d", len(driver.recallCalls))
	}
	recent, short, long := driver.recallCalls[0], driver.recallCalls[1], driver.recallCalls[2]
	if recent.opts.UseSemantic || recent.opts.TopK != 5 {
		t.Fatalf("unexpected recent options: %+v", recent.opts)
	}
	if !short.opts.UseSemantic || short.opts.ConversationID != "c1" || short.opts.TopK != 10 {
		t.Fatalf("unexpected short-term options: %+v", short.opts)
	}
	if !long.opts.UseSemantic || long.opts.TopK != 15 {
		t.Fatalf("unexpected long-term options: %+v", long.opts)
	}
	if len(long.opts.ExcludeTags) != 1 || long.opts.ExcludeTags[0] != "conversation_c1" {
		t.Fatalf("long-term pass must exclude the current conversation: %+v", long.opts)
	}
}

func TestMemoryHandlerDegradesOnDriverError(t *testing.T) {
	t.Parallel()

	h := newMemoryHandler(&fakeDriver{recallErr: errors.New("backend down")})

	out, err := h.Run(context.Background(), newTestContext("u1", "c1"))
	if err != nil {
		t.Fatalf("driver errors must be absorbed, got %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty contribution, got %q", out)
	}
}

func TestGroundedInputIncludesRetrievalSections(t *testing.T) {
	t.Parallel()

	wctx := newTestContext("u1", "c1")
	wctx.SetOutput("knowledge", "30 day window.")

	got := groundedInput(wctx)
	if !strings.HasPrefix(got, "User question: how do refunds work?") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "## Company Knowledge\n\n30 day window.") {
		t.Fatalf("grounding section missing:\n%s", got)
	}
}
