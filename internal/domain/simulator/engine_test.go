package simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"intellibotic/internal/domain/flow"
)

func newTestEngine() *Engine {
	e := NewEngine(EngineConfig{MaxSteps: 10, FunctionTimeout: time.Second, AIPlaceholder: "(ai)"}, nil)
	e.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return e
}

func lastText(s *Session) string {
	if len(s.Transcript) == 0 {
		return ""
	}
	return s.Transcript[len(s.Transcript)-1].Text
}

func TestSampleConversation(t *testing.T) {
	e := newTestEngine()
	g := flow.Sample()
	ctx := context.Background()

	s, err := e.Start(ctx, g, StartOptions{BotID: "b1"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.Status != StatusAwaitingInput || s.Cursor != "2" {
		t.Fatalf("unexpected state: status=%s cursor=%s", s.Status, s.Cursor)
	}
	if lastText(s) != "What is your name?" {
		t.Fatalf("unexpected prompt: %q", lastText(s))
	}

	if err := e.Reply(ctx, s, g, "Ada"); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if s.Status != StatusFinished {
		t.Fatalf("status = %s, want finished", s.Status)
	}
	if lastText(s) != "Nice to meet you, Ada!" {
		t.Fatalf("unexpected reply: %q", lastText(s))
	}
	if s.Variables["name"] != "Ada" {
		t.Fatalf("variable not stored: %v", s.Variables)
	}

	if err := e.Reply(ctx, s, g, "again"); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("expected ErrSessionFinished, got %v", err)
	}

	want := "[bot] What is your name?\n[user] Ada\n[bot] Nice to meet you, Ada!\n"
	if got := s.ExportTranscript(); got != want {
		t.Fatalf("transcript = %q, want %q", got, want)
	}
}

func TestEmptyAnswerTakesFalseBranch(t *testing.T) {
	e := newTestEngine()
	g := flow.Sample()
	ctx := context.Background()

	s, _ := e.Start(ctx, g, StartOptions{})
	if err := e.Reply(ctx, s, g, ""); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if lastText(s) != "I did not catch your name." {
		t.Fatalf("unexpected reply: %q", lastText(s))
	}
}

func TestForceBranchOverridesExpression(t *testing.T) {
	e := newTestEngine()
	g := flow.Sample()
	ctx := context.Background()

	s, _ := e.Start(ctx, g, StartOptions{ForceBranches: map[string]string{"3": flow.BranchFalse}})
	_ = e.Reply(ctx, s, g, "Ada")
	if lastText(s) != "I did not catch your name." {
		t.Fatalf("force branch ignored: %q", lastText(s))
	}
}

func TestLoopHitsStepLimit(t *testing.T) {
	e := newTestEngine()
	g := flow.NewBuilder("s").
		Add("a", flow.KindMessage, "A", "", "").
		Add("b", flow.KindMessage, "B", "", "").
		Connect("b", "a", "").
		Build()

	s, err := e.Start(context.Background(), g, StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.Status != StatusStepLimit {
		t.Fatalf("status = %s, want step_limit", s.Status)
	}
	last := s.Transcript[len(s.Transcript)-1]
	if last.Role != RoleSystem || last.Text != "possible infinite loop detected" {
		t.Fatalf("unexpected last message: %+v", last)
	}
	if len(s.Visited) != 10 {
		t.Fatalf("visited %d nodes, want 10", len(s.Visited))
	}
}

func TestMergedBranchesSpeakOnce(t *testing.T) {
	e := newTestEngine()
	say := func(text string) map[string]any { return map[string]any{"text": text} }
	g := flow.NewBuilder("S").
		Add("A", flow.KindMessage, "A", "", "").WithData(say("hello A")).
		Add("C", flow.KindMessage, "C", "", "").WithData(say("bye C")).
		Add("B", flow.KindMessage, "B", "S", "").WithData(say("hello B")).
		Add("D", flow.KindMessage, "D", "", "").WithData(say("hello D")).
		Connect("D", "C", "").
		Build()

	s, err := e.Start(context.Background(), g, StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.Status != StatusFinished {
		t.Fatalf("status = %s, want finished", s.Status)
	}
	want := "[bot] hello A\n[bot] hello B\n[bot] bye C\n[bot] hello D\n"
	if got := s.ExportTranscript(); got != want {
		t.Fatalf("transcript = %q, want %q", got, want)
	}
}

func TestLongLinearFlowFinishes(t *testing.T) {
	e := newTestEngine()
	b := flow.NewBuilder("s")
	for i := 1; i <= 25; i++ {
		b.Add(fmt.Sprintf("m%d", i), flow.KindMessage, fmt.Sprintf("line %d", i), "", "")
	}

	s, err := e.Start(context.Background(), b.Build(), StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.Status != StatusFinished {
		t.Fatalf("status = %s, want finished", s.Status)
	}
	if len(s.Visited) != 26 {
		t.Fatalf("visited %d nodes, want 26", len(s.Visited))
	}
	if lastText(s) != "line 25" {
		t.Fatalf("unexpected last message: %q", lastText(s))
	}
}

func TestCodeNodeMergesOutputs(t *testing.T) {
	e := newTestEngine()
	g := flow.NewBuilder("s").
		Add("q", flow.KindUserInput, "Say something", "", "").
		WithData(map[string]any{"variable": "text"}).
		Add("c", flow.KindCode, "Upper", "", "").
		WithData(map[string]any{"function": "test.sim.upper.v1", "inputs": map[string]any{"text": "{{text}}"}}).
		Add("m", flow.KindMessage, "Echo", "", "").
		WithData(map[string]any{"text": "You said {{shout}}"}).
		Build()
	ctx := context.Background()

	s, _ := e.Start(ctx, g, StartOptions{})
	if lastText(s) != "Say something" {
		t.Fatalf("label should be used as prompt, got %q", lastText(s))
	}
	if err := e.Reply(ctx, s, g, "hi"); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if lastText(s) != "You said HI" {
		t.Fatalf("unexpected reply: %q", lastText(s))
	}
}

func TestUnknownFunctionReportedInTranscript(t *testing.T) {
	e := newTestEngine()
	g := flow.NewBuilder("s").
		Add("c", flow.KindCode, "Missing", "", "").
		WithData(map[string]any{"function": "test.sim.nope.v1"}).
		Add("m", flow.KindMessage, "Done", "", "").
		Build()

	s, _ := e.Start(context.Background(), g, StartOptions{})
	if s.Status != StatusFinished {
		t.Fatalf("status = %s", s.Status)
	}
	if len(s.Transcript) != 2 {
		t.Fatalf("unexpected transcript: %+v", s.Transcript)
	}
	if s.Transcript[0].Role != RoleSystem || !strings.Contains(s.Transcript[0].Text, string(CodeFunctionNotFound)) {
		t.Fatalf("missing function error not reported: %+v", s.Transcript[0])
	}
	if s.Transcript[1].Text != "Done" {
		t.Fatalf("walk should continue after code error: %+v", s.Transcript[1])
	}
}

func TestInvalidExpressionStopsSession(t *testing.T) {
	e := newTestEngine()
	g := flow.NewBuilder("s").
		Add("c", flow.KindCondition, "Broken", "", "").
		WithData(map[string]any{"expression": "x bogus"}).
		Add("m", flow.KindMessage, "Yes", "c", flow.BranchTrue).
		Build()

	s, _ := e.Start(context.Background(), g, StartOptions{})
	if s.Status != StatusFinished {
		t.Fatalf("status = %s", s.Status)
	}
	if !strings.HasPrefix(lastText(s), "simulation stopped") {
		t.Fatalf("expected stop message, got %q", lastText(s))
	}
}

func TestAIResponsePlaceholderAndStartAt(t *testing.T) {
	e := newTestEngine()
	g := flow.NewBuilder("s").
		Add("m", flow.KindMessage, "Hello", "", "").
		Add("ai", flow.KindAIResponse, "Assistant", "", "").
		Build()
	ctx := context.Background()

	s, err := e.Start(ctx, g, StartOptions{StartAt: "ai"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(s.Transcript) != 1 || s.Transcript[0].Text != "(ai)" {
		t.Fatalf("unexpected transcript: %+v", s.Transcript)
	}

	if _, err := e.Start(ctx, g, StartOptions{StartAt: "ghost"}); !errors.Is(err, flow.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReset(t *testing.T) {
	e := newTestEngine()
	g := flow.Sample()
	ctx := context.Background()

	s, _ := e.Start(ctx, g, StartOptions{})
	_ = e.Reply(ctx, s, g, "Ada")
	e.Reset(ctx, s, g)
	if s.Status != StatusAwaitingInput || len(s.Transcript) != 1 || len(s.Variables) != 0 {
		t.Fatalf("reset did not restart session: %+v", s)
	}
}

func TestInterpolate(t *testing.T) {
	vars := map[string]any{"name": "Ada", "n": 3}
	tests := map[string]string{
		"Hi {{name}}":          "Hi Ada",
		"Hi {{ name }}, {{n}}": "Hi Ada, 3",
		"Hi {{missing}}":       "Hi ",
		"no placeholders":      "no placeholders",
	}
	for in, want := range tests {
		if got := interpolate(in, vars); got != want {
			t.Fatalf("interpolate(%q) = %q, want %q", in, got, want)
		}
	}
	if got := resolveInput("{{n}}", vars); got != 3 {
		t.Fatalf("single placeholder should keep type, got %#v", got)
	}
}
