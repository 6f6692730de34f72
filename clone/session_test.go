package clone

import (
	"testing"

	"github.com/hazyhaar/replica/llm"
)

func TestStatus_TransitionTable(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusAnalyzing},
		{StatusPending, StatusFailed},
		{StatusAnalyzing, StatusGenerating},
		{StatusAnalyzing, StatusFailed},
		{StatusGenerating, StatusCompleted},
		{StatusGenerating, StatusFailed},
		{StatusCompleted, StatusRefining},
		{StatusRefining, StatusCompleted},
		{StatusRefining, StatusFailed},
	}
	for _, tt := range allowed {
		if !tt.from.CanTransition(tt.to) {
			t.Fatalf("%s → %s should be legal", tt.from, tt.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusGenerating},
		{StatusAnalyzing, StatusCompleted},
		{StatusGenerating, StatusAnalyzing},
		{StatusCompleted, StatusCompleted},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusAnalyzing},
		{StatusFailed, StatusRefining},
	}
	for _, tt := range forbidden {
		if tt.from.CanTransition(tt.to) {
			t.Fatalf("%s → %s should be illegal", tt.from, tt.to)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusAnalyzing, StatusGenerating, StatusRefining} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestAdvance_AppendsProgress(t *testing.T) {
	s := &Session{ID: "sess_x", Status: StatusPending}

	if err := s.Advance(StatusAnalyzing, ProgressStep{Name: "Analyzing", Percentage: 10}); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if s.Status != StatusAnalyzing {
		t.Fatalf("status = %s", s.Status)
	}
	if len(s.Progress) != 1 {
		t.Fatalf("progress = %d steps", len(s.Progress))
	}
	step := s.Progress[0]
	if step.Status != StatusAnalyzing || step.StartedAt.IsZero() {
		t.Fatalf("step = %+v", step)
	}
}

func TestAdvance_IllegalLeavesSessionUntouched(t *testing.T) {
	s := &Session{ID: "sess_x", Status: StatusPending}

	err := s.Advance(StatusCompleted, ProgressStep{Name: "Completed"})
	if KindOf(err) != KindValidation {
		t.Fatalf("err = %v, want validation kind", err)
	}
	if s.Status != StatusPending || len(s.Progress) != 0 {
		t.Fatalf("session mutated on illegal transition: %+v", s)
	}
}

func TestFail_DiscardsResult(t *testing.T) {
	s := &Session{
		ID:     "sess_x",
		Status: StatusGenerating,
		Result: &llm.Artifact{HTML: "<html></html>"},
	}
	s.Fail("provider exhausted retries")

	if s.Status != StatusFailed {
		t.Fatalf("status = %s", s.Status)
	}
	if s.Result != nil {
		t.Fatal("failed session must not expose a result")
	}
	if s.ErrorMessage != "provider exhausted retries" {
		t.Fatalf("error message = %q, must be verbatim", s.ErrorMessage)
	}
	last := s.Progress[len(s.Progress)-1]
	if last.Name != "Failed" || last.Status != StatusFailed {
		t.Fatalf("last step = %+v", last)
	}
}

func TestComplete_ClearsErrorMessage(t *testing.T) {
	s := &Session{ID: "sess_x", Status: StatusGenerating, ErrorMessage: "stale"}
	art := &llm.Artifact{HTML: "<html></html>", Similarity: 80}
	s.Complete(art, "Replica generated")

	if s.Status != StatusCompleted || s.Result != art {
		t.Fatalf("session = %+v", s)
	}
	if s.ErrorMessage != "" {
		t.Fatal("result and error must never be populated together")
	}
	last := s.Progress[len(s.Progress)-1]
	if last.Percentage != 100 {
		t.Fatalf("final percentage = %v", last.Percentage)
	}
}

func TestCopy_IsDeep(t *testing.T) {
	s := &Session{
		ID:     "sess_x",
		Status: StatusCompleted,
		Progress: []ProgressStep{
			{Name: "Queued", Status: StatusPending},
		},
		Result: &llm.Artifact{
			HTML:   "<html></html>",
			Assets: []string{"assets/a.png"},
		},
	}

	c := s.Copy()
	c.Progress[0].Name = "mutated"
	c.Progress = append(c.Progress, ProgressStep{Name: "extra"})
	c.Result.HTML = "changed"
	c.Result.Assets[0] = "assets/b.png"

	if s.Progress[0].Name != "Queued" || len(s.Progress) != 1 {
		t.Fatalf("progress aliased: %+v", s.Progress)
	}
	if s.Result.HTML != "<html></html>" {
		t.Fatal("artifact aliased")
	}
	if s.Result.Assets[0] != "assets/a.png" {
		t.Fatal("asset slice aliased")
	}
}
