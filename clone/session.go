// Package clone owns the replication pipeline: the Clone Session state
// machine, the SQLite-backed session store with single-writer discipline,
// and the staged run that turns a URL into a generated HTML artifact.
package clone

import (
	"time"

	"github.com/hazyhaar/replica/llm"
)

// Status is a Clone Session's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAnalyzing  Status = "analyzing"
	StatusGenerating Status = "generating"
	StatusRefining   Status = "refining"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// legalTransitions is the complete transition table. Failed is terminal;
// refinement is only reachable from completed.
var legalTransitions = map[Status][]Status{
	StatusPending:    {StatusAnalyzing, StatusFailed},
	StatusAnalyzing:  {StatusGenerating, StatusFailed},
	StatusGenerating: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRefining},
	StatusRefining:   {StatusCompleted, StatusFailed},
	StatusFailed:     {},
}

// CanTransition reports whether s → to is legal.
func (s Status) CanTransition(to Status) bool {
	for _, t := range legalTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automatic transition exists.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// ProgressStep is one appended progress record. History is never replaced.
type ProgressStep struct {
	Name       string    `json:"step_name"`
	Status     Status    `json:"status"`
	Percentage float64   `json:"progress_percentage"`
	Message    string    `json:"message"`
	StartedAt  time.Time `json:"started_at"`
}

// Request holds the original clone request parameters.
type Request struct {
	URL     string `json:"url"`
	Quality string `json:"quality,omitempty"` // fast | balanced | high
}

// Session is the persistent record of one replication request. It is
// mutated only by the owning pipeline run (single writer per id) and read
// by everyone else through deep copies.
type Session struct {
	ID                   string         `json:"session_id"`
	Status               Status         `json:"status"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	Request              Request        `json:"request"`
	Progress             []ProgressStep `json:"progress"`
	Result               *llm.Artifact  `json:"result,omitempty"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	RefinementIterations int            `json:"refinement_iterations"`
}

// Advance validates and applies a status transition, appending a progress
// step. Illegal transitions return a validation error and leave the
// session untouched.
func (s *Session) Advance(to Status, step ProgressStep) error {
	if !s.Status.CanTransition(to) {
		return E(KindValidation,
			"illegal transition "+string(s.Status)+" → "+string(to))
	}
	now := time.Now().UTC()
	if step.StartedAt.IsZero() {
		step.StartedAt = now
	}
	step.Status = to
	s.Status = to
	s.Progress = append(s.Progress, step)
	s.UpdatedAt = now
	return nil
}

// Fail moves the session to failed with the triggering message captured
// verbatim. Any partial artifact is discarded: a failed session never
// exposes a result.
func (s *Session) Fail(message string) {
	now := time.Now().UTC()
	s.Status = StatusFailed
	s.ErrorMessage = message
	s.Result = nil
	s.Progress = append(s.Progress, ProgressStep{
		Name:      "Failed",
		Status:    StatusFailed,
		Message:   message,
		StartedAt: now,
	})
	s.UpdatedAt = now
}

// Complete records the artifact and moves to completed, clearing any stale
// error message so result and error are never populated together.
func (s *Session) Complete(art *llm.Artifact, message string) {
	now := time.Now().UTC()
	s.Status = StatusCompleted
	s.Result = art
	s.ErrorMessage = ""
	s.Progress = append(s.Progress, ProgressStep{
		Name:       "Completed",
		Status:     StatusCompleted,
		Percentage: 100,
		Message:    message,
		StartedAt:  now,
	})
	s.UpdatedAt = now
}

// Copy returns a deep copy, the read-only projection handed to callers.
func (s *Session) Copy() *Session {
	out := *s
	out.Progress = append([]ProgressStep(nil), s.Progress...)
	if s.Result != nil {
		res := *s.Result
		res.Assets = append([]string(nil), s.Result.Assets...)
		out.Result = &res
	}
	return &out
}
