// Package detect classifies UI components (navbars, forms, buttons, inputs,
// cards) inside a dom.Snapshot using ordered rule-based passes.
//
// Passes run container-first so that a navigation bar claims its anchors
// before the button pass would misclassify them. Every element belongs to at
// most one component; a processed set enforces the invariant. Detection is
// deterministic: no randomness, no external calls.
package detect

import (
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/replica/dom"
)

// Type is the closed set of component classifications.
type Type string

const (
	TypeButton Type = "button"
	TypeCard   Type = "card"
	TypeNavbar Type = "navbar"
	TypeForm   Type = "form"
	TypeInput  Type = "input"
	TypeImage  Type = "image"
	// TypeUnknown is reserved for downstream consumers. The detector never
	// emits it: unclassified elements are simply absent from the result.
	TypeUnknown Type = "unknown"
)

// Component is one detected UI pattern: a typed group of member elements.
// Members are references into the snapshot, not copies.
type Component struct {
	Type     Type             `json:"type"`
	Elements []*dom.Element   `json:"elements"`
	Label    string           `json:"label,omitempty"`
	Box      *dom.BoundingBox `json:"box,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// Result is one detection pass over a snapshot. Read-only after creation.
type Result struct {
	SessionID       string        `json:"session_id"`
	Components      []Component   `json:"components"`
	TotalComponents int           `json:"total_components"`
	Duration        time.Duration `json:"duration"`
}

// ErrNilSnapshot indicates the detector was constructed without a usable
// snapshot. This is a programming error, not a runtime condition: extraction
// failures must be handled before detection is attempted.
var ErrNilSnapshot = errors.New("detect: a successful snapshot is required")

// Pass is one ordered detection stage. The explicit list makes the priority
// order a data change rather than a code rewrite.
type Pass struct {
	Type Type
	Run  func(*Detector) []Component
}

// DefaultPasses is the production pass order: containers before atoms.
var DefaultPasses = []Pass{
	{TypeNavbar, (*Detector).runNavbars},
	{TypeForm, (*Detector).runForms},
	{TypeButton, (*Detector).runButtons},
	{TypeInput, (*Detector).runInputs},
	{TypeCard, (*Detector).runCards},
}

// Detector runs component classification over one snapshot.
type Detector struct {
	snap      *dom.Snapshot
	idx       *dom.Index
	passes    []Pass
	processed map[string]struct{} // xpath → claimed
}

// New creates a Detector for the snapshot using DefaultPasses.
func New(snap *dom.Snapshot) (*Detector, error) {
	return NewWithPasses(snap, DefaultPasses)
}

// NewWithPasses creates a Detector with a custom pass order (tests reorder
// passes to verify priority behaviour).
func NewWithPasses(snap *dom.Snapshot, passes []Pass) (*Detector, error) {
	if snap == nil {
		return nil, ErrNilSnapshot
	}
	if err := validatePasses(passes); err != nil {
		return nil, err
	}
	return &Detector{
		snap:      snap,
		idx:       dom.NewIndex(snap),
		passes:    passes,
		processed: make(map[string]struct{}),
	}, nil
}

// Detect runs all passes in order and returns the detection result.
func (d *Detector) Detect(sessionID string) *Result {
	start := time.Now()

	var components []Component
	for _, p := range d.passes {
		components = append(components, p.Run(d)...)
	}

	return &Result{
		SessionID:       sessionID,
		Components:      components,
		TotalComponents: len(components),
		Duration:        time.Since(start),
	}
}

func (d *Detector) claimed(el *dom.Element) bool {
	_, ok := d.processed[el.XPath]
	return ok
}

func (d *Detector) claim(el *dom.Element) {
	d.processed[el.XPath] = struct{}{}
}

// claimWithChildren claims a container and its immediate children, returning
// the full member list (container first, children in document order).
func (d *Detector) claimWithChildren(el *dom.Element) []*dom.Element {
	members := []*dom.Element{el}
	d.claim(el)
	for _, child := range d.idx.Children(el.XPath) {
		if d.claimed(child) {
			continue
		}
		d.claim(child)
		members = append(members, child)
	}
	return members
}

// Summary returns per-type component counts, used by prompt construction.
func (r *Result) Summary() map[Type]int {
	counts := make(map[Type]int)
	for _, c := range r.Components {
		counts[c.Type]++
	}
	return counts
}

// aggregateBox unions member bounding boxes; nil when no member has one.
func aggregateBox(members []*dom.Element) *dom.BoundingBox {
	var box *dom.BoundingBox
	for _, m := range members {
		if m.Box == nil {
			continue
		}
		if box == nil {
			b := *m.Box
			box = &b
			continue
		}
		x2 := max(box.X+box.Width, m.Box.X+m.Box.Width)
		y2 := max(box.Y+box.Height, m.Box.Y+m.Box.Height)
		box.X = min(box.X, m.Box.X)
		box.Y = min(box.Y, m.Box.Y)
		box.Width = x2 - box.X
		box.Height = y2 - box.Y
	}
	return box
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// validatePasses guards against duplicate pass types in custom orders.
func validatePasses(passes []Pass) error {
	seen := make(map[Type]struct{}, len(passes))
	for _, p := range passes {
		if _, dup := seen[p.Type]; dup {
			return fmt.Errorf("detect: duplicate pass %q", p.Type)
		}
		seen[p.Type] = struct{}{}
	}
	return nil
}
