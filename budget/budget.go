// Package budget builds generation prompts that fit a model's context
// window. Selection walks a strictly ordered fallback chain — Full,
// Summarized, StructureFallback, Minimal — and never upgrades within one
// request: the richest tier whose estimated cost fits the ceiling wins.
package budget

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/replica/detect"
	"github.com/hazyhaar/replica/dom"
)

// Tier identifies a prompt-construction strategy.
type Tier string

const (
	TierFull              Tier = "full"
	TierSummarized        Tier = "summarized"
	TierStructureFallback Tier = "structure_fallback"
	TierMinimal           Tier = "minimal"
)

// richness orders tiers for the monotonic-downgrade invariant (higher is
// richer).
func (t Tier) richness() int {
	switch t {
	case TierFull:
		return 3
	case TierSummarized:
		return 2
	case TierStructureFallback:
		return 1
	default:
		return 0
	}
}

// RicherThan reports whether t carries more structure than other.
func (t Tier) RicherThan(other Tier) bool { return t.richness() > other.richness() }

// Params are the per-request inputs to prompt construction.
type Params struct {
	URL     string
	Quality string // fast | balanced | high
	// Ceiling is the hard token budget: model context window minus the
	// response reserve. Prompts estimated above it trigger a downgrade.
	Ceiling int
	// AssetContext summarises downloaded assets for the model, keyed by
	// original URL → local path. Optional.
	AssetContext map[string]string
}

// Prompt is a bounded, ready-to-send generation prompt.
type Prompt struct {
	Tier      Tier
	Text      string
	Estimated int // tokens, per the manager's estimator
}

// Manager selects tiers and assembles prompts.
type Manager struct {
	est Estimator
}

// NewManager creates a Manager. A nil estimator falls back to the
// character-ratio default.
func NewManager(est Estimator) *Manager {
	if est == nil {
		est = DefaultEstimator
	}
	return &Manager{est: est}
}

// Build assembles the richest prompt that fits params.Ceiling.
//
// Chain: full blueprint → bounded summary → page-metadata fallback →
// fixed minimal template. The final assembled prompt is re-estimated as a
// safety check; an overrun at that point forces the Minimal tier, whose
// size is independent of the snapshot.
func (m *Manager) Build(result *detect.Result, snap *dom.Snapshot, params Params) Prompt {
	ceiling := params.Ceiling
	if ceiling <= 0 {
		ceiling = 180_000
	}

	tier, body := m.selectTier(result, snap, params, ceiling)

	text := assemblePrompt(tier, body, snap, params)
	if m.est.Tokens(text) > ceiling && tier != TierMinimal {
		tier = TierMinimal
		text = assemblePrompt(TierMinimal, minimalBody(params), snap, params)
	}

	return Prompt{Tier: tier, Text: text, Estimated: m.est.Tokens(text)}
}

func (m *Manager) selectTier(result *detect.Result, snap *dom.Snapshot, params Params, ceiling int) (Tier, string) {
	usable := result != nil && result.TotalComponents > 0 && snap != nil

	if usable {
		if full, err := fullBlueprint(result); err == nil && m.est.Tokens(full) <= ceiling {
			return TierFull, full
		}
		summary := m.summarize(result, snap)
		if m.est.Tokens(summary) <= ceiling {
			return TierSummarized, summary
		}
	}

	if snap != nil {
		fallback := structureFallbackBody(snap)
		if m.est.Tokens(fallback) <= ceiling {
			return TierStructureFallback, fallback
		}
	}

	return TierMinimal, minimalBody(params)
}

// fullBlueprint serialises the complete detection result for direct
// assembly: per-component structure with member elements and styles.
func fullBlueprint(result *detect.Result) (string, error) {
	data, err := json.MarshalIndent(result.Components, "", "  ")
	if err != nil {
		return "", fmt.Errorf("budget: marshal blueprint: %w", err)
	}
	return "COMPONENT BLUEPRINT (complete):\n" + string(data), nil
}

// structureFallbackBody uses page metadata only — no structural information
// was usable.
func structureFallbackBody(snap *dom.Snapshot) string {
	var b strings.Builder
	b.WriteString("No reliable component structure is available.\n")
	fmt.Fprintf(&b, "Page title: %s\n", snap.Meta.Title)
	if snap.Meta.Description != "" {
		fmt.Fprintf(&b, "Page description: %s\n", snap.Meta.Description)
	}
	b.WriteString("Generate a clean, generic layout: header with navigation, hero section, content grid, footer.\n")
	return b.String()
}

func minimalBody(params Params) string {
	return fmt.Sprintf("Generate a minimal single-page HTML document that could plausibly stand in for %s. Use a header, one content section, and a footer. Keep it under 200 lines.", params.URL)
}

// countSummaryLine renders per-type counts in a stable order.
func countSummaryLine(result *detect.Result) string {
	counts := result.Summary()
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%d %s(s)", counts[detect.Type(t)], t))
	}
	return strings.Join(parts, ", ")
}
