package budget

import (
	"strings"
	"testing"

	"github.com/hazyhaar/replica/detect"
	"github.com/hazyhaar/replica/dom"
)

// fixedEstimator returns a constant cost regardless of input, useful for
// forcing specific tier decisions.
type fixedEstimator struct{ tokens int }

func (f fixedEstimator) Tokens(string) int { return f.tokens }

func sampleSnapshot() *dom.Snapshot {
	return &dom.Snapshot{
		URL: "https://example.com",
		Meta: dom.PageMeta{
			Title:  "Example",
			Colors: []string{"#ffffff", "#1a73e8"},
			Fonts:  []string{"Inter"},
		},
		Elements: []dom.Element{
			{Tag: "nav", XPath: "/html/body/nav", ID: "nav", Visible: true},
			{Tag: "a", XPath: "/html/body/nav/a[1]", Text: "Home", Visible: true},
			{Tag: "a", XPath: "/html/body/nav/a[2]", Text: "Docs", Visible: true},
		},
		HTML: "<html><body><nav><a>Home</a><a>Docs</a></nav></body></html>",
	}
}

func sampleResult(t *testing.T, snap *dom.Snapshot) *detect.Result {
	t.Helper()
	d, err := detect.New(snap)
	if err != nil {
		t.Fatalf("detect.New: %v", err)
	}
	return d.Detect("sess_test")
}

func TestBuild_FullTierWhenItFits(t *testing.T) {
	snap := sampleSnapshot()
	m := NewManager(nil)

	p := m.Build(sampleResult(t, snap), snap, Params{URL: snap.URL, Ceiling: 1_000_000})
	if p.Tier != TierFull {
		t.Fatalf("tier = %s, want full", p.Tier)
	}
	if !strings.Contains(p.Text, "COMPONENT BLUEPRINT") {
		t.Fatal("full tier must carry the component blueprint")
	}
	if !strings.Contains(p.Text, "PAGE ANALYSIS") {
		t.Fatal("non-minimal tiers carry page analysis")
	}
	if p.Estimated <= 0 {
		t.Fatal("estimated tokens must be positive")
	}
}

func TestBuild_DowngradesWhenBlueprintOverflows(t *testing.T) {
	snap := sampleSnapshot()
	result := sampleResult(t, snap)
	m := NewManager(nil)

	full := m.Build(result, snap, Params{URL: snap.URL, Ceiling: 1_000_000})

	// A ceiling just below the blueprint's cost forces the next tier down.
	blueprint, err := fullBlueprint(result)
	if err != nil {
		t.Fatal(err)
	}
	ceiling := DefaultEstimator.Tokens(blueprint) - 1
	lower := m.Build(result, snap, Params{URL: snap.URL, Ceiling: ceiling})

	if !full.Tier.RicherThan(lower.Tier) {
		t.Fatalf("tier %s should be below full", lower.Tier)
	}
}

func TestBuild_MinimalWhenNothingFits(t *testing.T) {
	snap := sampleSnapshot()
	m := NewManager(fixedEstimator{tokens: 2_000_000})

	p := m.Build(sampleResult(t, snap), snap, Params{URL: snap.URL, Ceiling: 180_000})
	if p.Tier != TierMinimal {
		t.Fatalf("tier = %s, want minimal", p.Tier)
	}
}

func TestBuild_MinimalIgnoresSnapshotSize(t *testing.T) {
	m := NewManager(fixedEstimator{tokens: 2_000_000})
	params := Params{URL: "https://example.com", Ceiling: 100}

	small := m.Build(nil, sampleSnapshot(), params)

	big := sampleSnapshot()
	big.Meta.Description = strings.Repeat("x", 100_000)
	big.HTML = strings.Repeat("<div>y</div>", 50_000)
	large := m.Build(nil, big, params)

	if small.Tier != TierMinimal || large.Tier != TierMinimal {
		t.Fatalf("tiers = %s, %s, want minimal", small.Tier, large.Tier)
	}
	if small.Text != large.Text {
		t.Fatal("minimal prompt must not depend on the snapshot")
	}
}

func TestBuild_StructureFallbackWithoutComponents(t *testing.T) {
	snap := sampleSnapshot()
	m := NewManager(nil)

	// Empty result: no components were detected.
	empty := &detect.Result{SessionID: "sess_test"}
	p := m.Build(empty, snap, Params{URL: snap.URL, Ceiling: 180_000})
	if p.Tier != TierStructureFallback {
		t.Fatalf("tier = %s, want structure_fallback", p.Tier)
	}
	if !strings.Contains(p.Text, "No reliable component structure") {
		t.Fatal("fallback body missing")
	}
}

func TestBuild_QualityInstructions(t *testing.T) {
	snap := sampleSnapshot()
	result := sampleResult(t, snap)
	m := NewManager(nil)

	high := m.Build(result, snap, Params{URL: snap.URL, Quality: "high", Ceiling: 1_000_000})
	if !strings.Contains(high.Text, "QUALITY LEVEL: HIGH") {
		t.Fatal("high quality instructions missing")
	}

	unknown := m.Build(result, snap, Params{URL: snap.URL, Quality: "bogus", Ceiling: 1_000_000})
	if !strings.Contains(unknown.Text, "QUALITY LEVEL: BALANCED") {
		t.Fatal("unknown quality must fall back to balanced")
	}
}

func TestBuild_AssetContext(t *testing.T) {
	snap := sampleSnapshot()
	m := NewManager(nil)

	p := m.Build(sampleResult(t, snap), snap, Params{
		URL:          snap.URL,
		Ceiling:      1_000_000,
		AssetContext: map[string]string{"https://example.com/logo.png": "assets/logo-abc123.png"},
	})
	if !strings.Contains(p.Text, "assets/logo-abc123.png") {
		t.Fatal("asset context missing from prompt")
	}
}

func TestBuild_AssetContextDeterministicOrder(t *testing.T) {
	snap := sampleSnapshot()
	m := NewManager(nil)

	p := m.Build(sampleResult(t, snap), snap, Params{
		URL:     snap.URL,
		Ceiling: 1_000_000,
		AssetContext: map[string]string{
			"https://example.com/zeta.css":  "assets/zeta-111.css",
			"https://example.com/alpha.png": "assets/alpha-222.png",
			"https://example.com/mid.js":    "assets/mid-333.js",
		},
	})

	// Map iteration order is random; the prompt must list assets sorted
	// by source URL so identical sessions yield identical prompts.
	alpha := strings.Index(p.Text, "alpha-222.png")
	mid := strings.Index(p.Text, "mid-333.js")
	zeta := strings.Index(p.Text, "zeta-111.css")
	if alpha < 0 || mid < 0 || zeta < 0 {
		t.Fatal("asset entries missing from prompt")
	}
	if !(alpha < mid && mid < zeta) {
		t.Fatalf("asset order = alpha@%d mid@%d zeta@%d, want sorted by URL", alpha, mid, zeta)
	}
}

func TestTier_Ordering(t *testing.T) {
	order := []Tier{TierMinimal, TierStructureFallback, TierSummarized, TierFull}
	for i := 1; i < len(order); i++ {
		if !order[i].RicherThan(order[i-1]) {
			t.Fatalf("%s should be richer than %s", order[i], order[i-1])
		}
		if order[i-1].RicherThan(order[i]) {
			t.Fatalf("%s should not be richer than %s", order[i-1], order[i])
		}
	}
}

func TestCharRatio_CeilingDivision(t *testing.T) {
	est := CharRatio{CharsPerToken: 4}
	if got := est.Tokens(""); got != 0 {
		t.Fatalf("empty: got %d", got)
	}
	if got := est.Tokens("abcde"); got != 2 {
		t.Fatalf("5 chars: got %d, want 2", got)
	}
	if got := est.Tokens("abcd"); got != 1 {
		t.Fatalf("4 chars: got %d, want 1", got)
	}
}
