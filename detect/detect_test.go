package detect

import (
	"reflect"
	"testing"

	"github.com/hazyhaar/replica/dom"
)

// landingSnapshot builds a page with a navbar (two links + logo), a login
// form, a standalone button, a free-standing input and a styled card.
func landingSnapshot() *dom.Snapshot {
	return &dom.Snapshot{
		URL: "https://example.com",
		Elements: []dom.Element{
			{Tag: "body", XPath: "/html/body", ChildCount: 4, Visible: true},
			{Tag: "nav", XPath: "/html/body/nav", ID: "main-nav", ChildCount: 3, Visible: true,
				Box: &dom.BoundingBox{X: 0, Y: 0, Width: 1200, Height: 64}},
			{Tag: "img", XPath: "/html/body/nav/img[1]", Classes: []string{"logo"}, Visible: true},
			{Tag: "a", XPath: "/html/body/nav/a[1]", Text: "Home", Visible: true},
			{Tag: "a", XPath: "/html/body/nav/a[2]", Text: "Docs", Visible: true},
			{Tag: "form", XPath: "/html/body/form", ID: "login", ChildCount: 3, Visible: true},
			{Tag: "input", XPath: "/html/body/form/input[1]",
				Attributes: map[string]string{"type": "email", "placeholder": "Email"}, Visible: true},
			{Tag: "input", XPath: "/html/body/form/input[2]",
				Attributes: map[string]string{"type": "password"}, Visible: true},
			{Tag: "button", XPath: "/html/body/form/button[1]", Text: "Sign in", Visible: true},
			{Tag: "button", XPath: "/html/body/button[1]", Text: "Get started", Visible: true},
			{Tag: "input", XPath: "/html/body/input[1]",
				Attributes: map[string]string{"type": "search", "placeholder": "Search"}, Visible: true},
			{Tag: "div", XPath: "/html/body/div[1]", Classes: []string{"pricing-card"},
				ChildCount: 3, Visible: true},
		},
	}
}

func detectAll(t *testing.T, snap *dom.Snapshot) *Result {
	t.Helper()
	d, err := New(snap)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d.Detect("sess_test")
}

func TestDetect_NilSnapshot(t *testing.T) {
	if _, err := New(nil); err != ErrNilSnapshot {
		t.Fatalf("New(nil) error = %v, want ErrNilSnapshot", err)
	}
}

func TestDetect_LandingPage(t *testing.T) {
	res := detectAll(t, landingSnapshot())

	counts := res.Summary()
	want := map[Type]int{
		TypeNavbar: 1,
		TypeForm:   1,
		TypeButton: 1, // the standalone button; the form claimed its own
		TypeInput:  1, // the search input; form inputs are claimed
		TypeCard:   1,
	}
	if !reflect.DeepEqual(counts, want) {
		t.Fatalf("Summary = %v, want %v", counts, want)
	}
	if res.TotalComponents != len(res.Components) {
		t.Fatalf("TotalComponents = %d, components = %d", res.TotalComponents, len(res.Components))
	}
}

func TestDetect_NavbarMetadata(t *testing.T) {
	res := detectAll(t, landingSnapshot())

	var nav *Component
	for i := range res.Components {
		if res.Components[i].Type == TypeNavbar {
			nav = &res.Components[i]
		}
	}
	if nav == nil {
		t.Fatal("no navbar detected")
	}
	if nav.Metadata["link_count"] != 2 {
		t.Fatalf("link_count = %v, want 2", nav.Metadata["link_count"])
	}
	if nav.Metadata["has_logo"] != true {
		t.Fatal("has_logo should be true")
	}
	if nav.Label != "main-nav" {
		t.Fatalf("label = %q, want main-nav", nav.Label)
	}
}

func TestDetect_ElementsClaimedOnce(t *testing.T) {
	res := detectAll(t, landingSnapshot())

	seen := make(map[string]Type)
	for _, c := range res.Components {
		for _, el := range c.Elements {
			if prev, dup := seen[el.XPath]; dup {
				t.Fatalf("element %s in both %s and %s", el.XPath, prev, c.Type)
			}
			seen[el.XPath] = c.Type
		}
	}
}

func TestDetect_Deterministic(t *testing.T) {
	a := detectAll(t, landingSnapshot())
	b := detectAll(t, landingSnapshot())

	if a.TotalComponents != b.TotalComponents {
		t.Fatalf("run counts differ: %d vs %d", a.TotalComponents, b.TotalComponents)
	}
	for i := range a.Components {
		if a.Components[i].Type != b.Components[i].Type {
			t.Fatalf("component %d type differs: %s vs %s",
				i, a.Components[i].Type, b.Components[i].Type)
		}
		if a.Components[i].Elements[0].XPath != b.Components[i].Elements[0].XPath {
			t.Fatalf("component %d anchor element differs", i)
		}
	}
}

func TestDetect_NavbarClaimsAnchorsBeforeButtonPass(t *testing.T) {
	snap := &dom.Snapshot{Elements: []dom.Element{
		{Tag: "div", XPath: "/html/body/div", ID: "top-menu", ChildCount: 2, Visible: true,
			Styles: map[string]string{"display": "flex"}},
		{Tag: "a", XPath: "/html/body/div/a[1]", Classes: []string{"btn"}, Text: "Home", Visible: true},
		{Tag: "a", XPath: "/html/body/div/a[2]", Classes: []string{"btn"}, Text: "Docs", Visible: true},
	}}
	res := detectAll(t, snap)

	counts := res.Summary()
	if counts[TypeNavbar] != 1 {
		t.Fatalf("navbar count = %d, want 1", counts[TypeNavbar])
	}
	// Button-classed anchors inside the navbar must not also become buttons.
	if counts[TypeButton] != 0 {
		t.Fatalf("button count = %d, want 0", counts[TypeButton])
	}
}

func TestDetect_CardRules(t *testing.T) {
	snap := &dom.Snapshot{Elements: []dom.Element{
		// class keyword alone
		{Tag: "div", XPath: "/html/body/div[1]", Classes: []string{"ProductCard"}, Visible: true},
		// shadow + padding
		{Tag: "section", XPath: "/html/body/section[1]", Visible: true,
			Styles: map[string]string{"box-shadow": "0 1px 4px rgba(0,0,0,.2)", "padding": "16px"}},
		// border + padding but single child: does not qualify
		{Tag: "div", XPath: "/html/body/div[2]", ChildCount: 1, Visible: true,
			Styles: map[string]string{"border-width": "1px", "padding": "8px"}},
		// zero-valued styles: does not qualify
		{Tag: "div", XPath: "/html/body/div[3]", ChildCount: 4, Visible: true,
			Styles: map[string]string{"box-shadow": "none", "padding": "0px"}},
	}}
	res := detectAll(t, snap)

	if got := res.Summary()[TypeCard]; got != 2 {
		t.Fatalf("card count = %d, want 2", got)
	}
}

func TestDetect_FormWithoutFormTag(t *testing.T) {
	snap := &dom.Snapshot{Elements: []dom.Element{
		{Tag: "div", XPath: "/html/body/div", ChildCount: 3, Visible: true},
		{Tag: "input", XPath: "/html/body/div/input[1]",
			Attributes: map[string]string{"type": "text"}, Visible: true},
		{Tag: "input", XPath: "/html/body/div/input[2]",
			Attributes: map[string]string{"type": "email"}, Visible: true},
		{Tag: "button", XPath: "/html/body/div/button[1]", Text: "Send", Visible: true},
	}}
	res := detectAll(t, snap)

	counts := res.Summary()
	if counts[TypeForm] != 1 {
		t.Fatalf("form count = %d, want 1", counts[TypeForm])
	}
	if counts[TypeInput] != 0 || counts[TypeButton] != 0 {
		t.Fatalf("form children leaked: %v", counts)
	}
}

func TestNewWithPasses_RejectsDuplicates(t *testing.T) {
	passes := []Pass{
		{TypeButton, (*Detector).runButtons},
		{TypeButton, (*Detector).runButtons},
	}
	if _, err := NewWithPasses(&dom.Snapshot{}, passes); err == nil {
		t.Fatal("expected duplicate pass error")
	}
}

func TestAggregateBox(t *testing.T) {
	members := []*dom.Element{
		{Box: &dom.BoundingBox{X: 10, Y: 10, Width: 100, Height: 20}},
		{Box: nil},
		{Box: &dom.BoundingBox{X: 50, Y: 40, Width: 100, Height: 30}},
	}
	box := aggregateBox(members)
	if box == nil {
		t.Fatal("box should not be nil")
	}
	if box.X != 10 || box.Y != 10 || box.Width != 140 || box.Height != 60 {
		t.Fatalf("box = %+v", box)
	}
	if aggregateBox([]*dom.Element{{}}) != nil {
		t.Fatal("members without boxes should yield nil")
	}
}
