// Package dom defines the immutable structural capture of a rendered page:
// elements with computed styles, page metadata, and asset references.
//
// A Snapshot is produced once per extraction by the render package and is
// never mutated afterwards. Consumers (detect, budget) treat it as read-only.
package dom

import "strings"

// BoundingBox is an element's layout rectangle in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is one captured DOM node. Fields mirror what the in-page walker
// collects; Styles is sparse (only the properties the walker asks for).
type Element struct {
	Tag        string            `json:"tag"`
	ID         string            `json:"id,omitempty"`
	Classes    []string          `json:"classes,omitempty"`
	Styles     map[string]string `json:"styles,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Text       string            `json:"text,omitempty"`
	ChildCount int               `json:"child_count"`
	XPath      string            `json:"xpath"`
	Box        *BoundingBox      `json:"box,omitempty"`
	Visible    bool              `json:"visible"`
}

// Style returns a computed style property, falling back to a scan of the
// inline style attribute when the computed map has no entry. The fallback
// keeps detection rules usable on snapshots captured without computed styles.
func (e *Element) Style(prop string) string {
	if v, ok := e.Styles[prop]; ok {
		return v
	}
	inline, ok := e.Attributes["style"]
	if !ok {
		return ""
	}
	for _, decl := range strings.Split(inline, ";") {
		k, v, found := strings.Cut(decl, ":")
		if found && strings.TrimSpace(strings.ToLower(k)) == prop {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// HasClassKeyword reports whether any class name contains the keyword
// (case-insensitive substring match).
func (e *Element) HasClassKeyword(keyword string) bool {
	for _, c := range e.Classes {
		if strings.Contains(strings.ToLower(c), keyword) {
			return true
		}
	}
	return false
}

// Attr returns a raw attribute value, or "" when absent.
func (e *Element) Attr(name string) string {
	return e.Attributes[name]
}

// AssetKind classifies an asset reference.
type AssetKind string

const (
	AssetImage      AssetKind = "image"
	AssetSVG        AssetKind = "svg"
	AssetStylesheet AssetKind = "stylesheet"
	AssetFont       AssetKind = "font"
	AssetBackground AssetKind = "background"
)

// AssetRef points at an external or inline asset used by the page.
type AssetRef struct {
	URL     string    `json:"url,omitempty"`
	Inline  string    `json:"inline,omitempty"` // raw content for inline assets (e.g. <svg>)
	Kind    AssetKind `json:"kind"`
	Context string    `json:"context,omitempty"` // usage hint: alt text, owning selector
}

// PageMeta carries page-level information used for prompt construction.
type PageMeta struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Lang        string   `json:"lang,omitempty"`
	ViewportW   int      `json:"viewport_w"`
	ViewportH   int      `json:"viewport_h"`
	Colors      []string `json:"colors,omitempty"` // dominant colors from computed styles
	Fonts       []string `json:"fonts,omitempty"`  // font families from computed styles
}

// Snapshot is the structural capture of one rendered page.
// Elements preserve document order; XPaths are unique within a snapshot.
type Snapshot struct {
	URL      string     `json:"url"`
	Meta     PageMeta   `json:"meta"`
	Elements []Element  `json:"elements"`
	Assets   []AssetRef `json:"assets,omitempty"`
	HTML     string     `json:"html,omitempty"` // raw outer HTML, used for markdown compaction
}

// Index provides xpath lookup and parent→children navigation over a
// snapshot. An element's parent path is its xpath with the last segment
// removed, so the index is derivable without extra capture work.
type Index struct {
	byPath   map[string]*Element
	children map[string][]*Element
}

// NewIndex builds an Index over the snapshot's elements.
func NewIndex(s *Snapshot) *Index {
	idx := &Index{
		byPath:   make(map[string]*Element, len(s.Elements)),
		children: make(map[string][]*Element),
	}
	for i := range s.Elements {
		el := &s.Elements[i]
		idx.byPath[el.XPath] = el
		if parent := ParentPath(el.XPath); parent != "" {
			idx.children[parent] = append(idx.children[parent], el)
		}
	}
	return idx
}

// ByPath returns the element at the given xpath, or nil.
func (idx *Index) ByPath(path string) *Element {
	return idx.byPath[path]
}

// Children returns the direct children of the element at path, in document
// order. The slice is shared; callers must not modify it.
func (idx *Index) Children(path string) []*Element {
	return idx.children[path]
}

// ParentPath strips the last segment from an xpath.
// "/html/body/div[2]" → "/html/body". Root paths return "".
func ParentPath(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return ""
	}
	return path[:i]
}
