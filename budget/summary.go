package budget

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/replica/detect"
	"github.com/hazyhaar/replica/dom"
)

// Summary bounds. The summarized tier caps structural depth and breadth so
// its size grows with the page only up to a fixed limit.
const (
	summaryMaxDepth      = 3
	summaryMaxChildren   = 5
	summaryMaxElements   = 40
	summaryMaxMarkdown   = 8_000 // bytes of markdown page content
	summaryMaxTextSample = 120   // bytes of element text
)

var (
	textPolicy = bluemonday.StrictPolicy()
	mdConv     = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
)

// summarize builds the bounded summarized-tier body: per-type counts, a
// depth- and breadth-capped sample of key elements, and a markdown rendering
// of the page content for textual context.
func (m *Manager) summarize(result *detect.Result, snap *dom.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "COMPONENT SUMMARY (%d total): %s\n\n", result.TotalComponents, countSummaryLine(result))

	b.WriteString("KEY ELEMENTS (bounded sample):\n")
	idx := dom.NewIndex(snap)
	emitted := 0
	for _, c := range result.Components {
		if emitted >= summaryMaxElements {
			break
		}
		root := c.Elements[0]
		fmt.Fprintf(&b, "- %s: ", c.Type)
		writeElementTree(&b, idx, root, 0, &emitted)
	}
	b.WriteString("\n")

	if md := pageMarkdown(snap); md != "" {
		b.WriteString("PAGE CONTENT (markdown, truncated):\n")
		b.WriteString(md)
		b.WriteString("\n")
	}

	return b.String()
}

// writeElementTree emits one element line and recurses into children up to
// the depth and breadth caps.
func writeElementTree(b *strings.Builder, idx *dom.Index, el *dom.Element, depth int, emitted *int) {
	if depth > summaryMaxDepth || *emitted >= summaryMaxElements {
		return
	}
	*emitted++

	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString("<" + el.Tag)
	if el.ID != "" {
		fmt.Fprintf(b, " id=%q", el.ID)
	}
	if len(el.Classes) > 0 {
		fmt.Fprintf(b, " class=%q", strings.Join(el.Classes, " "))
	}
	b.WriteString(">")
	if text := sampleText(el.Text); text != "" {
		fmt.Fprintf(b, " %q", text)
	}
	b.WriteString("\n")

	children := idx.Children(el.XPath)
	if len(children) > summaryMaxChildren {
		children = children[:summaryMaxChildren]
	}
	for _, child := range children {
		writeElementTree(b, idx, child, depth+1, emitted)
	}
}

// sampleText sanitizes and truncates element text for prompt embedding.
// Sanitizing strips markup a hostile page could have stuffed into text nodes.
func sampleText(text string) string {
	text = strings.TrimSpace(textPolicy.Sanitize(text))
	if len(text) > summaryMaxTextSample {
		text = text[:summaryMaxTextSample] + "…"
	}
	return text
}

// pageMarkdown converts the captured page HTML to markdown and truncates it.
// Markdown is a far denser representation of visible content than raw HTML.
func pageMarkdown(snap *dom.Snapshot) string {
	if snap.HTML == "" {
		return ""
	}
	md, err := mdConv.ConvertString(snap.HTML)
	if err != nil {
		return ""
	}
	md = strings.TrimSpace(md)
	if len(md) > summaryMaxMarkdown {
		md = md[:summaryMaxMarkdown] + "\n…(truncated)"
	}
	return md
}
