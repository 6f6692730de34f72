package render

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/replica/dom"
)

// ExtractOptions bound the structural capture.
type ExtractOptions struct {
	WaitForLoad   bool
	IncludeStyles bool
	MaxDepth      int // default 6
	MaxElements   int // default 1500
}

func (o *ExtractOptions) defaults() {
	if o.MaxDepth <= 0 {
		o.MaxDepth = 6
	}
	if o.MaxElements <= 0 {
		o.MaxElements = 1500
	}
}

// extractResult mirrors the JSON envelope the in-page walker returns.
type extractResult struct {
	Meta     dom.PageMeta   `json:"meta"`
	Elements []dom.Element  `json:"elements"`
	Assets   []dom.AssetRef `json:"assets"`
	HTML     string         `json:"html"`
}

// Extract renders url and walks its DOM into an immutable snapshot.
// Errors are stage failures: the caller does not retry them.
func (m *Manager) Extract(ctx context.Context, pageURL string, opts ExtractOptions) (*dom.Snapshot, error) {
	opts.defaults()

	page, err := m.openTab(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if opts.WaitForLoad {
		// Give late layout shifts (fonts, lazy images) a moment to settle.
		time.Sleep(500 * time.Millisecond)
	}

	res, err := page.Context(ctx).Eval(walkerJS, opts.MaxDepth, opts.MaxElements, opts.IncludeStyles)
	if err != nil {
		return nil, fmt.Errorf("render: extract %s: %w", pageURL, err)
	}

	var out extractResult
	if err := json.Unmarshal([]byte(res.Value.Str()), &out); err != nil {
		return nil, fmt.Errorf("render: decode extraction: %w", err)
	}

	return &dom.Snapshot{
		URL:      pageURL,
		Meta:     out.Meta,
		Elements: out.Elements,
		Assets:   out.Assets,
		HTML:     out.HTML,
	}, nil
}

// walkerJS runs inside the page. It returns a JSON string so the Go side
// decodes one payload instead of walking a gson tree. Styles are sparse:
// only the properties the detector and prompt builder consume.
const walkerJS = `(maxDepth, maxElements, includeStyles) => {
	const styleProps = ["display", "flex-direction", "float", "box-shadow",
		"border-width", "border", "padding", "background-color", "color",
		"font-family", "position"];
	const elements = [];
	const assets = [];
	const colorCount = {};
	const fontCount = {};

	const xpathOf = (node) => {
		const parts = [];
		let n = node;
		while (n && n.nodeType === 1) {
			let idx = 0, sib = n.previousSibling;
			while (sib) {
				if (sib.nodeType === 1 && sib.nodeName === n.nodeName) idx++;
				sib = sib.previousSibling;
			}
			let total = idx + 1, after = n.nextSibling;
			while (after) {
				if (after.nodeType === 1 && after.nodeName === n.nodeName) total++;
				after = after.nextSibling;
			}
			const tag = n.nodeName.toLowerCase();
			parts.unshift(total > 1 ? tag + "[" + (idx + 1) + "]" : tag);
			n = n.parentNode;
		}
		return "/" + parts.join("/");
	};

	const ownText = (el) => {
		let t = "";
		for (const c of el.childNodes) {
			if (c.nodeType === 3) t += c.textContent;
		}
		return t.trim().slice(0, 500);
	};

	const walk = (el, depth) => {
		if (depth > maxDepth || elements.length >= maxElements) return;
		const rect = el.getBoundingClientRect();
		const entry = {
			tag: el.tagName.toLowerCase(),
			id: el.id || "",
			classes: Array.from(el.classList),
			attributes: {},
			styles: {},
			text: ownText(el),
			child_count: el.children.length,
			xpath: xpathOf(el),
			visible: rect.width > 0 && rect.height > 0,
		};
		for (const a of el.attributes) entry.attributes[a.name] = a.value;
		if (rect.width > 0 || rect.height > 0) {
			entry.box = {x: rect.x, y: rect.y, width: rect.width, height: rect.height};
		}
		if (includeStyles) {
			const cs = getComputedStyle(el);
			for (const p of styleProps) {
				const v = cs.getPropertyValue(p);
				if (v && v !== "none" && v !== "normal") entry.styles[p] = v;
			}
			const bg = cs.getPropertyValue("background-color");
			if (bg) colorCount[bg] = (colorCount[bg] || 0) + 1;
			const col = cs.getPropertyValue("color");
			if (col) colorCount[col] = (colorCount[col] || 0) + 1;
			const font = cs.getPropertyValue("font-family");
			if (font) fontCount[font] = (fontCount[font] || 0) + 1;
			const bgImg = cs.getPropertyValue("background-image");
			const m = bgImg && bgImg.match(/url\(["']?([^"')]+)["']?\)/);
			if (m) assets.push({url: m[1], kind: "background", context: entry.xpath});
		}
		if (entry.tag === "img" && el.src) {
			assets.push({url: el.src, kind: "image", context: el.alt || ""});
		}
		if (entry.tag === "svg") {
			assets.push({inline: el.outerHTML.slice(0, 4000), kind: "svg", context: entry.xpath});
		}
		if (entry.tag === "link" && el.rel === "stylesheet" && el.href) {
			assets.push({url: el.href, kind: "stylesheet"});
		}
		elements.push(entry);
		for (const child of el.children) walk(child, depth + 1);
	};

	walk(document.body, 0);

	const topK = (counts, k) => Object.entries(counts)
		.sort((a, b) => b[1] - a[1]).slice(0, k).map(e => e[0]);

	const meta = {
		title: document.title || "",
		description: (document.querySelector('meta[name="description"]') || {}).content || "",
		lang: document.documentElement.lang || "",
		viewport_w: window.innerWidth,
		viewport_h: window.innerHeight,
		colors: topK(colorCount, 10),
		fonts: topK(fontCount, 5),
	};

	return JSON.stringify({
		meta: meta,
		elements: elements,
		assets: assets,
		html: document.documentElement.outerHTML,
	});
}`
