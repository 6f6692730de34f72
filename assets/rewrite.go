package assets

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var cssURLRe = regexp.MustCompile(`url\(["']?([^"')]+)["']?\)`)

// Rewrite replaces remote asset URLs in generated HTML with their local
// paths. It parses the document, rewrites src/href/srcset attributes and
// url(...) references in inline styles, and renders the document back.
// URLs absent from the map are left untouched.
func Rewrite(doc string, assetMap map[string]string) (string, error) {
	if len(assetMap) == 0 {
		return doc, nil
	}

	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("assets: parse html: %w", err)
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for i, attr := range n.Attr {
				switch attr.Key {
				case "src", "href", "poster":
					if local, ok := assetMap[attr.Val]; ok {
						n.Attr[i].Val = local
					}
				case "srcset":
					n.Attr[i].Val = rewriteSrcset(attr.Val, assetMap)
				case "style":
					n.Attr[i].Val = rewriteCSSURLs(attr.Val, assetMap)
				}
			}
			if n.Data == "style" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				n.FirstChild.Data = rewriteCSSURLs(n.FirstChild.Data, assetMap)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	var b strings.Builder
	if err := html.Render(&b, root); err != nil {
		return "", fmt.Errorf("assets: render html: %w", err)
	}
	return b.String(), nil
}

func rewriteSrcset(val string, assetMap map[string]string) string {
	entries := strings.Split(val, ",")
	for i, entry := range entries {
		fields := strings.Fields(strings.TrimSpace(entry))
		if len(fields) == 0 {
			continue
		}
		if local, ok := assetMap[fields[0]]; ok {
			fields[0] = local
			entries[i] = strings.Join(fields, " ")
		}
	}
	return strings.Join(entries, ", ")
}

func rewriteCSSURLs(css string, assetMap map[string]string) string {
	return cssURLRe.ReplaceAllStringFunc(css, func(match string) string {
		m := cssURLRe.FindStringSubmatch(match)
		if local, ok := assetMap[m[1]]; ok {
			return fmt.Sprintf("url(%q)", local)
		}
		return match
	})
}
