package budget

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/replica/dom"
)

// qualityInstructions mirror the request's quality level. Unknown levels
// fall back to balanced.
var qualityInstructions = map[string]string{
	"fast": `QUALITY LEVEL: FAST
- Focus on basic structure and functionality
- Use simple, clean CSS
- Prioritize speed over visual perfection`,
	"balanced": `QUALITY LEVEL: BALANCED
- Good balance of visual appeal and performance
- Include hover effects and basic transitions
- Responsive design with mobile considerations
- Match color scheme and typography reasonably well`,
	"high": `QUALITY LEVEL: HIGH
- High attention to visual detail and aesthetics
- Advanced CSS with animations, gradients, shadows
- Pixel-perfect responsive design
- Exact color matching and typography`,
}

const outputFormat = `OUTPUT FORMAT:
Respond with a single fenced block containing the complete document:

` + "```html" + `
<!DOCTYPE html>
<html lang="en">
...
</html>
` + "```" + `

Embed all CSS in a <style> element in <head>. If extra CSS is needed,
append a separate ` + "```css" + ` block after the HTML block.`

// assemblePrompt wraps a tier body in the full generation template. The
// Minimal tier deliberately skips every page-derived section so its size
// does not depend on the snapshot.
func assemblePrompt(tier Tier, body string, snap *dom.Snapshot, params Params) string {
	if tier == TierMinimal {
		return "You are an expert web developer.\n\n" + body + "\n\n" + outputFormat
	}

	var b strings.Builder
	b.WriteString("You are an expert web developer tasked with creating a visually similar HTML replica of a website.\n\n")
	fmt.Fprintf(&b, "ORIGINAL WEBSITE: %s\n\n", params.URL)

	if snap != nil {
		b.WriteString("PAGE ANALYSIS:\n")
		fmt.Fprintf(&b, "- Title: %s\n", snap.Meta.Title)
		if snap.Meta.Description != "" {
			fmt.Fprintf(&b, "- Description: %s\n", snap.Meta.Description)
		}
		fmt.Fprintf(&b, "- Total elements: %d\n", len(snap.Elements))
		if len(snap.Meta.Colors) > 0 {
			fmt.Fprintf(&b, "- Color palette: %s\n", strings.Join(capList(snap.Meta.Colors, 10), ", "))
		}
		if len(snap.Meta.Fonts) > 0 {
			fmt.Fprintf(&b, "- Font families: %s\n", strings.Join(capList(snap.Meta.Fonts, 5), ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString(body)
	b.WriteString("\n\n")

	if len(params.AssetContext) > 0 {
		b.WriteString("LOCAL ASSETS (reference by local path):\n")
		// Sorted so identical sessions assemble identical prompts.
		urls := make([]string, 0, len(params.AssetContext))
		for url := range params.AssetContext {
			urls = append(urls, url)
		}
		sort.Strings(urls)
		for _, url := range capList(urls, 30) {
			fmt.Fprintf(&b, "- %s → %s\n", url, params.AssetContext[url])
		}
		b.WriteString("\n")
	}

	q := qualityInstructions[params.Quality]
	if q == "" {
		q = qualityInstructions["balanced"]
	}
	b.WriteString(q)
	b.WriteString("\n\n")

	b.WriteString(`REQUIREMENTS:
1. Generate complete, valid HTML5 with embedded CSS
2. Preserve the component structure and hierarchy described above
3. Use semantic HTML elements matching the component types
4. Responsive layout with modern CSS (flexbox/grid where appropriate)
5. Interactive elements (buttons, forms, links) must be functional markup
6. Match the color palette and typography where possible

`)
	b.WriteString(outputFormat)
	return b.String()
}

func capList(vals []string, n int) []string {
	if len(vals) > n {
		return vals[:n]
	}
	return vals
}
