package llm

import (
	"regexp"
	"strings"
)

var (
	fencedHTML    = regexp.MustCompile("(?s)```html\\s*\\n(.*?)```")
	fencedCSS     = regexp.MustCompile("(?s)```css\\s*\\n(.*?)```")
	fencedGeneric = regexp.MustCompile("(?s)```[a-z]*\\s*\\n(.*?)```")
	rawDocument   = regexp.MustCompile(`(?is)<!DOCTYPE\s+html.*</html>`)
)

// ExtractHTML pulls the HTML document out of a model response.
// Preference order: fenced html block, fenced generic block that looks like
// HTML, raw doctype…</html> scan, then the whole response as-is.
func ExtractHTML(response string) string {
	if m := fencedHTML.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := fencedGeneric.FindStringSubmatch(response); m != nil {
		if body := strings.TrimSpace(m[1]); looksLikeHTML(body) {
			return body
		}
	}
	if m := rawDocument.FindString(response); m != "" {
		return strings.TrimSpace(m)
	}
	return strings.TrimSpace(response)
}

// ExtractCSS pulls an optional separate stylesheet block, or "".
func ExtractCSS(response string) string {
	if m := fencedCSS.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "<!doctype") ||
		strings.HasPrefix(lower, "<html") ||
		strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div")
}

// EnsureDocument post-processes generated HTML into a well-formed shell:
// the result always starts with <!DOCTYPE html> and ends with </html>,
// with <html>/<body> wrapping injected and unterminated tags closed.
func EnsureDocument(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)

	if !strings.Contains(lower, "<html") {
		if !strings.Contains(lower, "<body") {
			s = "<body>\n" + s + "\n</body>"
		}
		s = "<html>\n" + s + "\n</html>"
		lower = strings.ToLower(s)
	}

	if !strings.HasPrefix(lower, "<!doctype") {
		s = "<!DOCTYPE html>\n" + s
		lower = strings.ToLower(s)
	} else if !strings.HasPrefix(lower, "<!doctype html>") {
		// Normalise exotic doctypes to the HTML5 one.
		if i := strings.Index(s, ">"); i > 0 {
			s = "<!DOCTYPE html>" + s[i+1:]
			lower = strings.ToLower(s)
		}
	}

	if strings.Contains(lower, "<body") && !strings.Contains(lower, "</body>") {
		s = insertBeforeClosingHTML(s, "</body>")
		lower = strings.ToLower(s)
	}
	if !strings.HasSuffix(strings.TrimSpace(lower), "</html>") {
		s = strings.TrimSpace(s) + "\n</html>"
	}
	return s
}

// insertBeforeClosingHTML places tag before a trailing </html> when present,
// otherwise appends it.
func insertBeforeClosingHTML(s, tag string) string {
	lower := strings.ToLower(s)
	if i := strings.LastIndex(lower, "</html>"); i >= 0 {
		return s[:i] + tag + "\n" + s[i:]
	}
	return s + "\n" + tag
}
