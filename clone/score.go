package clone

import (
	"strings"

	"github.com/hazyhaar/replica/detect"
)

// SimilarityScore estimates how faithfully the generated HTML reproduces
// the detected components. Presence heuristics only: each detected
// component scores if its markup signature appears in the output, with
// cards weighted lower since a class hit is weak evidence. The result is
// clamped to [60, 95]; pages with no detected components score 75.
func SimilarityScore(components []detect.Component, generatedHTML string) float64 {
	if len(components) == 0 {
		return 75.0
	}

	lower := strings.ToLower(generatedHTML)
	var score float64
	for _, c := range components {
		switch c.Type {
		case detect.TypeNavbar:
			if strings.Contains(lower, "<nav") || strings.Contains(lower, "navbar") {
				score++
			}
		case detect.TypeForm:
			if strings.Contains(lower, "<form") {
				score++
			}
		case detect.TypeButton:
			if strings.Contains(lower, "<button") {
				score++
			}
		case detect.TypeInput:
			if strings.Contains(lower, "<input") {
				score++
			}
		case detect.TypeCard:
			if strings.Contains(lower, "card") || strings.Contains(lower, "class=") {
				score += 0.8
			}
		}
	}

	pct := score / float64(len(components)) * 100
	return max(60.0, min(95.0, pct))
}

// ReplicatedCounts reports, per component type, how many detected
// components have a markup signature present in the generated HTML.
func ReplicatedCounts(components []detect.Component, generatedHTML string) map[detect.Type]int {
	lower := strings.ToLower(generatedHTML)
	counts := make(map[detect.Type]int)
	for _, c := range components {
		if _, ok := counts[c.Type]; !ok {
			counts[c.Type] = 0
		}
		switch c.Type {
		case detect.TypeNavbar:
			if strings.Contains(lower, "<nav") || strings.Contains(lower, "navbar") {
				counts[c.Type]++
			}
		case detect.TypeForm:
			if strings.Contains(lower, "<form") {
				counts[c.Type]++
			}
		case detect.TypeButton:
			if strings.Contains(lower, "<button") {
				counts[c.Type]++
			}
		case detect.TypeInput:
			if strings.Contains(lower, "<input") {
				counts[c.Type]++
			}
		case detect.TypeCard:
			if strings.Contains(lower, "card") {
				counts[c.Type]++
			}
		}
	}
	return counts
}
