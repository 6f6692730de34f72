package detect

import (
	"strings"

	"github.com/hazyhaar/replica/dom"
)

// Keyword lists for naming-based rules. Matching is substring,
// case-insensitive, against class names, id, and role.
var (
	navKeywords    = []string{"nav", "menu", "header"}
	buttonKeywords = []string{"btn", "button"}
)

func hasNamingKeyword(el *dom.Element, keywords []string) bool {
	id := strings.ToLower(el.ID)
	role := strings.ToLower(el.Attr("role"))
	for _, kw := range keywords {
		if strings.Contains(id, kw) || strings.Contains(role, kw) || el.HasClassKeyword(kw) {
			return true
		}
	}
	return false
}

// horizontalLayout reports flex-row or floated layout. flex-direction
// defaults to row, so an unset direction on a flex container counts.
func horizontalLayout(el *dom.Element) bool {
	display := el.Style("display")
	if strings.Contains(display, "flex") {
		dir := el.Style("flex-direction")
		return dir == "" || strings.HasPrefix(dir, "row")
	}
	float := el.Style("float")
	return float == "left" || float == "right"
}

func isAnchor(el *dom.Element) bool { return el.Tag == "a" }

// inputLike covers form controls that accept user input.
func inputLike(el *dom.Element) bool {
	switch el.Tag {
	case "textarea", "select":
		return true
	case "input":
		switch el.Attr("type") {
		case "submit", "button", "reset", "hidden":
			return false
		}
		return true
	}
	return false
}

// submitLike covers controls that submit a form.
func submitLike(el *dom.Element) bool {
	if el.Tag == "button" {
		t := el.Attr("type")
		return t == "" || t == "submit"
	}
	return el.Tag == "input" && el.Attr("type") == "submit"
}

// runNavbars finds navigation containers. A semantic <nav> always
// qualifies; otherwise the element needs nav-like naming, at least two
// anchor children, and horizontal layout.
func (d *Detector) runNavbars() []Component {
	var out []Component
	for i := range d.snap.Elements {
		el := &d.snap.Elements[i]
		if d.claimed(el) {
			continue
		}

		children := d.idx.Children(el.XPath)
		anchors := 0
		hasLogo := false
		for _, c := range children {
			if isAnchor(c) {
				anchors++
			}
			if c.Tag == "img" || c.Tag == "svg" || hasNamingKeyword(c, []string{"logo", "brand"}) {
				hasLogo = true
			}
		}

		qualifies := el.Tag == "nav" ||
			(hasNamingKeyword(el, navKeywords) && anchors >= 2 && horizontalLayout(el))
		if !qualifies {
			continue
		}

		members := d.claimWithChildren(el)
		out = append(out, Component{
			Type:     TypeNavbar,
			Elements: members,
			Label:    firstNonEmpty(el.Attr("aria-label"), el.ID),
			Box:      aggregateBox(members),
			Metadata: map[string]any{
				"link_count": anchors,
				"has_logo":   hasLogo,
			},
		})
	}
	return out
}

// runForms finds form containers: semantic <form>, or a container with
// enough input-like children (two inputs plus a submit control, or three
// inputs on their own).
func (d *Detector) runForms() []Component {
	var out []Component
	for i := range d.snap.Elements {
		el := &d.snap.Elements[i]
		if d.claimed(el) {
			continue
		}

		children := d.idx.Children(el.XPath)
		inputs, submits := 0, 0
		for _, c := range children {
			if inputLike(c) {
				inputs++
			}
			if submitLike(c) {
				submits++
			}
		}

		qualifies := el.Tag == "form" ||
			(inputs >= 2 && (submits >= 1 || inputs >= 3))
		if !qualifies {
			continue
		}

		members := d.claimWithChildren(el)
		out = append(out, Component{
			Type:     TypeForm,
			Elements: members,
			Label:    firstNonEmpty(el.Attr("aria-label"), el.ID, el.Attr("name")),
			Box:      aggregateBox(members),
			Metadata: map[string]any{
				"input_count":  inputs,
				"submit_count": submits,
			},
		})
	}
	return out
}

// runButtons finds atomic button elements: <button>, submit-type inputs,
// and anchors styled or labelled as buttons.
func (d *Detector) runButtons() []Component {
	var out []Component
	for i := range d.snap.Elements {
		el := &d.snap.Elements[i]
		if d.claimed(el) {
			continue
		}

		qualifies := false
		switch el.Tag {
		case "button":
			qualifies = true
		case "input":
			switch el.Attr("type") {
			case "submit", "button", "reset":
				qualifies = true
			}
		case "a":
			qualifies = strings.Contains(el.Attr("role"), "button") ||
				hasButtonClass(el)
		}
		if !qualifies {
			continue
		}

		d.claim(el)
		out = append(out, Component{
			Type:     TypeButton,
			Elements: []*dom.Element{el},
			Label:    firstNonEmpty(strings.TrimSpace(el.Text), el.Attr("value"), el.Attr("aria-label")),
			Box:      el.Box,
		})
	}
	return out
}

func hasButtonClass(el *dom.Element) bool {
	for _, kw := range buttonKeywords {
		if el.HasClassKeyword(kw) {
			return true
		}
	}
	return false
}

// runInputs finds atomic input controls, excluding submit/button/reset
// (claimed by the button pass) and hidden fields.
func (d *Detector) runInputs() []Component {
	var out []Component
	for i := range d.snap.Elements {
		el := &d.snap.Elements[i]
		if d.claimed(el) || !inputLike(el) {
			continue
		}

		d.claim(el)
		out = append(out, Component{
			Type:     TypeInput,
			Elements: []*dom.Element{el},
			Label:    firstNonEmpty(el.Attr("placeholder"), el.Attr("aria-label"), el.Attr("name")),
			Box:      el.Box,
			Metadata: map[string]any{
				"input_type": firstNonEmpty(el.Attr("type"), el.Tag),
			},
		})
	}
	return out
}

// runCards finds card-like containers on div/section/article. Any of the
// three rules qualifies; computed styles are consulted first with an inline
// style fallback (dom.Element.Style handles the fallback).
func (d *Detector) runCards() []Component {
	var out []Component
	for i := range d.snap.Elements {
		el := &d.snap.Elements[i]
		if d.claimed(el) {
			continue
		}
		switch el.Tag {
		case "div", "section", "article":
		default:
			continue
		}

		hasShadow := styleSet(el.Style("box-shadow"))
		hasBorder := styleSet(el.Style("border-width")) || styleSet(el.Style("border"))
		hasPadding := styleSet(el.Style("padding"))

		qualifies := el.HasClassKeyword("card") ||
			(hasShadow && hasPadding) ||
			(hasBorder && hasPadding && el.ChildCount > 1)
		if !qualifies {
			continue
		}

		d.claim(el)
		out = append(out, Component{
			Type:     TypeCard,
			Elements: []*dom.Element{el},
			Box:      el.Box,
			Metadata: map[string]any{
				"child_count": el.ChildCount,
			},
		})
	}
	return out
}

// styleSet reports whether a style value is present and not a zero/none
// sentinel ("none", "0", "0px", "0px none ...").
func styleSet(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" || v == "none" {
		return false
	}
	return !strings.HasPrefix(v, "0px") && !strings.HasPrefix(v, "0 ") && v != "0"
}
