package format

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// EffectEntry declares one trigger keyword for a visual effect.
type EffectEntry struct {
	Effect  string `yaml:"effect"`
	Keyword string `yaml:"keyword"`
	Emoji   string `yaml:"emoji"`
}

type effectRule struct {
	EffectEntry
	re *regexp.Regexp
}

// EffectTable matches effect keywords in rendered fragments. The zero
// value matches nothing.
type EffectTable struct {
	rules []effectRule
}

// NewEffectTable compiles the keyword list. Entries with an empty keyword
// are skipped. Matching is case-insensitive on word boundaries.
func NewEffectTable(entries []EffectEntry) EffectTable {
	var t EffectTable
	for _, e := range entries {
		if e.Keyword == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(e.Keyword) + `\b`)
		if err != nil {
			continue
		}
		t.rules = append(t.rules, effectRule{EffectEntry: e, re: re})
	}
	return t
}

// Annotate wraps effect keywords found in the fragment's text nodes with
// anchor elements carrying data-effect/data-emoji attributes. Text inside
// existing anchors, script and style elements is left untouched, so a link
// is never nested inside a link.
func (t EffectTable) Annotate(fragment string) string {
	if len(t.rules) == 0 || fragment == "" {
		return fragment
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return fragment
	}
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	t.walk(root)

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return fragment
		}
	}
	return buf.String()
}

func (t EffectTable) walk(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.ElementNode:
			switch c.DataAtom {
			case atom.A, atom.Script, atom.Style:
				// skip subtree
			default:
				t.walk(c)
			}
		case html.TextNode:
			t.rewriteText(n, c)
		}
		c = next
	}
}

// rewriteText splits the text node around keyword matches, inserting
// effect anchors in place.
func (t EffectTable) rewriteText(parent, node *html.Node) {
	text := node.Data
	if strings.TrimSpace(text) == "" {
		return
	}
	changed := false
	pos := 0
	var out []*html.Node
	for pos < len(text) {
		ri, loc := t.earliest(text[pos:])
		if ri < 0 {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if start > pos {
			out = append(out, &html.Node{Type: html.TextNode, Data: text[pos:start]})
		}
		rule := t.rules[ri]
		a := &html.Node{
			Type:     html.ElementNode,
			Data:     "a",
			DataAtom: atom.A,
			Attr: []html.Attribute{
				{Key: "href", Val: "#"},
				{Key: "class", Val: "chat-effect"},
				{Key: "data-effect", Val: rule.Effect},
			},
		}
		if rule.Emoji != "" {
			a.Attr = append(a.Attr, html.Attribute{Key: "data-emoji", Val: rule.Emoji})
		}
		a.AppendChild(&html.Node{Type: html.TextNode, Data: text[start:end]})
		out = append(out, a)
		pos = end
		changed = true
	}
	if !changed {
		return
	}
	if pos < len(text) {
		out = append(out, &html.Node{Type: html.TextNode, Data: text[pos:]})
	}
	for _, n := range out {
		parent.InsertBefore(n, node)
	}
	parent.RemoveChild(node)
}

// earliest returns the index of the rule with the leftmost match in s and
// the match location, or (-1, nil). Earlier table entries win ties.
func (t EffectTable) earliest(s string) (int, []int) {
	best := -1
	var bestLoc []int
	for i, r := range t.rules {
		loc := r.re.FindStringIndex(s)
		if loc == nil {
			continue
		}
		if best < 0 || loc[0] < bestLoc[0] {
			best, bestLoc = i, loc
		}
	}
	return best, bestLoc
}
