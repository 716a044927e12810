// Package format renders plain chat text into a safe HTML fragment.
//
// Input is always escaped first; markup spans, same-site links and keyword
// effects are layered on top of the escaped text, so no caller-supplied
// markup ever reaches the output.
package format

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Formatter holds the per-site knobs of the renderer.
type Formatter struct {
	// SiteHost is the host messages are served from. Only URLs on this
	// host become anchors; foreign URLs stay plain text. Empty disables
	// linking entirely.
	SiteHost string
	// Effects annotates keywords in the rendered fragment. The zero table
	// is a no-op.
	Effects EffectTable
}

// delimRule maps an inline delimiter character to its HTML wrapper.
type delimRule struct {
	delim byte
	open  string
	close string
}

// Rule order decides ties when two spans start at the same position.
var delimRules = []delimRule{
	{'*', "<strong>", "</strong>"},
	{'`', "<em>", "</em>"},
	{'~', "<del>", "</del>"},
	{'^', "<mark>", "</mark>"},
	{'_', `<span class="chat-highlight">`, "</span>"},
}

var urlRe = regexp.MustCompile(`https?://\S+`)

const enlargeClass = "chat-emoji-xlarge"

// Render converts raw message text to the HTML fragment served to clients.
func (f *Formatter) Render(text string) string {
	enlarge := false
	if strings.HasPrefix(text, "|z") && strings.HasSuffix(text, "z|") && len(text) > 4 {
		enlarge = true
		text = text[2 : len(text)-2]
	}

	var b strings.Builder
	cursor := 0
	for cursor < len(text) {
		start, end, inner, rule, isURL := earliestMatch(text, cursor)
		if start < 0 {
			b.WriteString(html.EscapeString(text[cursor:]))
			break
		}
		b.WriteString(html.EscapeString(text[cursor:start]))
		if isURL {
			raw := text[start:end]
			if f.sameSite(raw) {
				b.WriteString(`<a href="` + html.EscapeString(raw) + `" target="_blank" rel="noopener">`)
				b.WriteString(html.EscapeString(raw))
				b.WriteString("</a>")
			} else {
				b.WriteString(html.EscapeString(raw))
			}
		} else {
			b.WriteString(rule.open)
			b.WriteString(html.EscapeString(inner))
			b.WriteString(rule.close)
		}
		cursor = end
	}
	out := b.String()

	out = f.Effects.Annotate(out)

	if enlarge && !strings.Contains(strings.ToLower(out), "<img") {
		out = `<span class="` + enlargeClass + `">` + out + `</span>`
	}
	return out
}

// sameSite reports whether raw parses as a URL on the configured host,
// ignoring a leading www. on either side.
func (f *Formatter) sameSite(raw string) bool {
	if f.SiteHost == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	want := strings.TrimPrefix(strings.ToLower(f.SiteHost), "www.")
	return host == want
}

// earliestMatch scans from cursor for the nearest markup span or URL.
// start is -1 when nothing matches. Delimiter rules win ties against the
// URL rule and earlier delimiter rules win ties against later ones.
func earliestMatch(text string, cursor int) (start, end int, inner string, rule delimRule, isURL bool) {
	start = -1
	for _, r := range delimRules {
		s, e, in, ok := findDelimited(text, cursor, r.delim)
		if ok && (start < 0 || s < start) {
			start, end, inner, rule, isURL = s, e, in, r, false
		}
	}
	if loc := urlRe.FindStringIndex(text[cursor:]); loc != nil {
		s, e := cursor+loc[0], cursor+loc[1]
		if start < 0 || s < start {
			start, end, isURL = s, e, true
		}
	}
	return
}

// findDelimited locates the first well-formed span of the form
// <delim>inner<delim> at or after from. The span must sit on a word
// boundary: the opening delimiter preceded by start-of-text or whitespace,
// or the closing delimiter followed by whitespace or end-of-text. Inner
// text may not start or end with whitespace and may not contain the
// delimiter (a lone delimiter character is allowed as inner).
func findDelimited(text string, from int, delim byte) (start, end int, inner string, ok bool) {
	for i := from; i < len(text); i++ {
		if text[i] != delim {
			continue
		}
		if i+2 > len(text) {
			break
		}
		rel := strings.IndexByte(text[i+2:], delim)
		if rel < 0 {
			continue
		}
		j := i + 2 + rel
		in := text[i+1 : j]
		if !innerValid(in, delim) {
			continue
		}
		if !boundaryOK(text, i, j) {
			continue
		}
		return i, j + 1, in, true
	}
	return 0, 0, "", false
}

func innerValid(in string, delim byte) bool {
	first, fw := utf8.DecodeRuneInString(in)
	if unicode.IsSpace(first) {
		return false
	}
	if fw == len(in) {
		return true
	}
	if in[0] == delim {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(in)
	return !unicode.IsSpace(last)
}

func boundaryOK(text string, open, close int) bool {
	if open == 0 {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:open])
	if unicode.IsSpace(prev) {
		return true
	}
	if close+1 >= len(text) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(text[close+1:])
	return unicode.IsSpace(next)
}
