// Package moderation decides whether a message may be posted: the word
// filter, role exemptions and the per-sender rate limiter live here.
package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"pollchat/pkg/config"
	"pollchat/pkg/logger"
	"pollchat/pkg/models"
)

// ErrEmptyMessage is returned when a message contains only whitespace,
// control or invisible characters.
var ErrEmptyMessage = errors.New("message is empty")

// BlockedError reports which configured term matched.
type BlockedError struct {
	Term string
}

func (e *BlockedError) Error() string { return "message contains blocked content" }

// Filter strategies.
const (
	StrategySubstring = "substring"
	StrategyWord      = "word"
	StrategyRegex     = "regex"
)

type compiledTerm struct {
	term     string
	strategy string
	// folded is the normalized term for substring matching.
	folded string
	re     *regexp.Regexp
}

// Policy is a compiled word filter. The zero value blocks nothing.
type Policy struct {
	enabled     bool
	terms       []compiledTerm
	exemptRoles map[string]struct{}
}

// NewPolicy compiles the configured filter. Invalid regex terms are
// logged and skipped rather than failing startup.
func NewPolicy(cfg config.ModerationConfig) *Policy {
	p := &Policy{enabled: cfg.EnableWordFilter, exemptRoles: map[string]struct{}{}}
	for _, r := range cfg.ExemptRoles {
		p.exemptRoles[r] = struct{}{}
	}
	for _, t := range cfg.BlockedTerms {
		term := strings.TrimSpace(t.Term)
		if term == "" {
			continue
		}
		ct := compiledTerm{term: term, strategy: t.Strategy}
		switch t.Strategy {
		case StrategyWord:
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(fold(term)) + `\b`)
			if err != nil {
				logger.Warn("blocked_term_compile_failed", "term", term, "error", err)
				continue
			}
			ct.re = re
		case StrategyRegex:
			// regex terms run verbatim against the raw body, case-sensitive
			re, err := regexp.Compile(term)
			if err != nil {
				logger.Warn("blocked_term_compile_failed", "term", term, "error", err)
				continue
			}
			ct.re = re
		default:
			ct.strategy = StrategySubstring
			ct.folded = fold(term)
		}
		p.terms = append(p.terms, ct)
	}
	return p
}

// fold normalizes text for matching: NFKC plus unicode case folding, so
// visually equivalent spellings compare equal.
func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

// Check validates the message body against the emptiness rule and the
// word filter. Actors carrying an exempt role skip the word filter but
// not the emptiness rule.
func (p *Policy) Check(body string, actor models.Actor) error {
	if visiblyEmpty(body) {
		return ErrEmptyMessage
	}
	if !p.enabled || len(p.terms) == 0 {
		return nil
	}
	if p.exempt(actor) {
		return nil
	}
	folded := fold(body)
	for _, t := range p.terms {
		switch t.strategy {
		case StrategyWord:
			if t.re.MatchString(folded) {
				return &BlockedError{Term: t.term}
			}
		case StrategyRegex:
			if t.re.MatchString(body) {
				return &BlockedError{Term: t.term}
			}
		default:
			if strings.Contains(folded, t.folded) {
				return &BlockedError{Term: t.term}
			}
		}
	}
	return nil
}

func (p *Policy) exempt(actor models.Actor) bool {
	if actor.Admin {
		return true
	}
	for _, r := range actor.Roles {
		if _, ok := p.exemptRoles[r]; ok {
			return true
		}
	}
	return false
}

// visiblyEmpty reports whether the text renders as nothing: only spaces,
// control characters and invisible format characters.
func visiblyEmpty(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		return false
	}
	return true
}

// Describe returns a short human description of the policy for logs.
func (p *Policy) Describe() string {
	if !p.enabled {
		return "word filter disabled"
	}
	return fmt.Sprintf("word filter enabled, %d terms", len(p.terms))
}
