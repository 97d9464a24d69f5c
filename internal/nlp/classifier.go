// Package nlp maps raw command text to a structured intent. The classifier
// is deliberately lightweight and deterministic: weighted keyword, phrase
// and regex matchers per intent, no learned model.
package nlp

import (
	"regexp"
	"strings"

	"servis/internal/domain"
)

// MatcherKind selects how a matcher inspects the normalized text.
type MatcherKind int

const (
	// MatchKeyword matches an exact token.
	MatchKeyword MatcherKind = iota
	// MatchPhrase matches a normalized n-gram substring.
	MatchPhrase
	// MatchRegex matches a compiled regular expression.
	MatchRegex
)

// Matcher is one weighted pattern contributing to an intent's score.
type Matcher struct {
	Kind   MatcherKind
	Value  string
	Weight float64

	re *regexp.Regexp
}

// IntentPattern is the matcher set for one intent, plus the contextual
// boost applied when the session's previous intent is in BoostAfter.
type IntentPattern struct {
	Name       domain.IntentName
	Matchers   []Matcher
	BoostAfter []domain.IntentName
	Boost      float64
}

// Classifier scores text against the configured intent patterns.
type Classifier struct {
	patterns   []IntentPattern
	extractors map[domain.IntentName]extractor
}

type extractor func(text string, tokens []string, intent *domain.Intent)

// New builds a classifier with the default pattern set.
func New() *Classifier {
	return NewWithPatterns(defaultPatterns())
}

// NewWithPatterns builds a classifier from an explicit pattern set, keeping
// the given order for deterministic tie-breaking.
func NewWithPatterns(patterns []IntentPattern) *Classifier {
	compiled := make([]IntentPattern, len(patterns))
	copy(compiled, patterns)
	for i := range compiled {
		for j := range compiled[i].Matchers {
			m := &compiled[i].Matchers[j]
			if m.Kind == MatchRegex {
				m.re = regexp.MustCompile(m.Value)
			}
		}
	}
	return &Classifier{
		patterns:   compiled,
		extractors: defaultExtractors(),
	}
}

// Normalize collapses whitespace runs, trims the ends and case-folds.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Parse classifies text without session context. It always produces an
// intent; input that matches nothing comes back as unknown.
func (c *Classifier) Parse(text string) domain.Intent {
	return c.classify(text, "")
}

// ParseWithContext classifies text and applies the contextual score boost
// for intents that declare the session's last intent in their boost list.
func (c *Classifier) ParseWithContext(text string, lastIntent domain.IntentName) domain.Intent {
	return c.classify(text, lastIntent)
}

func (c *Classifier) classify(text string, lastIntent domain.IntentName) domain.Intent {
	normalized := Normalize(text)
	intent := domain.Intent{
		Name:       domain.IntentUnknown,
		Parameters: map[string]string{},
		Text:       text,
	}
	if normalized == "" {
		return intent
	}
	tokens := strings.Fields(normalized)
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		tokenSet[tok] = struct{}{}
	}

	var best domain.IntentName
	bestScore := 0.0
	for _, pattern := range c.patterns {
		score := scorePattern(pattern, normalized, tokenSet)
		if lastIntent != "" && score > 0 && pattern.Boost > 0 {
			for _, prev := range pattern.BoostAfter {
				if prev == lastIntent {
					score += pattern.Boost
					break
				}
			}
		}
		// Strictly-greater keeps ties on the earlier enumeration entry.
		if score > bestScore {
			best = pattern.Name
			bestScore = score
		}
	}

	if bestScore > 1 {
		bestScore = 1
	}
	if best == "" || bestScore < 0.5 {
		confidence := bestScore
		if confidence > 0.3 {
			confidence = 0.3
		}
		intent.Confidence = confidence
		return intent
	}

	intent.Name = best
	intent.Confidence = bestScore
	if extract, ok := c.extractors[best]; ok {
		extract(normalized, tokens, &intent)
	}
	return intent
}

// scorePattern sums matched weights over the pattern's total weight.
func scorePattern(pattern IntentPattern, text string, tokens map[string]struct{}) float64 {
	var matched, total float64
	for _, m := range pattern.Matchers {
		total += m.Weight
		switch m.Kind {
		case MatchKeyword:
			if _, ok := tokens[m.Value]; ok {
				matched += m.Weight
			}
		case MatchPhrase:
			if strings.Contains(text, m.Value) {
				matched += m.Weight
			}
		case MatchRegex:
			if m.re.MatchString(text) {
				matched += m.Weight
			}
		}
	}
	if total == 0 {
		return 0
	}
	return matched / total
}
