// Package transcript corrects recognized speech against a configured lexicon
// of domain terms (product names, proper nouns, jargon) that speech
// recognition models routinely mangle.
//
// The matcher combines Double Metaphone phonetic encoding with Jaro-Winkler
// string similarity: a lexicon term becomes a candidate when any of its
// phonetic codes overlaps the input's, and the candidate with the highest
// Jaro-Winkler score above the phonetic threshold wins. When no phonetic
// candidate exists, a secondary pass accepts pure string similarity above a
// stricter fuzzy threshold. Multi-word terms are matched against n-gram
// windows of the input so "jarrow winkler" can align with "Jaro Winkler".
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// tokenPunct is the punctuation stripped from token edges before matching and
// reattached afterwards.
const tokenPunct = ".,!?;:\"'()"

// Correction records one replaced span.
type Correction struct {
	// Original is the span as recognized.
	Original string

	// Corrected is the lexicon term that replaced it.
	Corrected string

	// Confidence is the Jaro-Winkler score of the accepted match.
	Confidence float64
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// entry is one lexicon term with its matching data precomputed.
type entry struct {
	term   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Corrector aligns transcript text with a lexicon. It is read-only after
// construction and safe for concurrent use.
type Corrector struct {
	entries  []entry
	maxWords int

	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New builds a Corrector for the given lexicon. Blank terms are ignored. An
// empty lexicon yields a corrector whose Correct is the identity.
func New(lexicon []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	for _, term := range lexicon {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		lower := strings.ToLower(term)
		tokens := strings.Fields(lower)
		c.entries = append(c.entries, entry{
			term:   term,
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
		if len(tokens) > c.maxWords {
			c.maxWords = len(tokens)
		}
	}
	return c
}

// Correct rewrites text, replacing spans that align with lexicon terms, and
// returns the result with the list of applied corrections. Longer n-gram
// matches take precedence over single-word matches at the same position.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if len(c.entries) == 0 {
		return text, nil
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)

	i := 0
	for i < len(tokens) {
		matchedLen := 0
		for n := min(c.maxWords, len(tokens)-i); n >= 1 && matchedLen == 0; n-- {
			span := strings.Join(tokens[i:i+n], " ")
			clean := strings.Trim(span, tokenPunct)
			if clean == "" {
				continue
			}

			term, score, ok := c.match(clean)
			if !ok {
				continue
			}

			out = append(out, reattachPunct(span, clean, term))
			if clean != term {
				corrections = append(corrections, Correction{
					Original:   clean,
					Corrected:  term,
					Confidence: score,
				})
			}
			matchedLen = n
		}
		if matchedLen == 0 {
			out = append(out, tokens[i])
			i++
		} else {
			i += matchedLen
		}
	}

	return strings.Join(out, " "), corrections
}

// match finds the lexicon term most similar to phrase, following the
// phonetic-first, fuzzy-fallback strategy described in the package doc.
func (c *Corrector) match(phrase string) (term string, confidence float64, matched bool) {
	phraseLower := strings.ToLower(phrase)
	phraseTokens := strings.Fields(phraseLower)
	phraseCodes := codesForTokens(phraseTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, e := range c.entries {
		phonetic := codesOverlap(phraseCodes, e.codes)
		score := bestJWScore(phraseTokens, e.tokens, phraseLower, e.lower)

		if phonetic {
			if score >= c.phoneticThreshold {
				if !best.phonetic || score > best.score {
					best = candidate{term: e.term, score: score, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if score >= c.fuzzyThreshold && score > best.score {
				best = candidate{term: e.term, score: score}
			}
		}
	}

	if best.term == "" {
		return phrase, 0, false
	}
	return best.term, best.score, true
}

// reattachPunct puts the punctuation trimmed from span back around the
// replacement term.
func reattachPunct(span, clean, term string) string {
	start := strings.Index(span, clean)
	if start < 0 {
		return term
	}
	return span[:start] + term + span[start+len(clean):]
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the term across three strategies: full strings, space-stripped strings,
// and the best pairwise token score.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(it, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
