// Package resolver maps free-text brand/model strings onto canonical model names.
package resolver

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the minimum token similarity accepted by the fuzzy step.
const DefaultThreshold = 0.34

// Method records which step produced a resolution.
type Method string

const (
	MethodExact      Method = "exact"
	MethodSynonym    Method = "synonym"
	MethodPattern    Method = "pattern"
	MethodContains   Method = "contains"
	MethodSimilarity Method = "similarity"
	// MethodAmbiguous means two or more models share the best similarity score.
	MethodAmbiguous  Method = "ambiguous"
	MethodUnresolved Method = "unresolved"
)

// Resolution is the outcome of Resolve. When Method is MethodUnresolved or
// MethodAmbiguous, Model holds the uppercased input as a best-effort label only
// and Candidates lists the tied models of an ambiguous result.
type Resolution struct {
	Input  string
	Model  string
	Method Method
	Score  float64

	Candidates []string
}

// Confident reports whether Model is a catalog model.
func (r Resolution) Confident() bool {
	return r.Method != MethodUnresolved && r.Method != MethodAmbiguous && r.Model != ""
}

// ErrEmptyCatalog is returned when a resolver is built without models.
var ErrEmptyCatalog = errors.New("resolver: catalog has no models")

// Resolver is safe for concurrent use; it never mutates after New.
type Resolver struct {
	threshold float64
	models    []string
	synonyms  map[string]string
	patterns  []Pattern
	prefixes  []string
}

// New builds a Resolver over catalog. Model names, synonyms and prefixes are normalised once here.
func New(catalog Catalog, threshold float64) (*Resolver, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("resolver: threshold %.2f outside (0,1]", threshold)
	}
	r := &Resolver{
		threshold: threshold,
		synonyms:  make(map[string]string, len(catalog.Synonyms)),
	}
	seen := make(map[string]struct{}, len(catalog.Models))
	for _, m := range catalog.Models {
		n := Normalize(m)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		r.models = append(r.models, n)
	}
	if len(r.models) == 0 {
		return nil, ErrEmptyCatalog
	}
	for alias, canonical := range catalog.Synonyms {
		target := Normalize(canonical)
		if _, ok := seen[target]; !ok {
			return nil, fmt.Errorf("resolver: synonym %q points at unknown model %q", alias, canonical)
		}
		r.synonyms[Normalize(alias)] = target
	}
	for _, p := range catalog.Patterns {
		if p.Expr == nil {
			continue
		}
		target := Normalize(p.Model)
		if _, ok := seen[target]; !ok {
			return nil, fmt.Errorf("resolver: pattern %q points at unknown model %q", p.Expr.String(), p.Model)
		}
		r.patterns = append(r.patterns, Pattern{Expr: p.Expr, Model: target})
	}
	for _, prefix := range catalog.BrandPrefixes {
		if n := Normalize(prefix); n != "" {
			r.prefixes = append(r.prefixes, n)
		}
	}
	return r, nil
}

// Models returns the normalised canonical model list.
func (r *Resolver) Models() []string {
	return append([]string(nil), r.models...)
}

// Threshold returns the similarity acceptance threshold.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// Resolve maps raw onto a canonical model. It never fails: low-confidence
// input comes back with MethodUnresolved.
func (r *Resolver) Resolve(raw string) Resolution {
	res := Resolution{Input: raw, Method: MethodUnresolved}
	text := r.stripBrand(Normalize(raw))
	if text == "" {
		return res
	}
	res.Model = strings.ToUpper(strings.TrimSpace(raw))

	for _, m := range r.models {
		if text == m {
			return Resolution{Input: raw, Model: m, Method: MethodExact, Score: 1}
		}
	}
	if m, ok := r.synonyms[text]; ok {
		return Resolution{Input: raw, Model: m, Method: MethodSynonym, Score: 1}
	}
	for _, p := range r.patterns {
		if p.Expr.MatchString(text) {
			return Resolution{Input: raw, Model: p.Model, Method: MethodPattern, Score: 1}
		}
	}
	if m, ok := r.contains(text); ok {
		return Resolution{Input: raw, Model: m, Method: MethodContains, Score: Similarity(text, m)}
	}

	tied, bestScore := bestOf(text, r.models)
	res.Score = bestScore
	if bestScore < r.threshold || len(tied) == 0 {
		return res
	}
	if len(tied) > 1 {
		res.Method = MethodAmbiguous
		res.Candidates = tied
		return res
	}
	return Resolution{Input: raw, Model: tied[0], Method: MethodSimilarity, Score: bestScore}
}

// BestMatch scores text against an explicit candidate list instead of the catalog.
// A best score shared by distinct candidates is not a match.
func (r *Resolver) BestMatch(text string, candidates []string) (string, float64, bool) {
	tied, bestScore := bestOf(r.stripBrand(Normalize(text)), candidates)
	if len(tied) == 0 {
		return "", bestScore, false
	}
	return tied[0], bestScore, len(tied) == 1 && bestScore >= r.threshold
}

// bestOf returns every distinct candidate sharing the highest non-zero score, in input order.
func bestOf(text string, candidates []string) ([]string, float64) {
	var tied []string
	bestScore := 0.0
	for _, c := range candidates {
		score := Similarity(text, c)
		switch {
		case score == 0 || score < bestScore:
		case score > bestScore:
			tied, bestScore = []string{c}, score
		case !slices.Contains(tied, c):
			tied = append(tied, c)
		}
	}
	return tied, bestScore
}

// contains prefers the longest catalog model found inside text, then a
// unique model that contains text as a whole token run.
func (r *Resolver) contains(text string) (string, bool) {
	padded := " " + text + " "
	best := ""
	for _, m := range r.models {
		if strings.Contains(padded, " "+m+" ") && len(m) > len(best) {
			best = m
		}
	}
	if best != "" {
		return best, true
	}
	match := ""
	for _, m := range r.models {
		if strings.Contains(" "+m+" ", padded) {
			if match != "" {
				return "", false
			}
			match = m
		}
	}
	return match, match != ""
}

func (r *Resolver) stripBrand(text string) string {
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(text, prefix+" ") {
			return strings.TrimSpace(strings.TrimPrefix(text, prefix))
		}
	}
	return text
}

// Normalize folds width and case, turns punctuation into spaces and collapses whitespace.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Upper(language.Und).String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Similarity is the Jaccard index of the whitespace tokens of a and b after normalisation.
func Similarity(a, b string) float64 {
	ta := tokenSet(Normalize(a))
	tb := tokenSet(Normalize(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range strings.Fields(s) {
		set[t] = struct{}{}
	}
	return set
}
