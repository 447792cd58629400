package visa

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/visa-pipeline/internal/contract"
)

// Resolver maps free-form visa labels to canonical codes with an ordered,
// first-match-wins rule table.
type Resolver struct {
	version string
	rules   []rule
}

// Version identifies the rule table.
func (r *Resolver) Version() string { return r.version }

// Codes returns the rule codes in evaluation order.
func (r *Resolver) Codes() []Code {
	out := make([]Code, len(r.rules))
	for i, rl := range r.rules {
		out[i] = rl.code
	}
	return out
}

var (
	dropPunct  = strings.NewReplacer(".", "", "'", "", "’", "")
	spacePunct = regexp.MustCompile(`[,;:!?"()\[\]{}*]+`)
)

// Normalize folds s the way rules expect: lowercase, no diacritics, no
// sentence punctuation, single spaces.
func Normalize(s string) string {
	s = contract.Fold(s)
	s = dropPunct.Replace(s)
	s = spacePunct.ReplaceAllString(s, " ")
	return contract.NormalizeSpace(s)
}

// Resolve returns the canonical code for a free-form label. Unmatched input
// returns false; nothing is guessed.
func (r *Resolver) Resolve(freeform string) (Code, bool) {
	raw := strings.TrimSpace(freeform)
	if raw == "" {
		return "", false
	}

	folded := Normalize(raw)
	for _, rl := range r.rules {
		if rl.match(folded) {
			return rl.code, true
		}
	}

	direct := Code(strings.ToUpper(raw))
	if Known(direct) {
		return direct, true
	}

	simple := strings.Join(strings.Fields(string(direct)), "_")
	simple = strings.ReplaceAll(simple, "-", "_")
	simple = strings.NewReplacer("(", "", ")", "").Replace(simple)
	if Known(Code(simple)) {
		return Code(simple), true
	}

	return "", false
}

var prefixRe = regexp.MustCompile(`^\s*\[([^\]]+)\]\s*`)

// Prefix parses a "[CODE]" or "[CODE/CODE]" question prefix. ok is false when
// there is no prefix or any part fails to resolve.
func (r *Resolver) Prefix(question string) (codes []Code, rest string, ok bool) {
	m := prefixRe.FindStringSubmatchIndex(question)
	if m == nil {
		return nil, question, false
	}
	inner := question[m[2]:m[3]]
	rest = question[m[1]:]

	parts := strings.FieldsFunc(inner, func(r rune) bool { return r == '/' || r == ',' || r == '+' })
	if len(parts) == 0 {
		return nil, rest, false
	}
	for _, p := range parts {
		c, found := r.Resolve(p)
		if !found {
			return nil, rest, false
		}
		codes = append(codes, c)
	}
	return codes, rest, true
}

// DedupRank keeps the first item per code, then stable-sorts by descending
// confidence.
func DedupRank[T any](items []T, code func(T) Code, confidence func(T) float64) []T {
	seen := make(map[Code]bool, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		c := code(it)
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return confidence(out[i]) > confidence(out[j])
	})
	return out
}
