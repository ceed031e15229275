package appads

import (
	"strings"

	"github.com/adscout/engine/pkg/types"
)

// termMatcher evaluates one search term against a parsed line.
type termMatcher func(line *Line) bool

// compiledQuery is a SearchQuery prepared for line-by-line evaluation.
// Free-text terms collapse into one conjunctive group; each structured
// term forms its own group. A line is a union match when any group is
// fully satisfied.
type compiledQuery struct {
	terms    []types.SearchTerm
	matchers []termMatcher // one per term, for per-term tracking
	groups   [][]int       // term indexes, all must match
}

// compileQuery prepares a term list. Returns nil for an empty query.
func compileQuery(terms []types.SearchTerm) *compiledQuery {
	if len(terms) == 0 {
		return nil
	}

	q := &compiledQuery{
		terms:    terms,
		matchers: make([]termMatcher, len(terms)),
	}

	var freeGroup []int
	for i, term := range terms {
		if term.IsStructured() {
			q.matchers[i] = structuredMatcher(term.Structured)
			q.groups = append(q.groups, []int{i})
			continue
		}
		q.matchers[i] = freeTextMatcher(term.Text)
		freeGroup = append(freeGroup, i)
	}
	if len(freeGroup) > 0 {
		q.groups = append(q.groups, freeGroup)
	}

	return q
}

// matchLine reports whether the line satisfies any group, plus which
// individual terms hit (for per-term tracking).
func (q *compiledQuery) matchLine(line *Line) (union bool, perTerm []bool) {
	perTerm = make([]bool, len(q.matchers))
	for i, matcher := range q.matchers {
		perTerm[i] = matcher(line)
	}

	for _, group := range q.groups {
		satisfied := true
		for _, idx := range group {
			if !perTerm[idx] {
				satisfied = false
				break
			}
		}
		if satisfied {
			return true, perTerm
		}
	}
	return false, perTerm
}

// labels renders the terms for the response.
func (q *compiledQuery) labels() []string {
	labels := make([]string, len(q.terms))
	for i := range q.terms {
		labels[i] = q.terms[i].Label()
	}
	return labels
}

// freeTextMatcher is a case-insensitive substring match on the raw line.
func freeTextMatcher(text string) termMatcher {
	needle := strings.ToLower(text)
	return func(line *Line) bool {
		return strings.Contains(strings.ToLower(line.Raw), needle)
	}
}

// structuredMatcher requires every non-empty field to match its line
// counterpart: domain by equality, relationship by substring, publisher
// and tag IDs by equality after interior whitespace is removed.
// Structured terms only ever match valid record lines.
func structuredMatcher(term *types.StructuredTerm) termMatcher {
	domain := strings.ToLower(term.Domain)
	publisherID := stripWhitespace(strings.ToLower(term.PublisherID))
	relationship := strings.ToLower(term.Relationship)
	tagID := stripWhitespace(strings.ToLower(term.TagID))

	return func(line *Line) bool {
		if line.Kind != LineValid {
			return false
		}
		if domain != "" && line.Domain != domain {
			return false
		}
		if publisherID != "" && stripWhitespace(strings.ToLower(line.PublisherID)) != publisherID {
			return false
		}
		if relationship != "" && !strings.Contains(line.Relationship, relationship) {
			return false
		}
		if tagID != "" && stripWhitespace(strings.ToLower(line.TagID)) != tagID {
			return false
		}
		return true
	}
}

func stripWhitespace(s string) string {
	if !strings.ContainsAny(s, " \t") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r != ' ' && r != '\t' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
