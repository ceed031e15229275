// Package appads parses and analyzes app-ads.txt documents and evaluates
// search queries against their lines. Analysis is chunked so large
// documents keep a bounded memory profile inside the worker pool.
package appads

import "strings"

// LineKind classifies one document line.
type LineKind int

const (
	LineEmpty LineKind = iota
	LineComment
	LineValid
	LineInvalid
)

// Line is one parsed app-ads.txt line. Raw is the trimmed original line;
// the record fields are set only for LineValid.
type Line struct {
	Number int // 1-based position in the original document
	Raw    string
	Kind   LineKind

	Domain       string // lowercase publisher domain
	PublisherID  string
	Relationship string // canonical: direct, reseller or other
	TagID        string
}

// Relationship values defined by IAB app-ads.txt; anything else counts as other.
const (
	RelationshipDirect   = "direct"
	RelationshipReseller = "reseller"
	RelationshipOther    = "other"
)

// SplitLines splits a document body into lines, accepting CRLF, LF and
// bare CR line endings.
func SplitLines(body string) []string {
	if body == "" {
		return nil
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	return strings.Split(body, "\n")
}

// ParseLine parses one line. An inline "#" comment is stripped before
// tokenizing; a line whose first non-space character is "#" is a comment.
// A line is valid when it has at least three fields and the first three
// are non-empty.
func ParseLine(number int, raw string) Line {
	line := Line{Number: number, Raw: strings.TrimSpace(raw)}

	if line.Raw == "" {
		line.Kind = LineEmpty
		return line
	}
	if strings.HasPrefix(line.Raw, "#") {
		line.Kind = LineComment
		return line
	}

	content := line.Raw
	if idx := strings.Index(content, "#"); idx != -1 {
		content = strings.TrimSpace(content[:idx])
	}
	if content == "" {
		line.Kind = LineComment
		return line
	}

	fields := strings.Split(content, ",")
	for i, field := range fields {
		fields[i] = strings.TrimSpace(field)
	}

	if len(fields) < 3 || fields[0] == "" || fields[1] == "" || fields[2] == "" {
		line.Kind = LineInvalid
		return line
	}

	line.Kind = LineValid
	line.Domain = strings.ToLower(fields[0])
	line.PublisherID = fields[1]
	line.TagID = ""
	if len(fields) >= 4 {
		line.TagID = fields[3]
	}

	switch strings.ToLower(fields[2]) {
	case RelationshipDirect:
		line.Relationship = RelationshipDirect
	case RelationshipReseller:
		line.Relationship = RelationshipReseller
	default:
		line.Relationship = RelationshipOther
	}
	return line
}
