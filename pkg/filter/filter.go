// Package filter holds the substring predicates applied to raw device log lines.
//
// Stage 1 runs in the producer and restricts the raw stream to one application
// (plus an optional keyword). Stage 2 runs where matches are reported and
// restricts persisted lines by an output keyword. Both are case-sensitive
// substring tests over the raw line; no parsing or normalization happens.
package filter

import "strings"

// Criteria selects lines belonging to one application.
type Criteria struct {
	ApplicationID string `yaml:"app"     json:"app"`
	Keyword       string `yaml:"keyword" json:"keyword,omitempty"`
}

// Match applies Stage1 with the criteria's fields.
func (c Criteria) Match(line string) bool {
	return Stage1(line, c.ApplicationID, c.Keyword)
}

// Stage1 reports whether line contains applicationID and, when keyword is
// non-empty, also contains keyword.
func Stage1(line, applicationID, keyword string) bool {
	if !strings.Contains(line, applicationID) {
		return false
	}
	return keyword == "" || strings.Contains(line, keyword)
}

// Stage2 reports whether line contains outputKeyword. An empty keyword matches
// every line.
func Stage2(line, outputKeyword string) bool {
	return strings.Contains(line, outputKeyword)
}
