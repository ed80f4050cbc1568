package repository

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MatchAll is the query selecting every entry.
const MatchAll = "*"

var andSplitter = regexp.MustCompile(`(?i)\s+AND\s+`)

type term struct {
	key   string
	value string
}

// query is a parsed conjunction of property terms. An empty term list
// matches everything.
type query struct {
	terms []term
}

// ParseQuery parses "*" or "k1=v1 AND k2=v2".
func ParseQuery(q string) (query, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return query{}, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	if q == MatchAll {
		return query{}, nil
	}

	var parsed query
	for _, raw := range andSplitter.Split(q, -1) {
		k, v, ok := strings.Cut(raw, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" {
			return query{}, fmt.Errorf("%w: term %q is not key=value", ErrInvalidQuery, raw)
		}
		if uq, err := strconv.Unquote(v); err == nil {
			v = uq
		}
		parsed.terms = append(parsed.terms, term{key: k, value: v})
	}
	return parsed, nil
}

func (q query) matches(d Document) bool {
	for _, t := range q.terms {
		var got string
		switch t.key {
		case "id":
			got = d.ID
		case "version":
			got = d.VersionID
		case "trashed":
			got = strconv.FormatBool(d.Trashed)
		default:
			got = d.Properties[t.key]
		}
		if got != t.value {
			return false
		}
	}
	return true
}

// ValidateQuery checks the syntax of q.
func ValidateQuery(q string) error {
	_, err := ParseQuery(q)
	return err
}
