// Package headers parses "Name: Value" header arguments from the command
// line.
package headers

import (
	"strings"
)

// ParseHeaders turns repeated "-H" values into a header map. Entries with
// no colon or an empty name are silently dropped; a missing value is kept
// as an empty string so headers like "DNT:" still get sent.
func ParseHeaders(h []string) map[string]string {
	m := make(map[string]string, len(h))
	for _, hdr := range h {
		name, value, found := strings.Cut(hdr, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		m[name] = strings.TrimSpace(value)
	}
	return m
}
