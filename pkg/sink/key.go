package sink

import (
	"strings"
)

// DefaultKeyPrefix prefixes every Redis key.
const DefaultKeyPrefix = "nepse"

// Key identifies one stored item.
type Key struct {
	// Prefix is the namespace (e.g., "nepse")
	Prefix string

	// Dataset is the dataset name (e.g., "reports")
	Dataset string

	// Name is the item within the dataset (e.g., a company symbol)
	Name string
}

// String generates the key string.
// Format: prefix:dataset:name
//
// Example:
//
//	nepse:reports:ABC%2FP
func (k Key) String() string {
	prefix := k.Prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	parts := []string{prefix}
	if k.Dataset != "" {
		parts = append(parts, k.Dataset)
	}
	if k.Name != "" {
		parts = append(parts, SafeName(k.Name))
	}
	return strings.Join(parts, ":")
}

var nameEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"\\", "%5C",
	":", "%3A",
)

// SafeName percent-escapes the separators that symbols such as "ABC/P" may
// contain. Distinct names always map to distinct segments.
func SafeName(name string) string {
	return nameEscaper.Replace(name)
}
