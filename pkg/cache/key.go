package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key represents a composite identifier for a cached resource.
type Key struct {
	// Namespace groups keys of one data source (default "sheets")
	Namespace string

	// Resource is the logical resource (e.g. a spreadsheet ID)
	Resource string

	// Params narrow the resource (e.g. {"range": "Sales!A1:F"})
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: namespace:resource:param1=val1:param2=val2
//
// Example:
//
//	sheets:1AbC:range=Sales!A1:F
func (k Key) String() string {
	ns := k.Namespace
	if ns == "" {
		ns = "sheets"
	}
	parts := []string{ns}

	resource := strings.Trim(k.Resource, "/")
	if resource != "" {
		parts = append(parts, resource)
	}

	// Params sorted for determinism
	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.Params[key], ",")))
		}
	}

	return strings.Join(parts, ":")
}
