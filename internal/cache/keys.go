package cache

import (
	"net/url"
	"sort"
	"strings"
)

const keyPrefix = "statedge:resp"

// Key derives a deterministic cache key from an endpoint class and its query
// parameters. Parameter order never changes the key: names are sorted, and
// repeated values are sorted within a name.
func Key(class string, params url.Values) string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteByte(':')
	b.WriteString(strings.ToLower(class))

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		values := append([]string(nil), params[name]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteByte(':')
			b.WriteString(strings.ToLower(name))
			b.WriteByte('=')
			b.WriteString(strings.ToLower(strings.TrimSpace(v)))
		}
	}
	return b.String()
}
