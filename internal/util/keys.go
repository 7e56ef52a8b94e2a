package util

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// maxKeyLen bounds normalized keys; longer keys keep their prefix for rule
// matching and gain a short hash suffix for uniqueness.
const maxKeyLen = 200

// NormalizeKey derives the stable resource key from a logical resource
// address (path + query). The same address always yields the same key
// across app reloads: the path is cleaned, query parameters are sorted,
// fragments dropped.
func NormalizeKey(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		// Unparseable addresses still need a deterministic identity.
		return clampKey(raw)
	}

	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	p = path.Clean(p)

	q := u.Query()
	if len(q) == 0 {
		return clampKey(p)
	}

	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(p)
	b.WriteByte('?')
	first := true
	for _, name := range names {
		vals := q[name]
		sort.Strings(vals)
		for _, v := range vals {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(url.QueryEscape(name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return clampKey(b.String())
}

func clampKey(k string) string {
	if len(k) <= maxKeyLen {
		return k
	}
	sum := sha256.Sum256([]byte(k))
	return fmt.Sprintf("%s#%x", k[:maxKeyLen-17], sum[:8])
}
