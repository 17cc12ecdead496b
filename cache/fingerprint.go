package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Request is the part of an incoming call that determines its result.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Query  map[string]string
}

// Fingerprint returns a deterministic hex key for req within category.
// Requests that differ only in method case, host case, fragment, query
// order or a trailing slash share a fingerprint.
func Fingerprint(category string, req Request) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(category)
	write(strings.ToUpper(strings.TrimSpace(req.Method)))
	write(NormalizeURL(req.URL))
	write(string(req.Body))

	keys := make([]string, 0, len(req.Query))
	for k := range req.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write(k + "=" + req.Query[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeURL canonicalises rawURL for keying. Unparseable input is
// returned trimmed so it still produces a stable key.
func NormalizeURL(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		// Encode sorts by key.
		u.RawQuery = u.Query().Encode()
	}
	// Trim on the escaped form so %2F stays distinct from '/'.
	if escaped := u.EscapedPath(); strings.HasSuffix(escaped, "/") {
		trimmed := strings.TrimRight(escaped, "/")
		if p, err := url.PathUnescape(trimmed); err == nil {
			u.Path, u.RawPath = p, trimmed
		}
	}
	return u.String()
}
