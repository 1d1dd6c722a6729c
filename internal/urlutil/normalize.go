// Package urlutil implements URL normalization and host extraction.
//
// A URL's normalized form is its identity throughout the engine:
// scheme, lowercased host, folded path, sorted query keys, with the
// fragment and known tracking parameters stripped. Equality is by
// normalized form, and normalization is idempotent: Normalize(Normalize(u))
// == Normalize(u).
package urlutil

import (
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// trackingParams lists query keys stripped during normalization because
// they vary per-visitor without changing the resource identity.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
	"ref_src":      {},
	"_ga":          {},
	"igshid":       {},
	"CMP":          {},
}

// Normalize produces the canonical string form of a URL used as the
// dedup/identity key throughout the engine. It is a pure function of its
// input and idempotent.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "" {
		u.Scheme = "https"
	}

	host := strings.ToLower(u.Hostname())
	if ascii, err := idna.ToASCII(host); err == nil {
		host = ascii
	}
	port := u.Port()
	if port != "" && !isDefaultPort(u.Scheme, port) {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}

	u.Path = foldPath(u.Path)
	if u.Path == "" {
		u.Path = "/"
	}
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
	}

	u.RawQuery = sortedQuery(u.RawQuery)
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// MustNormalize normalizes or returns the original string on error. Useful
// in contexts that already validated the URL upstream (e.g. logging keys).
func MustNormalize(raw string) string {
	n, err := Normalize(raw)
	if err != nil {
		return raw
	}
	return n
}

// Host returns the lowercased host for a normalized or raw URL. This is
// the key for all throttle and budget state.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// foldPath collapses duplicate slashes and resolves "." / ".." segments
// without touching the query string.
func foldPath(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	folded := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".", "":
			continue
		case "..":
			if len(folded) > 0 {
				folded = folded[:len(folded)-1]
			}
		default:
			folded = append(folded, seg)
		}
	}
	return "/" + strings.Join(folded, "/")
}

// sortedQuery rewrites a raw query string with keys (and repeated values)
// sorted for stable comparison, and strips known tracking parameters.
func sortedQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return ""
	}
	for k := range trackingParams {
		delete(values, k)
	}
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vals := append([]string(nil), values[k]...)
		sort.Strings(vals)
		for j, v := range vals {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
