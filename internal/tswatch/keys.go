package tswatch

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// Params are notebook parameters and display settings sent as a query string.
type Params map[string]string

// Clone returns a copy; nil stays nil.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Equal compares by value. A nil map equals an empty one.
func (p Params) Equal(o Params) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Encode renders the params as a query string sorted by key.
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}
	v := make(url.Values, len(p))
	for k, val := range p {
		v.Set(k, val)
	}
	return v.Encode()
}

// String is a stable "k=v k=v" rendering for logs.
func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p[k])
	}
	return strings.Join(parts, " ")
}

// WithParams appends params to a URL that may already carry a query string.
func WithParams(rawURL string, params Params) string {
	q := params.Encode()
	if q == "" {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + q
}

const keyDomain = "times-square"

// Key identifies a cached query: [domain, resource, ...identifiers, params].
// Prefix keys carry no params element and are used to scope invalidation.
// The zero Key is invalid. Keys are immutable.
type Key struct {
	parts     []string
	params    Params
	hasParams bool
	enc       string
}

func newKey(parts []string, params Params, hasParams bool) Key {
	k := Key{
		parts:     append([]string(nil), parts...),
		hasParams: hasParams,
	}
	tuple := make([]any, 0, len(parts)+1)
	for _, p := range parts {
		tuple = append(tuple, p)
	}
	if hasParams {
		k.params = params.Clone()
		if k.params == nil {
			k.params = Params{}
		}
		// encoding/json sorts map keys, which makes the encoding canonical.
		tuple = append(tuple, map[string]string(k.params))
	}
	b, err := json.Marshal(tuple)
	if err != nil {
		// []any of strings and a string map always marshals.
		panic(err)
	}
	k.enc = string(b)
	return k
}

func prefixKey(parts ...string) Key { return newKey(parts, nil, false) }

func paramKey(params Params, parts ...string) Key { return newKey(parts, params, true) }

// String is the canonical encoding, usable as a map key.
func (k Key) String() string { return k.enc }

func (k Key) IsZero() bool { return k.enc == "" }

// Equal reports structural equality, params compared by value.
func (k Key) Equal(o Key) bool { return k.enc == o.enc }

// Parts returns the non-params elements.
func (k Key) Parts() []string { return append([]string(nil), k.parts...) }

// Params returns a copy of the params element, nil for prefix keys.
func (k Key) Params() Params { return k.params.Clone() }

// HasPrefix reports whether p scopes k: p's elements lead k's, and when p
// has a params element it equals k's.
func (k Key) HasPrefix(p Key) bool {
	if p.IsZero() || len(p.parts) > len(k.parts) {
		return false
	}
	for i := range p.parts {
		if p.parts[i] != k.parts[i] {
			return false
		}
	}
	if !p.hasParams {
		return true
	}
	return k.hasParams && len(p.parts) == len(k.parts) && p.params.Equal(k.params)
}

// Key factory.

func AllKey() Key { return prefixKey(keyDomain) }

func PagesKey() Key { return prefixKey(keyDomain, "pages") }

func PageListKey() Key { return prefixKey(keyDomain, "pages", "list") }

func PageKey(name string) Key { return prefixKey(keyDomain, "pages", name) }

func HTMLStatusKey() Key { return prefixKey(keyDomain, "html-status") }

func HTMLStatusForPageKey(page string, params Params) Key {
	return paramKey(params, keyDomain, "html-status", page)
}

func HTMLStatusByURLKey(statusURL string, params Params) Key {
	return paramKey(params, keyDomain, "html-status", "url", statusURL)
}

func GitHubKey() Key { return prefixKey(keyDomain, "github") }

func GitHubContentsKey() Key { return prefixKey(keyDomain, "github", "contents") }

func GitHubPageKey(displayPath string) Key {
	return prefixKey(keyDomain, "github", "page", displayPath)
}

func GitHubHTMLStatusKey(displayPath string, params Params) Key {
	return paramKey(params, keyDomain, "github", "html-status", displayPath)
}

func GitHubPRKey() Key { return prefixKey(keyDomain, "github-pr") }

func GitHubPRContentsKey(owner, repo, commit string) Key {
	return prefixKey(keyDomain, "github-pr", "contents", owner, repo, commit)
}

func GitHubPRPageKey(owner, repo, commit, path string) Key {
	return prefixKey(keyDomain, "github-pr", "page", owner, repo, commit, path)
}

func GitHubPRHTMLStatusKey(owner, repo, commit, path string, params Params) Key {
	return paramKey(params, keyDomain, "github-pr", "html-status", owner, repo, commit, path)
}
