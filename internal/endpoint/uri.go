package endpoint

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var schemePattern = regexp.MustCompile(`^[a-z][a-z0-9+.\-]*$`)

// Parsed is a normalized endpoint URI.
type Parsed struct {
	Key    string            // cache key: scheme:path?sorted-query
	Scheme string            // component name
	Path   string            // scheme-specific part without query
	Params map[string]string // first value of each query parameter
}

// Normalize parses raw into its cache key. "direct://foo" and "direct:foo"
// normalize to the same key, and query parameters are sorted.
func Normalize(raw string) (Parsed, error) {
	s := strings.TrimSpace(raw)
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return Parsed{}, fmt.Errorf("%w: %q has no scheme", ErrInvalidURI, raw)
	}

	scheme := strings.ToLower(s[:i])
	if !schemePattern.MatchString(scheme) {
		return Parsed{}, fmt.Errorf("%w: %q has an invalid scheme", ErrInvalidURI, raw)
	}

	rest := strings.TrimPrefix(s[i+1:], "//")
	path, rawQuery, _ := strings.Cut(rest, "?")
	if path == "" {
		return Parsed{}, fmt.Errorf("%w: %q has an empty path", ErrInvalidURI, raw)
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: %q: %v", ErrInvalidURI, raw, err)
	}

	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	key := scheme + ":" + path
	if encoded := values.Encode(); encoded != "" {
		key += "?" + encoded
	}

	return Parsed{Key: key, Scheme: scheme, Path: path, Params: params}, nil
}

// Matches reports whether a normalized uri matches pattern. A pattern matches
// when it equals the uri (before or after normalization), when it is a glob
// matching the uri, or when it is a regular expression matching the whole uri.
func Matches(pattern, uri string) bool {
	if pattern == uri {
		return true
	}
	if p, err := Normalize(pattern); err == nil && p.Key == uri {
		return true
	}
	if ok, err := doublestar.Match(pattern, uri); err == nil && ok {
		return true
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return false
	}
	return re.MatchString(uri)
}
