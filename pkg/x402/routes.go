package x402

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Route is one compiled gate rule: a verb filter, a path pattern compiled to
// a regular expression, and the payment terms applied when it matches.
type Route struct {
	Verb    string
	Pattern *regexp.Regexp
	Config  RouteConfig

	specificity int
}

// routeParamSegment matches an escaped [name] parameter inside a pattern that
// has been through regexp.QuoteMeta.
var routeParamSegment = regexp.MustCompile(`\\\[([A-Za-z0-9_]+)\\\]`)

// CompileRoutes turns a RoutesConfig into matchable routes. Path patterns
// support "*" (any characters, non-greedy) and "[name]" (exactly one path
// segment); every other character matches literally.
func CompileRoutes(routes RoutesConfig) ([]Route, error) {
	keys := make([]string, 0, len(routes))
	for key := range routes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	compiled := make([]Route, 0, len(routes))
	for _, key := range keys {
		config := routes[key]
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("route %q: %w", key, err)
		}

		verb, pattern := splitRoutePattern(key)
		if pattern == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRoutePattern, key)
		}

		expr, err := compilePathPattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRoutePattern, key, err)
		}

		compiled = append(compiled, Route{
			Verb:        verb,
			Pattern:     expr,
			Config:      config,
			specificity: patternSpecificity(expr.String()),
		})
	}
	return compiled, nil
}

// splitRoutePattern separates the optional verb prefix from the path
// pattern. A key without a space applies to every method.
func splitRoutePattern(key string) (verb, pattern string) {
	key = strings.TrimSpace(key)
	if head, tail, found := strings.Cut(key, " "); found {
		return strings.ToUpper(head), strings.TrimSpace(tail)
	}
	return "*", key
}

func compilePathPattern(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `.*?`)
	escaped = routeParamSegment.ReplaceAllString(escaped, `[^/]+`)
	return regexp.Compile("^" + escaped + "$")
}

// patternSpecificity ranks compiled patterns so the most literal one wins.
// Wildcard expansions contribute nothing and parameter segments a single
// character, so "/a/b" outranks "/a/*" and "/a/[id]" sits between them.
func patternSpecificity(compiled string) int {
	s := strings.ReplaceAll(compiled, ".*?", "")
	s = strings.ReplaceAll(s, "[^/]+", "+")
	return len(s)
}

// NormalizePath canonicalizes a request path before route matching: query
// and fragment stripped, percent-escapes decoded, backslashes treated as
// slashes, duplicate slashes collapsed, trailing slash removed. The result
// is stable under repeated normalization.
func NormalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	path = strings.ReplaceAll(path, `\`, "/")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

// MatchRoute returns the most specific route matching the request, or nil
// when the request is not priced. Verbs match exactly or via "*".
func MatchRoute(routes []Route, method, path string) *Route {
	method = strings.ToUpper(method)
	normalized := NormalizePath(path)

	var best *Route
	for i := range routes {
		route := &routes[i]
		if route.Verb != "*" && route.Verb != method {
			continue
		}
		if !route.Pattern.MatchString(normalized) {
			continue
		}
		if best == nil || route.specificity > best.specificity {
			best = route
		}
	}
	return best
}
