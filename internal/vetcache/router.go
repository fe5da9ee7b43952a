package vetcache

import (
	"net/http"
	"regexp"
	"strings"
)

type Route int

const (
	// RoutePassThrough requests are forwarded untouched and never cached.
	RoutePassThrough Route = iota
	// RouteNetworkOnly covers API paths outside the cacheable allow-list.
	RouteNetworkOnly
	RouteAPI
	RouteImage
	RouteStatic
	RouteNetworkFirst
)

func (r Route) String() string {
	switch r {
	case RoutePassThrough:
		return "pass-through"
	case RouteNetworkOnly:
		return "network-only"
	case RouteAPI:
		return "api"
	case RouteImage:
		return "image"
	case RouteStatic:
		return "static"
	case RouteNetworkFirst:
		return "network-first"
	}
	return "unknown"
}

var (
	imageExt  = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp|svg)$`)
	staticExt = regexp.MustCompile(`(?i)\.(js|css|woff|woff2)$`)
)

// Router picks the strategy for a request. First match wins.
type Router struct {
	apiPrefix      string
	cacheableAPI   []string
	staticPrefixes []string
}

func NewRouter(cfg CacheConfig) Router {
	return Router{
		apiPrefix:      cfg.APIPrefix,
		cacheableAPI:   append([]string(nil), cfg.CacheableAPI...),
		staticPrefixes: append([]string(nil), cfg.StaticPrefixes...),
	}
}

func (rt Router) Classify(r *http.Request) Route {
	if r.Method != http.MethodGet {
		return RoutePassThrough
	}
	if s := requestScheme(r); s != "http" && s != "https" {
		return RoutePassThrough
	}

	path := r.URL.Path
	if rt.apiPrefix != "" && strings.HasPrefix(path, rt.apiPrefix) {
		if hasAnyPrefix(path, rt.cacheableAPI) {
			return RouteAPI
		}
		return RouteNetworkOnly
	}
	if r.Header.Get("Sec-Fetch-Dest") == "image" || imageExt.MatchString(path) {
		return RouteImage
	}
	if hasAnyPrefix(path, rt.staticPrefixes) || staticExt.MatchString(path) {
		return RouteStatic
	}
	return RouteNetworkFirst
}

// requestScheme is the scheme of an absolute-form request URL, otherwise the
// scheme the request arrived over.
func requestScheme(r *http.Request) string {
	if r.URL.Scheme != "" {
		return strings.ToLower(r.URL.Scheme)
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// requestKey is the cache identity of a request. The worker fronts a single
// origin, so path and query identify a resource.
func requestKey(r *http.Request) string {
	return r.URL.RequestURI()
}
