package vetcache

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"vetcache/internal/store"
)

// Fetcher performs the network half of every strategy. Any returned error is
// treated as the network being unreachable.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (store.Entry, error)
}

type FetcherFunc func(ctx context.Context, r *http.Request) (store.Entry, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (store.Entry, error) {
	return f(ctx, r)
}

// originFetcher replays requests against the configured origin and captures
// the full response.
type originFetcher struct {
	origin string
	client *http.Client
}

func newOriginFetcher(origin string, timeout time.Duration) *originFetcher {
	return &originFetcher{
		origin: strings.TrimRight(origin, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (f *originFetcher) Fetch(ctx context.Context, r *http.Request) (store.Entry, error) {
	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0 {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, f.origin+r.URL.RequestURI(), body)
	if err != nil {
		return store.Entry{}, err
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		return store.Entry{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return store.Entry{}, err
	}

	ent := store.Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     b,
		StoredAt: time.Now().UnixMilli(),
	}
	ent.Header.Del("Content-Length")
	removeHopHeaders(ent.Header)
	return ent, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	removeHopHeaders(dst)
}

// hopHeaders apply to a single connection and are never forwarded or stored.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

// partialHeaders would turn a full response into a fragment or a 304.
var partialHeaders = []string{
	"Range",
	"If-Range",
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
}

// storeRequest copies r for a fetch whose response may be cached, without
// the headers that make the origin answer with less than the full resource.
func storeRequest(ctx context.Context, r *http.Request) *http.Request {
	out := r.Clone(ctx)
	for _, k := range partialHeaders {
		out.Header.Del(k)
	}
	return out
}
