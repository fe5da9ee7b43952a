package vetcache

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"vetcache/internal/store"
)

// Source tells which path produced a response.
type Source string

const (
	SourceNetwork    Source = "network"
	SourceCache      Source = "cache"
	SourceStale      Source = "stale"
	SourceOffline    Source = "offline"
	SourceBypass     Source = "bypass"
	SourceBadGateway Source = "bad-gateway"
)

// freshnessHeader is stamped on API responses when they are stored.
const freshnessHeader = "sw-cache-date"

// isoMillis matches the timestamp layout browsers produce for Date.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z"

type result struct {
	ent    store.Entry
	source Source
	// after runs once the response has been handed to the caller.
	after func()
}

func (w *Worker) dispatch(ctx context.Context, route Route, r *http.Request) result {
	switch route {
	case RouteAPI:
		return w.networkFirstAPI(ctx, r)
	case RouteNetworkOnly:
		return w.networkOnly(ctx, r)
	case RouteImage:
		return w.cacheFirstImage(ctx, r)
	case RouteStatic:
		return w.staleWhileRevalidate(ctx, r)
	case RouteNetworkFirst:
		return w.networkFirst(ctx, r)
	}
	return w.passThrough(ctx, r)
}

// Respond produces the response for r the way ServeHTTP would, without
// writing it. Background work a strategy schedules is started before Respond
// returns but never awaited.
func (w *Worker) Respond(ctx context.Context, r *http.Request) (store.Entry, Source) {
	res := w.dispatch(ctx, w.route(r), r)
	if res.after != nil {
		res.after()
	}
	return res.ent, res.source
}

func (w *Worker) route(r *http.Request) Route {
	if !w.Governing() {
		return RoutePassThrough
	}
	return w.router.Classify(r)
}

func (w *Worker) fetch(ctx context.Context, r *http.Request) (store.Entry, error) {
	if w.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.fetchTimeout)
		defer cancel()
	}
	return w.fetcher.Fetch(ctx, r)
}

// networkFirstAPI stores a timestamped copy of every ok response and hands
// back the response as received. Offline it falls back to the api cache, then
// to a JSON error.
func (w *Worker) networkFirstAPI(ctx context.Context, r *http.Request) result {
	key := requestKey(r)
	ent, err := w.fetch(ctx, storeRequest(ctx, r))
	if err == nil {
		if storable(ent) {
			stamped := ent.Clone()
			stamped.Header.Set(freshnessHeader, time.Now().UTC().Format(isoMillis))
			w.caches.put(w.caches.names.API, key, stamped)
		}
		return result{ent: ent, source: SourceNetwork}
	}

	w.log.Debug().Err(err).Str("key", key).Msg("API fetch failed, trying cache")
	if cached, ok := w.caches.match(w.caches.names.API, key); ok {
		return result{ent: cached, source: SourceCache}
	}
	return result{ent: offlineJSON(w.offlineMessage), source: SourceOffline}
}

func (w *Worker) networkOnly(ctx context.Context, r *http.Request) result {
	ent, err := w.fetch(ctx, r)
	if err != nil {
		return result{ent: offlineJSON(w.offlineMessage), source: SourceOffline}
	}
	return result{ent: ent, source: SourceNetwork}
}

func (w *Worker) cacheFirstImage(ctx context.Context, r *http.Request) result {
	key := requestKey(r)
	name := w.caches.names.Images
	if cached, ok := w.caches.match(name, key); ok {
		return result{ent: cached, source: SourceCache}
	}

	ent, err := w.fetch(ctx, storeRequest(ctx, r))
	if err == nil {
		if storable(ent) {
			w.caches.put(name, key, ent.Clone())
		}
		return result{ent: ent, source: SourceNetwork}
	}
	if cached, ok := w.caches.match(name, key); ok {
		return result{ent: cached, source: SourceCache}
	}
	return result{ent: notFound(), source: SourceOffline}
}

// staleWhileRevalidate serves a cached copy immediately and refreshes it in
// the background once the caller has the response.
func (w *Worker) staleWhileRevalidate(ctx context.Context, r *http.Request) result {
	key := requestKey(r)
	name := w.caches.names.Static
	if cached, ok := w.caches.match(name, key); ok {
		refresh := storeRequest(context.Background(), r)
		return result{
			ent:    cached,
			source: SourceStale,
			after:  func() { w.revalidateAsync(key, refresh) },
		}
	}

	ent, err := w.fetch(ctx, storeRequest(ctx, r))
	if err == nil {
		if storable(ent) {
			w.caches.put(name, key, ent.Clone())
		}
		return result{ent: ent, source: SourceNetwork}
	}
	if cached, ok := w.caches.match(name, key); ok {
		return result{ent: cached, source: SourceCache}
	}
	return result{ent: notFound(), source: SourceOffline}
}

func (w *Worker) networkFirst(ctx context.Context, r *http.Request) result {
	ent, err := w.fetch(ctx, r)
	if err == nil {
		return result{ent: ent, source: SourceNetwork}
	}
	if cached, ok := w.caches.MatchAny(requestKey(r)); ok {
		return result{ent: cached, source: SourceCache}
	}
	return result{ent: offlineText(), source: SourceOffline}
}

func (w *Worker) passThrough(ctx context.Context, r *http.Request) result {
	ent, err := w.fetch(ctx, r)
	if err != nil {
		w.log.Debug().Err(err).Str("method", r.Method).Str("uri", r.URL.String()).Msg("Pass-through fetch failed")
		return result{ent: badGateway(), source: SourceBadGateway}
	}
	return result{ent: ent, source: SourceBypass}
}

// revalidateAsync refreshes key without blocking the caller. Refreshes past
// the background limit are dropped, and failures only show up in metrics.
func (w *Worker) revalidateAsync(key string, r *http.Request) {
	select {
	case w.bgSem <- struct{}{}:
	default:
		backgroundRefreshes.WithLabelValues("dropped").Inc()
		return
	}

	w.bgWG.Add(1)
	go func() {
		defer w.bgWG.Done()
		defer func() { <-w.bgSem }()
		w.revalidateOnce(key, r)
	}()
}

func (w *Worker) revalidateOnce(key string, r *http.Request) {
	ent, err := w.fetch(context.Background(), r)
	switch {
	case err != nil:
		backgroundRefreshes.WithLabelValues("error").Inc()
	case !storable(ent):
		backgroundRefreshes.WithLabelValues("not-ok").Inc()
	default:
		w.caches.put(w.caches.names.Static, key, ent)
		backgroundRefreshes.WithLabelValues("updated").Inc()
	}
}

// storable reports whether ent is a complete successful response. Partial
// content is served to the caller but never cached.
func storable(ent store.Entry) bool {
	return ent.OK() && ent.Status != http.StatusPartialContent
}

func offlineJSON(message string) store.Entry {
	body, _ := json.Marshal(struct {
		Error   string `json:"error"`
		Offline bool   `json:"offline"`
	}{message, true})
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return store.Entry{Status: http.StatusServiceUnavailable, Header: h, Body: body}
}

func offlineText() store.Entry {
	return plainEntry(http.StatusServiceUnavailable, "Offline")
}

func notFound() store.Entry {
	return plainEntry(http.StatusNotFound, "Not found")
}

func badGateway() store.Entry {
	return plainEntry(http.StatusBadGateway, "bad gateway")
}

func plainEntry(status int, text string) store.Entry {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return store.Entry{Status: status, Header: h, Body: []byte(text)}
}
