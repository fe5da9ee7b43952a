package vetcache

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vetcache/internal/store"
)

type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return "unknown"
}

// Worker is one versioned instance of the caching proxy. Until it is
// activated every request goes straight to the origin.
type Worker struct {
	log zerolog.Logger

	storage  store.Storage
	caches   *CacheManager
	fetcher  Fetcher
	router   Router
	notifier Notifier
	opener   ClientOpener

	estimator    Estimator
	estimatorSet bool
	persister    Persister
	persisterSet bool

	fetchTimeout   time.Duration
	offlineMessage string

	mu          sync.Mutex
	state       State
	skipWaiting bool
	governing   atomic.Bool

	bgSem chan struct{}
	bgWG  sync.WaitGroup

	messages chan envelope
	postMu   sync.RWMutex
	closed   bool
	stopCh   chan struct{}
	cancel   context.CancelFunc
	loopWG   sync.WaitGroup

	closeOnce sync.Once

	stats *statsCollector
}

type Option func(*Worker)

func WithStorage(st store.Storage) Option {
	return func(w *Worker) { w.storage = st }
}

func WithFetcher(f Fetcher) Option {
	return func(w *Worker) { w.fetcher = f }
}

func WithNotifier(n Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

func WithClientOpener(o ClientOpener) Option {
	return func(w *Worker) { w.opener = o }
}

// WithEstimator replaces the storage-backed estimator. A nil estimator
// disables quota checks.
func WithEstimator(e Estimator) Option {
	return func(w *Worker) { w.estimatorSet, w.estimator = true, e }
}

// WithPersister replaces the storage-backed persister. A nil persister makes
// persistence requests report false.
func WithPersister(p Persister) Option {
	return func(w *Worker) { w.persisterSet, w.persister = true, p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// NewWorker builds a worker in the parsed state. Storage is opened from cfg
// unless WithStorage is given; the worker owns and closes it either way.
func NewWorker(cfg Config, opts ...Option) (*Worker, error) {
	w := &Worker{
		log:            log.Logger,
		router:         NewRouter(cfg.Cache),
		fetchTimeout:   cfg.Server.fetchTimeoutDur,
		offlineMessage: cfg.Cache.OfflineMessage,
		bgSem:          make(chan struct{}, cfg.Cache.BackgroundLimit),
		messages:       make(chan envelope, 64),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With().Str("version", cfg.Cache.Version).Logger()

	if w.storage == nil {
		st, err := store.Open(cfg.Storage.Driver, cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		w.storage = st
	}
	if w.fetcher == nil {
		if cfg.Server.Origin == "" {
			return nil, ErrNoOrigin
		}
		w.fetcher = newOriginFetcher(cfg.Server.Origin, cfg.Server.fetchTimeoutDur)
	}
	if w.notifier == nil {
		w.notifier = logNotifier{log: w.log.With().Str("component", "notifications").Logger()}
	}
	if w.opener == nil {
		w.opener = logOpener{log: w.log.With().Str("component", "clients").Logger()}
	}
	if !w.estimatorSet && cfg.Storage.quotaBytes > 0 {
		w.estimator = storageEstimator{storage: w.storage, quota: cfg.Storage.quotaBytes}
	}
	if !w.persisterSet {
		w.persister = storagePersister{storage: w.storage}
	}
	w.caches = NewCacheManager(w.storage, cfg.Cache, w.estimator, w.persister, w.log)

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.loopWG.Add(1)
	go func() {
		defer w.loopWG.Done()
		w.messageLoop(ctx)
	}()

	if cfg.Logging.statsEveryDur > 0 {
		w.stats = newStatsCollector()
		w.loopWG.Add(1)
		go func() {
			defer w.loopWG.Done()
			w.statsLoop(cfg.Logging.statsEveryDur)
		}()
	}
	return w, nil
}

func (w *Worker) Caches() *CacheManager { return w.caches }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Governing reports whether the worker has claimed its clients and routes
// requests through the caching strategies.
func (w *Worker) Governing() bool { return w.governing.Load() }

// Start installs the worker and, since install asks to skip waiting,
// activates it straight away.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	skip := w.skipWaiting
	w.mu.Unlock()
	if !skip {
		return nil
	}
	return w.Activate(ctx)
}

// Install opens the caches and precaches the manifest. A failed install
// leaves the worker redundant. Installing an already installed worker is a
// no-op.
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case StateInstalled, StateActivating, StateActivated:
		w.mu.Unlock()
		return nil
	case StateInstalling:
		w.mu.Unlock()
		return fmt.Errorf("%w: install already in progress", ErrInstallFailed)
	case StateRedundant:
		w.mu.Unlock()
		return fmt.Errorf("%w: worker is redundant", ErrInstallFailed)
	}
	w.state = StateInstalling
	w.mu.Unlock()

	w.log.Info().Msg("Installing")
	if err := w.caches.Install(ctx, FetcherFunc(w.fetch)); err != nil {
		w.setState(StateRedundant)
		w.log.Error().Err(err).Msg("Install failed")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	w.setState(StateInstalled)
	w.log.Info().Msg("Installed")

	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()
	return nil
}

// Activate removes caches from other versions and claims clients.
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case StateActivating, StateActivated:
		w.mu.Unlock()
		return nil
	case StateInstalled:
	default:
		st := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotWaiting, st)
	}
	w.state = StateActivating
	w.mu.Unlock()

	if err := w.caches.Activate(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Stale cache cleanup incomplete")
	}
	w.setState(StateActivated)
	w.claim()
	return nil
}

// SkipWaiting activates an installed worker now. On a worker that has not
// installed yet it only records the request.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	w.mu.Lock()
	w.skipWaiting = true
	st := w.state
	w.mu.Unlock()
	if st != StateInstalled {
		return nil
	}
	return w.Activate(ctx)
}

func (w *Worker) claim() {
	w.governing.Store(true)
	w.log.Info().Msg("Activated, governing requests")
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	route := w.route(r)
	res := w.dispatch(r.Context(), route, r)
	writeEntry(rw, res.ent, res.source)

	responsesServed.WithLabelValues(route.String(), string(res.source)).Inc()
	if w.stats != nil {
		w.stats.Observe(res.source, len(res.ent.Body))
	}
	if res.after != nil {
		res.after()
	}
}

func writeEntry(rw http.ResponseWriter, ent store.Entry, source Source) {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, "X-Vetcache") {
			continue
		}
		for _, v := range vs {
			rw.Header().Add(k, v)
		}
	}
	setSourceHeaders(rw.Header(), source)
	rw.WriteHeader(ent.Status)
	_, _ = rw.Write(ent.Body)
}

func setSourceHeaders(h http.Header, source Source) {
	if source != "" {
		h.Set("X-Vetcache", string(source))
	}
	ensureExposedHeader(h, "X-Vetcache")
}

// ensureExposedHeader lets browser code read name on cross-origin responses.
func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}
	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

// WaitBackground blocks until every running background refresh finished.
func (w *Worker) WaitBackground() {
	w.bgWG.Wait()
}

// Close stops the message and stats loops, waits for background refreshes
// and closes the storage.
func (w *Worker) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.postMu.Lock()
		w.closed = true
		w.postMu.Unlock()

		close(w.stopCh)
		w.cancel()
		w.loopWG.Wait()
		w.drainMessages()
		w.bgWG.Wait()
		err = w.storage.Close()
	})
	return err
}
