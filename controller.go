package travelnotes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/always-cache/travelnotes/cache"
	cachekey "github.com/always-cache/travelnotes/pkg/cache-key"
	cachestatus "github.com/always-cache/travelnotes/pkg/cache-status"
	serializer "github.com/always-cache/travelnotes/pkg/response-serializer"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPartitionPrefix = "travel-notes"
	DefaultShellURL        = "/index.html"

	cacheName = "TravelNotes"
)

// DefaultStaticManifest lists the application shell fetched at install time.
var DefaultStaticManifest = []string{
	"/",
	"/index.html",
	"/src/main.tsx",
	"/src/App.tsx",
	"/src/index.css",
	"/src/App.css",
	"/manifest.json",
	"/favicon.ico",
}

type Config struct {
	// Build version. Both partition names are tagged with it.
	Version string
	// Storage for cache partitions.
	Storage cache.Storage
	// Network used for everything not answered from the cache.
	// http.DefaultTransport is used if nil.
	Network http.RoundTripper
	// Origin of the application.
	// Relative URLs (incoming proxy requests, manifest entries) are resolved against it.
	Origin url.URL
	// Partition names are <prefix>-static-<version> and <prefix>-dynamic-<version>.
	PartitionPrefix string
	// URLs that must all be stored in the static partition at install time.
	StaticManifest []string
	// Document served to offline navigations that have no cached response.
	ShellURL string
	// Substring identifying requests to the backend provider.
	BackendMarker string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Controller answers requests from the network or from its two cache partitions,
// depending on the strategy of each request.
type Controller struct {
	version     string
	storage     cache.Storage
	network     http.RoundTripper
	origin      url.URL
	keyer       cachekey.CacheKeyer
	classifier  Classifier
	manifest    []string
	shellURL    string
	staticName  string
	dynamicName string
	log         zerolog.Logger
	// pending cache writes
	writes writeTracker
}

// writeTracker counts pending cache writes. Once closed it refuses new ones,
// so waiting for it is safe while requests are still being answered.
type writeTracker struct {
	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool
}

func (t *writeTracker) start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.pending++
	return true
}

func (t *writeTracker) done() {
	t.mu.Lock()
	t.pending--
	if t.pending == 0 {
		t.idle.Broadcast()
	}
	t.mu.Unlock()
}

func (t *writeTracker) wait() {
	t.mu.Lock()
	for t.pending > 0 {
		t.idle.Wait()
	}
	t.mu.Unlock()
}

func (t *writeTracker) setClosed(closed bool) {
	t.mu.Lock()
	t.closed = closed
	t.mu.Unlock()
}

// NewController creates a controller for one version.
// The controller does not serve anything by itself until a Lifecycle installs and activates it.
func NewController(config Config) (*Controller, error) {
	if config.Version == "" {
		return nil, errors.New("controller version is required")
	}
	if config.Storage == nil {
		return nil, errors.New("controller storage is required")
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	c := &Controller{
		version:  config.Version,
		storage:  config.Storage,
		network:  config.Network,
		origin:   config.Origin,
		manifest: config.StaticManifest,
		shellURL: config.ShellURL,
	}
	c.writes.idle = sync.NewCond(&c.writes.mu)
	if c.network == nil {
		c.network = http.DefaultTransport
	}
	if c.origin.Scheme == "" {
		c.origin = url.URL{Scheme: "http", Host: "localhost"}
	}
	if c.manifest == nil {
		c.manifest = DefaultStaticManifest
	}
	if c.shellURL == "" {
		c.shellURL = DefaultShellURL
	}
	c.classifier = Classifier{BackendMarker: config.BackendMarker}
	if c.classifier.BackendMarker == "" {
		c.classifier.BackendMarker = DefaultBackendMarker
	}
	prefix := config.PartitionPrefix
	if prefix == "" {
		prefix = DefaultPartitionPrefix
	}
	c.staticName = fmt.Sprintf("%s-static-%s", prefix, c.version)
	c.dynamicName = fmt.Sprintf("%s-dynamic-%s", prefix, c.version)
	c.keyer = cachekey.NewCacheKeyer(&c.origin)

	// create a child logger and add defaults
	c.log = logger.With().
		Str("version", c.version).
		Logger()

	return c, nil
}

func (c *Controller) Version() string {
	return c.version
}

// StaticPartition returns the name of the partition holding the application shell.
func (c *Controller) StaticPartition() string {
	return c.staticName
}

// DynamicPartition returns the name of the partition holding runtime responses.
func (c *Controller) DynamicPartition() string {
	return c.dynamicName
}

// Handle answers one intercepted request.
// An error is returned exactly when the network failed and no fallback exists.
func (c *Controller) Handle(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return c.network.RoundTrip(req)
	}
	strategy := c.classifier.Classify(req.URL.String())
	dest := RequestDestination(req)
	log := c.log.With().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("strategy", strategy.String()).
		Str("destination", string(dest)).
		Logger()

	switch strategy {
	case StrategyStaticAsset:
		return c.cacheFirst(req, dest, log)
	case StrategyAPICall:
		return c.networkFirst(req, log, func(*http.Response) bool { return true })
	default:
		return c.networkFirst(req, log, func(res *http.Response) bool {
			return res.StatusCode == http.StatusOK
		})
	}
}

// RoundTrip implements http.RoundTripper, so the controller can intercept an http.Client.
func (c *Controller) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.Handle(req)
}

// ServeHTTP implements http.Handler, proxying incoming requests to the origin.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveVia(w, r, c.origin, c, c.log)
}

func (c *Controller) cacheFirst(req *http.Request, dest Destination, log zerolog.Logger) (*http.Response, error) {
	if res, ok := c.match(req, log); ok {
		log.Trace().Msg("Serving from cache")
		return res, nil
	}
	res, err := c.network.RoundTrip(req)
	if err == nil {
		cs := cachestatus.New(cacheName)
		cs.Forward(cachestatus.FwdUriMiss)
		if err = c.storeAsync(c.staticName, req, res, cs, log); err == nil {
			res.Header.Set(cachestatus.HeaderName, cs.String())
			return res, nil
		}
		res.Body.Close()
	}
	log.Debug().Err(err).Msg("Network failed and nothing cached")
	if dest == DestinationDocument {
		if shell, ok := c.matchShell(req, log); ok {
			return shell, nil
		}
	}
	return nil, err
}

func (c *Controller) networkFirst(req *http.Request, log zerolog.Logger, shouldStore func(*http.Response) bool) (*http.Response, error) {
	res, err := c.network.RoundTrip(req)
	if err == nil {
		cs := cachestatus.New(cacheName)
		cs.Forward(cachestatus.FwdRequest)
		if shouldStore(res) {
			err = c.storeAsync(c.dynamicName, req, res, cs, log)
		}
		if err == nil {
			res.Header.Set(cachestatus.HeaderName, cs.String())
			return res, nil
		}
		res.Body.Close()
	}
	log.Debug().Err(err).Msg("Network failed, trying cache")
	if cached, ok := c.match(req, log); ok {
		return cached, nil
	}
	return nil, err
}

// storeAsync clones the response and writes the clone to the partition in a goroutine.
// Write failures are logged only. An error means the body could not be read from the network.
func (c *Controller) storeAsync(partition string, req *http.Request, res *http.Response, cs *cachestatus.CacheStatus, log zerolog.Logger) error {
	if req.Method != http.MethodGet {
		return nil
	}
	wire, err := serializer.Clone(res)
	if err != nil {
		return err
	}
	if !c.writes.start() {
		log.Debug().Msg("Controller is draining, response not stored")
		return nil
	}
	cs.Stored()
	key := c.keyer.GetKey(req)
	go func() {
		defer c.writes.done()
		storedAt := time.Now()
		bts, err := serializer.StoredResponseToBytes(wire, storedAt)
		if err == nil {
			err = c.storage.Put(partition, cache.Entry{Key: key, StoredAt: storedAt, Bytes: bts})
		}
		if err != nil {
			log.Error().Err(err).Str("partition", partition).Msg("Could not write response to cache")
			return
		}
		log.Trace().Str("partition", partition).Str("key", key).Msg("Wrote response to cache")
	}()
	return nil
}

// match looks the request up in every partition.
func (c *Controller) match(req *http.Request, log zerolog.Logger) (*http.Response, bool) {
	if req.Method != http.MethodGet {
		return nil, false
	}
	return c.matchKey(c.keyer.GetKey(req), req, "", log)
}

// matchShell returns the cached shell document for an offline navigation.
func (c *Controller) matchShell(req *http.Request, log zerolog.Logger) (*http.Response, bool) {
	key, err := c.keyer.KeyForURL(c.shellURL)
	if err != nil {
		log.Error().Err(err).Str("shell", c.shellURL).Msg("Invalid shell URL")
		return nil, false
	}
	return c.matchKey(key, req, "offline-shell", log)
}

func (c *Controller) matchKey(key string, req *http.Request, detail string, log zerolog.Logger) (*http.Response, bool) {
	entry, ok, err := c.storage.Match(key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	sRes, err := serializer.BytesToStoredResponse(entry.Bytes, req)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not decode cached response")
		return nil, false
	}
	cs := cachestatus.New(cacheName)
	cs.Hit()
	cs.Detail(detail)
	sRes.Response.Header.Set(cachestatus.HeaderName, cs.String())
	return sRes.Response, true
}

// install stores every manifest URL in the static partition.
// Nothing is written unless every URL was fetched successfully.
func (c *Controller) install(ctx context.Context) error {
	entries := make([]cache.Entry, len(c.manifest))
	g, gctx := errgroup.WithContext(ctx)
	for i, rawURL := range c.manifest {
		g.Go(func() error {
			entry, err := c.fetchManifestEntry(gctx, rawURL)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", rawURL, err)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := c.storage.PutAll(c.staticName, entries); err != nil {
		return fmt.Errorf("write static partition: %w", err)
	}
	if err := c.storage.Open(c.dynamicName); err != nil {
		return fmt.Errorf("open dynamic partition: %w", err)
	}
	c.log.Info().Int("assets", len(entries)).Str("partition", c.staticName).Msg("Stored static assets")
	return nil
}

func (c *Controller) fetchManifestEntry(ctx context.Context, rawURL string) (cache.Entry, error) {
	u, err := c.keyer.ResolveString(rawURL)
	if err != nil {
		return cache.Entry{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return cache.Entry{}, err
	}
	res, err := c.network.RoundTrip(req)
	if err != nil {
		return cache.Entry{}, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return cache.Entry{}, fmt.Errorf("status %d", res.StatusCode)
	}
	wire, err := serializer.Clone(res)
	if err != nil {
		return cache.Entry{}, err
	}
	storedAt := time.Now()
	bts, err := serializer.StoredResponseToBytes(wire, storedAt)
	if err != nil {
		return cache.Entry{}, err
	}
	return cache.Entry{Key: c.keyer.GetKey(req), StoredAt: storedAt, Bytes: bts}, nil
}

// prune deletes every partition that does not belong to this version.
func (c *Controller) prune(ctx context.Context) error {
	names, err := c.storage.Partitions()
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	for _, name := range names {
		if name == c.staticName || name == c.dynamicName {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.storage.Delete(name); err != nil {
			return fmt.Errorf("delete partition %s: %w", name, err)
		}
		c.log.Info().Str("partition", name).Msg("Deleted stale partition")
	}
	return nil
}

// Wait blocks until all pending cache writes are done.
// Requests answered meanwhile may start new writes.
func (c *Controller) Wait() {
	c.writes.wait()
}

// drain stops new cache writes and waits for the pending ones.
func (c *Controller) drain() {
	c.writes.setClosed(true)
	c.writes.wait()
}

// Shutdown stops new cache writes and waits for the pending ones, or until the context is done.
// Requests are still answered after Shutdown, but nothing more is stored.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.writes.setClosed(true)
	done := make(chan struct{})
	go func() {
		c.writes.wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
