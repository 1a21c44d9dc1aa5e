package travelnotes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/always-cache/travelnotes/cache"
	cachestatus "github.com/always-cache/travelnotes/pkg/cache-status"
)

func installedController(t *testing.T) (*Controller, *testNetwork, cache.Storage) {
	t.Helper()
	storage := cache.NewMemStorage()
	network := newTestNetwork(newTestOrigin("v1"))
	c := newTestController(t, "v1", storage, network)
	if err := c.install(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c, network, storage
}

func TestInstallStoresManifest(t *testing.T) {
	c, _, storage := installedController(t)

	for _, path := range DefaultStaticManifest {
		if !hasKey(t, storage, c.StaticPartition(), path) {
			t.Fatalf("%s not in static partition", path)
		}
	}
	names, err := storage.Partitions()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "travel-notes-static-v1" || names[1] != "travel-notes-dynamic-v1" {
		t.Fatalf("Partitions are %v", names)
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	storage := cache.NewMemStorage()
	origin := newTestOrigin("v1")
	origin.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	})
	c := newTestController(t, "v1", storage, newTestNetwork(origin))

	if err := c.install(context.Background()); err == nil {
		t.Fatal("Install succeeded with a missing asset")
	}
	names, _ := storage.Partitions()
	if len(names) != 0 {
		t.Fatalf("Partitions written: %v", names)
	}
}

func TestStaticAssetServedFromCacheOffline(t *testing.T) {
	c, network, _ := installedController(t)
	network.offline.Store(true)
	calls := network.calls.Load()

	res, body, err := get(t, c, "/src/App.css", nil)
	if err != nil {
		t.Fatal(err)
	}
	if body != "asset /src/App.css v1" {
		t.Fatalf("Body is %s", body)
	}
	if cs := res.Header.Get(cachestatus.HeaderName); cs != "TravelNotes; hit" {
		t.Fatalf("Cache-Status is %s", cs)
	}
	if network.calls.Load() != calls {
		t.Fatal("Network was used for a cached static asset")
	}
}

func TestStaticAssetMissIsStored(t *testing.T) {
	c, network, storage := installedController(t)

	res, body, err := get(t, c, "/assets/logo.png", nil)
	if err != nil {
		t.Fatal(err)
	}
	if body != "png" {
		t.Fatalf("Body is %s", body)
	}
	if cs := res.Header.Get(cachestatus.HeaderName); cs != "TravelNotes; fwd=uri-miss; stored" {
		t.Fatalf("Cache-Status is %s", cs)
	}
	c.Wait()
	if !hasKey(t, storage, c.StaticPartition(), "/assets/logo.png") {
		t.Fatal("Response not stored in static partition")
	}

	network.offline.Store(true)
	res, body, err = get(t, c, "/assets/logo.png", nil)
	if err != nil || body != "png" {
		t.Fatalf("Offline body is %s (%v)", body, err)
	}
	if res.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("Content-Type is %s", res.Header.Get("Content-Type"))
	}
}

func TestOfflineNavigationGetsShell(t *testing.T) {
	c, network, _ := installedController(t)
	network.offline.Store(true)

	res, body, err := get(t, c, "/gallery/photo.png", map[string]string{"Sec-Fetch-Dest": "document"})
	if err != nil {
		t.Fatal(err)
	}
	if body != "asset /index.html v1" {
		t.Fatalf("Body is %s", body)
	}
	if cs := res.Header.Get(cachestatus.HeaderName); cs != "TravelNotes; hit; detail=offline-shell" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestOfflineStaticMissFails(t *testing.T) {
	c, network, _ := installedController(t)
	network.offline.Store(true)

	if _, _, err := get(t, c, "/gallery/photo.png", map[string]string{"Sec-Fetch-Dest": "image"}); !errors.Is(err, errOffline) {
		t.Fatalf("Error is %v", err)
	}
}

func TestAPICallStoresEveryStatus(t *testing.T) {
	c, network, storage := installedController(t)

	res, _, err := get(t, c, "/api/broken", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	c.Wait()
	if !hasKey(t, storage, c.DynamicPartition(), "/api/broken") {
		t.Fatal("Error response not stored")
	}

	network.offline.Store(true)
	res, _, err = get(t, c, "/api/broken", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Offline status is %d", res.StatusCode)
	}
}

func TestAPICallPrefersNetwork(t *testing.T) {
	c, network, _ := installedController(t)
	get(t, c, "/api/notes", nil)
	c.Wait()
	calls := network.calls.Load()

	res, _, err := get(t, c, "/api/notes", nil)
	if err != nil {
		t.Fatal(err)
	}
	if network.calls.Load() != calls+1 {
		t.Fatal("Network not tried first")
	}
	if cs := res.Header.Get(cachestatus.HeaderName); cs != "TravelNotes; fwd=request; stored" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestAPICallOfflineWithoutCacheFails(t *testing.T) {
	c, network, _ := installedController(t)
	network.offline.Store(true)

	if _, _, err := get(t, c, "/api/notes", nil); !errors.Is(err, errOffline) {
		t.Fatalf("Error is %v", err)
	}
}

func TestDefaultStoresOnlyOK(t *testing.T) {
	c, network, storage := installedController(t)

	if res, _, err := get(t, c, "/gone", nil); err != nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("Request failed: %v", err)
	}
	if _, _, err := get(t, c, "/about", nil); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if hasKey(t, storage, c.DynamicPartition(), "/gone") {
		t.Fatal("404 response stored")
	}
	if !hasKey(t, storage, c.DynamicPartition(), "/about") {
		t.Fatal("200 response not stored")
	}

	network.offline.Store(true)
	if _, body, err := get(t, c, "/about", nil); err != nil || body != "about" {
		t.Fatalf("Offline body is %s (%v)", body, err)
	}
	if _, _, err := get(t, c, "/gone", nil); !errors.Is(err, errOffline) {
		t.Fatalf("Error is %v", err)
	}
}

func TestNonGETIsNotStored(t *testing.T) {
	c, network, storage := installedController(t)

	req, _ := http.NewRequest(http.MethodPost, "http://localhost/api/notes", strings.NewReader("{}"))
	res, err := c.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	c.Wait()
	var keys []string
	storage.Keys(c.DynamicPartition(), func(key string) { keys = append(keys, key) })
	if len(keys) != 0 {
		t.Fatalf("Keys stored: %v", keys)
	}

	network.offline.Store(true)
	req, _ = http.NewRequest(http.MethodPost, "http://localhost/api/notes", strings.NewReader("{}"))
	if _, err := c.RoundTrip(req); !errors.Is(err, errOffline) {
		t.Fatalf("Error is %v", err)
	}
}

func TestNonHTTPPassesThrough(t *testing.T) {
	c, network, storage := installedController(t)
	calls := network.calls.Load()

	req, _ := http.NewRequest(http.MethodGet, "chrome-extension://abc/script.js", nil)
	c.RoundTrip(req)
	c.Wait()
	if network.calls.Load() != calls+1 {
		t.Fatal("Request not passed to network")
	}
	names, _ := storage.Partitions()
	for _, name := range names {
		var n int
		storage.Keys(name, func(string) { n++ })
		if name == c.DynamicPartition() && n != 0 {
			t.Fatalf("%d keys in %s", n, name)
		}
	}
}

func TestCacheWriteFailureIsSwallowed(t *testing.T) {
	storage := failingPutStorage{cache.NewMemStorage()}
	c := newTestController(t, "v1", storage, newTestNetwork(newTestOrigin("v1")))

	_, body, err := get(t, c, "/api/notes", nil)
	c.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if body != `[{"id":"1"}]` {
		t.Fatalf("Body is %s", body)
	}
}

func TestServeHTTPProxies(t *testing.T) {
	c, network, _ := installedController(t)

	rr := httptest.NewRecorder()
	c.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/src/index.css", nil))
	if body, _ := io.ReadAll(rr.Result().Body); string(body) != "asset /src/index.css v1" {
		t.Fatalf("Body is %s", body)
	}

	network.offline.Store(true)
	rr = httptest.NewRecorder()
	c.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/folders", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Status is %d", rr.Code)
	}
}

func TestNewControllerRequiresVersion(t *testing.T) {
	if _, err := NewController(Config{Storage: cache.NewMemStorage()}); err == nil {
		t.Fatal("Controller created without version")
	}
}

// slowPutStorage holds every write until release is closed.
type slowPutStorage struct {
	cache.Storage
	release chan struct{}
}

func (s slowPutStorage) Put(partition string, entry cache.Entry) error {
	<-s.release
	return s.Storage.Put(partition, entry)
}

func TestShutdownWaitsForPendingWrite(t *testing.T) {
	c, _, storage := installedController(t)
	slow := slowPutStorage{Storage: storage, release: make(chan struct{})}
	c.storage = slow

	if _, _, err := get(t, c, "/api/notes", nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown returned %v with a write pending", err)
	}
	if hasKey(t, storage, c.DynamicPartition(), "/api/notes") {
		t.Fatal("Held write already stored")
	}

	close(slow.release)
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !hasKey(t, storage, c.DynamicPartition(), "/api/notes") {
		t.Fatal("Pending write lost")
	}

	res, body, err := get(t, c, "/about", nil)
	if err != nil {
		t.Fatal(err)
	}
	if body != "about" {
		t.Fatalf("Body after shutdown is %s", body)
	}
	if strings.Contains(res.Header.Get(cachestatus.HeaderName), "stored") {
		t.Fatalf("Cache-Status after shutdown is %q", res.Header.Get(cachestatus.HeaderName))
	}
	c.Wait()
	if hasKey(t, storage, c.DynamicPartition(), "/about") {
		t.Fatal("Response stored after shutdown")
	}
}
