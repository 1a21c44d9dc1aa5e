package travelnotes

import (
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/always-cache/travelnotes/cache"
	tee "github.com/always-cache/travelnotes/pkg/response-writer-tee"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

var errOffline = errors.New("network unreachable")

// testNetwork answers requests through a handler until it is switched offline.
type testNetwork struct {
	next    http.RoundTripper
	offline atomic.Bool
	calls   atomic.Int32
}

func (n *testNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.calls.Add(1)
	if n.offline.Load() {
		return nil, errOffline
	}
	return n.next.RoundTrip(req)
}

// newTestOrigin serves the static manifest plus a few runtime routes.
func newTestOrigin(version string) *chi.Mux {
	r := chi.NewRouter()
	for _, path := range DefaultStaticManifest {
		body := "asset " + path + " " + version
		r.Get(path, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
	}
	r.Get("/assets/logo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	})
	r.Get("/gallery/photo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("photo"))
	})
	r.Get("/api/notes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"1"}]`))
	})
	r.Get("/api/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	r.Post("/api/notes", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	r.Get("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("about"))
	})
	r.Get("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	return r
}

func newTestNetwork(handler http.Handler) *testNetwork {
	return &testNetwork{next: tee.HandlerTransport{Handler: handler}}
}

func newTestController(t *testing.T, version string, storage cache.Storage, network http.RoundTripper) *Controller {
	t.Helper()
	logger := zerolog.Nop()
	c, err := NewController(Config{
		Version: version,
		Storage: storage,
		Network: network,
		Logger:  &logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func newTestLifecycle(network http.RoundTripper, config LifecycleConfig) *Lifecycle {
	logger := zerolog.Nop()
	config.Network = network
	config.Logger = &logger
	return NewLifecycle(config)
}

func get(t *testing.T, rt http.RoundTripper, path string, header map[string]string) (*http.Response, string, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://localhost"+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := rt.RoundTrip(req)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return res, string(body), nil
}

func hasKey(t *testing.T, storage cache.Storage, partition, path string) bool {
	t.Helper()
	_, ok, err := storage.Get(partition, "GET http://localhost"+path)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

type failingPutStorage struct {
	cache.Storage
}

func (s failingPutStorage) Put(string, cache.Entry) error {
	return errors.New("disk full")
}
