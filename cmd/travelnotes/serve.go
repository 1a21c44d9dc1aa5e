package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/always-cache/travelnotes"
	"github.com/always-cache/travelnotes/config"
	cachekey "github.com/always-cache/travelnotes/pkg/cache-key"
	"github.com/always-cache/travelnotes/pwa"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

func serve(ctx context.Context, cfg config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()

	events, unsubscribe := a.lifecycle.Subscribe()
	defer unsubscribe()
	go logEvents(events)

	// installs the configured version, or stages it as an update
	if _, err := a.lifecycle.CheckForUpdate(ctx); err != nil {
		log.Error().Err(err).Msg("Could not install application shell, passing requests through")
	}

	runtime, err := pwa.NewRuntime(pwa.Config{
		Storage:        a.local,
		Updates:        a.lifecycle,
		AppURL:         a.origin.String(),
		ProbeTransport: http.DefaultTransport,
		ProbeURL:       a.origin.String(),
		OnReconnect: func() {
			go a.lifecycle.Sync(ctx, travelnotes.SyncTag)
		},
		Logger: &log.Logger,
	})
	if err != nil {
		return err
	}
	go runtime.RunProbe(ctx, cfg.ProbeInterval)
	if cfg.UpdateInterval > 0 {
		go checkForUpdates(ctx, runtime, cfg.UpdateInterval)
	}

	r := chi.NewRouter()
	r.Route("/_sw", func(r chi.Router) {
		r.Use(middleware.NoCache)
		adminRoutes(r, a, runtime)
	})
	r.Handle("/*", a.lifecycle)

	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("Proxying port %d to %s", cfg.Port, a.origin)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func logEvents(events <-chan travelnotes.Event) {
	for ev := range events {
		e := log.Info()
		if ev.Err != nil {
			e = log.Error().Err(ev.Err)
		}
		e.Str("state", string(ev.State)).Str("version", ev.Version).Msg("Lifecycle event")
	}
}

func checkForUpdates(ctx context.Context, runtime *pwa.Runtime, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runtime.CheckForUpdates(ctx)
		}
	}
}

type statusResponse struct {
	Lifecycle travelnotes.Status `json:"lifecycle"`
	Signals   pwa.Signals        `json:"signals"`
	Queued    int                `json:"queued"`
}

type cachedRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

func adminRoutes(r chi.Router, a *app, runtime *pwa.Runtime) {
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		queued, err := a.queue.Len(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, statusResponse{
			Lifecycle: a.lifecycle.Status(),
			Signals:   runtime.Signals(),
			Queued:    queued,
		})
	})
	r.Post("/update", func(w http.ResponseWriter, r *http.Request) {
		updated, err := a.lifecycle.CheckForUpdate(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"updated": updated})
	})
	r.Post("/skip-waiting", func(w http.ResponseWriter, r *http.Request) {
		if err := a.lifecycle.SkipWaiting(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, a.lifecycle.Status())
	})
	r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
		tag := r.URL.Query().Get("tag")
		if tag == "" {
			tag = travelnotes.SyncTag
		}
		if err := a.lifecycle.Sync(r.Context(), tag); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/push", func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, 4<<10))
		if err != nil {
			writeError(w, err)
			return
		}
		if err := a.lifecycle.Push(r.Context(), payload); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/notification-click", func(w http.ResponseWriter, r *http.Request) {
		if err := a.lifecycle.NotificationClick(r.Context(), r.URL.Query().Get("action")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/installed", func(w http.ResponseWriter, r *http.Request) {
		if err := runtime.MarkInstalled(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, runtime.Signals())
	})
	r.Delete("/installed", func(w http.ResponseWriter, r *http.Request) {
		if err := runtime.MarkUninstalled(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, runtime.Signals())
	})
	r.Get("/cache", func(w http.ResponseWriter, r *http.Request) {
		keyer := cachekey.NewCacheKeyer(a.origin)
		partitions, err := a.storage.Partitions()
		if err != nil {
			writeError(w, err)
			return
		}
		listing := make(map[string][]cachedRequest, len(partitions))
		for _, partition := range partitions {
			entries := []cachedRequest{}
			err := a.storage.Keys(partition, func(key string) {
				req, err := keyer.GetRequestFromKey(key)
				if err != nil {
					log.Warn().Err(err).Str("partition", partition).Msg("Skipping malformed key")
					return
				}
				entries = append(entries, cachedRequest{Method: req.Method, URL: req.URL.String()})
			})
			if err != nil {
				writeError(w, err)
				return
			}
			listing[partition] = entries
		}
		writeJSON(w, listing)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, travelnotes.ErrNoWaiting):
		status = http.StatusConflict
	case errors.Is(err, travelnotes.ErrInstallFailed):
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
