package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/always-cache/travelnotes"
	"github.com/always-cache/travelnotes/auth"
	"github.com/always-cache/travelnotes/cache"
	"github.com/always-cache/travelnotes/config"
	"github.com/always-cache/travelnotes/datastore"
	"github.com/always-cache/travelnotes/outbox"
	"github.com/always-cache/travelnotes/persistence/client"
	"github.com/always-cache/travelnotes/pwa"

	"github.com/rs/zerolog/log"
)

// app holds the components shared by the proxy and the notes commands.
type app struct {
	cfg       config.Config
	origin    *url.URL
	storage   cache.Storage
	local     *pwa.LevelDBLocalStorage
	queue     *outbox.Queue
	lifecycle *travelnotes.Lifecycle
	replayer  *outbox.Replayer
	client    *client.Client
}

// staticVersion always reports the configured version.
type staticVersion string

func (v staticVersion) LatestVersion(context.Context) (string, error) {
	return string(v), nil
}

func newStorage(cfg config.StorageConfig) (cache.Storage, error) {
	switch cfg.Provider {
	case config.ProviderMemory:
		return cache.NewMemStorage(), nil
	case config.ProviderLevelDB:
		return cache.NewLevelDBStorage(cfg.Path)
	default:
		return cache.NewSQLiteStorage(cfg.Path)
	}
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	a := &app{cfg: cfg, origin: origin}

	if a.storage, err = newStorage(cfg.Storage); err != nil {
		return nil, fmt.Errorf("open cache storage: %w", err)
	}
	if a.local, err = pwa.OpenLocalStorage(cfg.LocalStoragePath); err != nil {
		a.close(ctx)
		return nil, err
	}
	if a.queue, err = outbox.Open(cfg.OutboxPath); err != nil {
		a.close(ctx)
		return nil, err
	}

	var source travelnotes.UpdateSource = staticVersion(cfg.Version)
	if cfg.VersionFile != "" {
		source = config.VersionFile(cfg.VersionFile)
	}
	// persistence calls go through the lifecycle, so reads are answered from cache while offline
	if a.client, err = client.New(cfg.API.URL, cfg.API.Token, a); err != nil {
		a.close(ctx)
		return nil, err
	}
	a.replayer = outbox.NewReplayer(outbox.ReplayerConfig{
		Queue:   a.queue,
		Service: a.client,
		Logger:  &log.Logger,
	})
	a.lifecycle = travelnotes.NewLifecycle(travelnotes.LifecycleConfig{
		Network:  http.DefaultTransport,
		Origin:   *origin,
		Factory:  a.newController,
		Source:   source,
		Registry: pwa.VersionRegistry{Storage: a.local},
		Sync:     a.replayer.Sync,
		Logger:   &log.Logger,
	})

	if err := a.lifecycle.Init(ctx); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("init lifecycle: %w", err)
	}
	return a, nil
}

func (a *app) newController(version string) (*travelnotes.Controller, error) {
	// API calls are recognized by the host of the notes API unless configured
	marker := a.cfg.BackendMarker
	if marker == "" {
		if u, err := url.Parse(a.cfg.API.URL); err == nil {
			marker = u.Host
		}
	}
	return travelnotes.NewController(travelnotes.Config{
		Version:         version,
		Storage:         a.storage,
		Network:         http.DefaultTransport,
		Origin:          *a.origin,
		PartitionPrefix: a.cfg.PartitionPrefix,
		StaticManifest:  a.cfg.StaticManifest,
		ShellURL:        a.cfg.ShellURL,
		BackendMarker:   marker,
		Logger:          &log.Logger,
	})
}

// RoundTrip sends the notes client's requests through the lifecycle.
func (a *app) RoundTrip(req *http.Request) (*http.Response, error) {
	return a.lifecycle.RoundTrip(req)
}

// userID returns the user the configured token belongs to.
func (a *app) userID() (string, error) {
	if a.cfg.API.Token == "" {
		return "", fmt.Errorf("no api token configured (set %sAPI_TOKEN)", config.EnvPrefix)
	}
	return auth.SubjectUnverified(a.cfg.API.Token)
}

func (a *app) datastore() (*datastore.Store, error) {
	userID, err := a.userID()
	if err != nil {
		return nil, err
	}
	return datastore.New(datastore.Config{
		Service: a.client,
		UserID:  userID,
		Outbox:  a.queue,
		Logger:  &log.Logger,
	}), nil
}

// close waits for pending cache writes and closes all storage.
func (a *app) close(ctx context.Context) {
	if a.lifecycle != nil {
		if err := a.lifecycle.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Pending cache writes not finished")
		}
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.local != nil {
		a.local.Close()
	}
	if a.storage != nil {
		a.storage.Close()
	}
}
