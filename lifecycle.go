package travelnotes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type State string

const (
	StateInstalling      State = "installing"
	StateInstalled       State = "installed"
	StateUpdating        State = "updating"
	StateUpdateAvailable State = "update-available"
	StateError           State = "error"

	// Activated is only ever reported as an event, never as the current state.
	Activated State = "activated"
)

var (
	ErrInstallFailed   = errors.New("install failed")
	ErrNoWaiting       = errors.New("no waiting version")
	ErrNoUpdateSource  = errors.New("no update source configured")
	ErrLifecycleClosed = errors.New("lifecycle is shut down")
)

type Event struct {
	State   State
	Version string
	Err     error
	At      time.Time
}

// UpdateSource reports the version that should be running.
type UpdateSource interface {
	LatestVersion(ctx context.Context) (string, error)
}

// Registry persists the active version across restarts.
type Registry interface {
	ActiveVersion() (string, error)
	SetActiveVersion(version string) error
}

// ControllerFactory builds the controller for a version.
type ControllerFactory func(version string) (*Controller, error)

type LifecycleConfig struct {
	// Used for requests while no controller is active.
	Network http.RoundTripper
	// Origin incoming proxy requests are rewritten to.
	Origin url.URL
	// Required by CheckForUpdate and Init.
	Factory  ControllerFactory
	Source   UpdateSource
	Registry Registry
	// Routine run for the background-sync tag.
	Sync     SyncFunc
	Notifier Notifier
	Clients  Clients
	Logger   *zerolog.Logger
}

type Status struct {
	State   State  `json:"state"`
	Active  string `json:"active,omitempty"`
	Waiting string `json:"waiting,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Lifecycle decides which controller version answers requests.
// Requests pass through to the network until a first version is installed.
type Lifecycle struct {
	network  http.RoundTripper
	origin   url.URL
	factory  ControllerFactory
	source   UpdateSource
	registry Registry
	sync     SyncFunc
	notifier Notifier
	clients  Clients
	log      zerolog.Logger

	active atomic.Pointer[Controller]
	// serializes install and activation
	registerMu sync.Mutex

	mu      sync.Mutex
	state   State
	lastErr error
	waiting *Controller
	subs    map[chan Event]struct{}
	closed  bool
}

func NewLifecycle(config LifecycleConfig) *Lifecycle {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	l := &Lifecycle{
		network:  config.Network,
		origin:   config.Origin,
		factory:  config.Factory,
		source:   config.Source,
		registry: config.Registry,
		sync:     config.Sync,
		notifier: config.Notifier,
		clients:  config.Clients,
		log:      logger.With().Str("component", "lifecycle").Logger(),
		subs:     make(map[chan Event]struct{}),
	}
	if l.network == nil {
		l.network = http.DefaultTransport
	}
	if l.origin.Scheme == "" {
		l.origin = url.URL{Scheme: "http", Host: "localhost"}
	}
	if l.notifier == nil {
		l.notifier = LogNotifier{Logger: l.log}
	}
	return l
}

// Init restores the version recorded in the registry.
// If its static partition is gone the version is installed again.
func (l *Lifecycle) Init(ctx context.Context) error {
	if l.registry == nil || l.factory == nil {
		return nil
	}
	version, err := l.registry.ActiveVersion()
	if err != nil {
		return fmt.Errorf("read active version: %w", err)
	}
	if version == "" {
		return nil
	}
	ctrl, err := l.factory(version)
	if err != nil {
		return fmt.Errorf("create controller %s: %w", version, err)
	}
	partitions, err := ctrl.storage.Partitions()
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	if !slices.Contains(partitions, ctrl.StaticPartition()) {
		l.log.Warn().Str("version", version).Msg("Static partition missing, installing again")
		return l.Register(ctx, ctrl)
	}
	l.active.Store(ctrl)
	l.setState(StateInstalled, version, nil)
	l.log.Info().Str("version", version).Msg("Restored active version")
	return nil
}

// Register installs a controller.
// The first controller activates immediately, later ones wait for SkipWaiting.
// On failure nothing is written and the active controller keeps serving.
func (l *Lifecycle) Register(ctx context.Context, ctrl *Controller) error {
	l.registerMu.Lock()
	defer l.registerMu.Unlock()
	if l.isClosed() {
		return ErrLifecycleClosed
	}

	update := l.active.Load() != nil
	if update {
		l.setState(StateUpdating, ctrl.version, nil)
	} else {
		l.setState(StateInstalling, ctrl.version, nil)
	}

	if err := ctrl.install(ctx); err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrInstallFailed, ctrl.version, err)
		l.log.Error().Err(err).Msg("Could not install version")
		l.setState(StateError, ctrl.version, err)
		return err
	}

	if update {
		l.mu.Lock()
		l.waiting = ctrl
		l.mu.Unlock()
		l.log.Info().Str("version", ctrl.version).Msg("Update installed, waiting for confirmation")
		l.setState(StateUpdateAvailable, ctrl.version, nil)
		return nil
	}

	if err := l.activate(ctx, ctrl); err != nil {
		l.setState(StateError, ctrl.version, err)
		return err
	}
	l.setState(StateInstalled, ctrl.version, nil)
	return nil
}

// CheckForUpdate asks the update source for the latest version and registers it
// unless it is already active or waiting. It reports whether a version was registered.
func (l *Lifecycle) CheckForUpdate(ctx context.Context) (bool, error) {
	if l.source == nil || l.factory == nil {
		return false, ErrNoUpdateSource
	}
	latest, err := l.source.LatestVersion(ctx)
	if err != nil {
		return false, fmt.Errorf("latest version: %w", err)
	}
	if latest == "" {
		return false, errors.New("update source returned an empty version")
	}
	if active := l.active.Load(); active != nil && active.version == latest {
		return false, nil
	}
	l.mu.Lock()
	waiting := l.waiting
	l.mu.Unlock()
	if waiting != nil && waiting.version == latest {
		return false, nil
	}

	ctrl, err := l.factory(latest)
	if err != nil {
		return false, fmt.Errorf("create controller %s: %w", latest, err)
	}
	if err := l.Register(ctx, ctrl); err != nil {
		return false, err
	}
	return true, nil
}

// SkipWaiting activates the waiting controller.
func (l *Lifecycle) SkipWaiting(ctx context.Context) error {
	l.registerMu.Lock()
	defer l.registerMu.Unlock()

	l.mu.Lock()
	ctrl := l.waiting
	l.mu.Unlock()
	if ctrl == nil {
		return ErrNoWaiting
	}
	if err := l.activate(ctx, ctrl); err != nil {
		l.setState(StateError, ctrl.version, err)
		return err
	}
	l.mu.Lock()
	if l.waiting == ctrl {
		l.waiting = nil
	}
	l.mu.Unlock()
	l.setState(StateInstalled, ctrl.version, nil)
	return nil
}

// activate prunes stale partitions and then claims all further requests.
// The caller holds registerMu.
func (l *Lifecycle) activate(ctx context.Context, ctrl *Controller) error {
	// the old controller keeps answering, but stops writing so nothing recreates a pruned partition
	old := l.active.Load()
	if old != nil {
		old.drain()
	}
	if err := ctrl.prune(ctx); err != nil {
		if old != nil {
			old.writes.setClosed(false)
		}
		return fmt.Errorf("activate %s: %w", ctrl.version, err)
	}
	l.active.Store(ctrl)
	if l.registry != nil {
		if err := l.registry.SetActiveVersion(ctrl.version); err != nil {
			l.log.Error().Err(err).Msg("Could not persist active version")
		}
	}
	l.log.Info().Str("version", ctrl.version).Msg("Activated version")
	l.emit(Event{State: Activated, Version: ctrl.version, At: time.Now()})
	return nil
}

// Active returns the controller answering requests, or nil.
func (l *Lifecycle) Active() *Controller {
	return l.active.Load()
}

// Waiting returns the installed controller awaiting SkipWaiting, or nil.
func (l *Lifecycle) Waiting() *Controller {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Status{State: l.state}
	if active := l.active.Load(); active != nil {
		s.Active = active.version
	}
	if l.waiting != nil {
		s.Waiting = l.waiting.version
	}
	if l.lastErr != nil {
		s.Error = l.lastErr.Error()
	}
	return s
}

// Subscribe returns a channel of lifecycle events and a function to stop receiving them.
// Events are dropped for subscribers that do not keep up.
func (l *Lifecycle) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		close(ch)
		return ch, func() {}
	}
	l.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if _, ok := l.subs[ch]; ok {
				delete(l.subs, ch)
				close(ch)
			}
		})
	}
}

func (l *Lifecycle) setState(state State, version string, err error) {
	l.mu.Lock()
	l.state = state
	l.lastErr = err
	l.mu.Unlock()
	l.emit(Event{State: state, Version: version, Err: err, At: time.Now()})
}

func (l *Lifecycle) emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- ev:
		default:
			l.log.Warn().Str("event", string(ev.State)).Msg("Subscriber not keeping up, dropping event")
		}
	}
}

func (l *Lifecycle) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// RoundTrip implements http.RoundTripper through the active controller.
func (l *Lifecycle) RoundTrip(req *http.Request) (*http.Response, error) {
	if ctrl := l.active.Load(); ctrl != nil {
		return ctrl.Handle(req)
	}
	return l.network.RoundTrip(req)
}

// ServeHTTP implements http.Handler, proxying incoming requests to the origin.
func (l *Lifecycle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveVia(w, r, l.origin, l, l.log)
}

// Shutdown closes all subscriptions and waits for pending cache writes.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	for ch := range l.subs {
		delete(l.subs, ch)
		close(ch)
	}
	waiting := l.waiting
	l.mu.Unlock()

	if ctrl := l.active.Load(); ctrl != nil {
		if err := ctrl.Shutdown(ctx); err != nil {
			return err
		}
	}
	if waiting != nil {
		return waiting.Shutdown(ctx)
	}
	return nil
}
