// Package pwa tracks the signals an installable offline application shows its user:
// connectivity, installability, installation and standalone display.
package pwa

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultShareTitle = "Travel Notes"
	DefaultShareText  = "Organize your trips with Travel Notes!"
)

// ErrShareUnsupported is returned by a Sharer that cannot share on this platform.
var ErrShareUnsupported = errors.New("sharing not supported")

type Signals struct {
	Online      bool `json:"online"`
	Installable bool `json:"installable"`
	Installed   bool `json:"installed"`
	Standalone  bool `json:"standalone"`
}

type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDismissed Outcome = "dismissed"
)

// InstallPrompt is a deferred platform install prompt. It can be shown once.
type InstallPrompt interface {
	Prompt(ctx context.Context) (Outcome, error)
}

type ShareData struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

type Sharer interface {
	Share(ctx context.Context, data ShareData) error
}

type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// UpdateChecker looks for a new application version.
type UpdateChecker interface {
	CheckForUpdate(ctx context.Context) (bool, error)
}

type Config struct {
	Storage LocalStorage
	Updates UpdateChecker
	// Nil means the platform cannot share.
	Sharer    Sharer
	Clipboard Clipboard
	// URL shared when none is given.
	AppURL string
	// Network and URL used by the connectivity probe.
	ProbeTransport http.RoundTripper
	ProbeURL       string
	// Display environment, see IsStandalone.
	DisplayMode         string
	NavigatorStandalone bool
	Referrer            string
	// Called when connectivity comes back.
	OnReconnect func()
	Logger      *zerolog.Logger
}

type Runtime struct {
	storage        LocalStorage
	updates        UpdateChecker
	sharer         Sharer
	clipboard      Clipboard
	appURL         string
	probeTransport http.RoundTripper
	probeURL       string
	onReconnect    func()
	log            zerolog.Logger

	mu      sync.Mutex
	signals Signals
	prompt  InstallPrompt
}

// NewRuntime starts online. The installed flag is restored from storage.
func NewRuntime(config Config) (*Runtime, error) {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	r := &Runtime{
		storage:        config.Storage,
		updates:        config.Updates,
		sharer:         config.Sharer,
		clipboard:      config.Clipboard,
		appURL:         config.AppURL,
		probeTransport: config.ProbeTransport,
		probeURL:       config.ProbeURL,
		onReconnect:    config.OnReconnect,
		log:            logger.With().Str("component", "pwa").Logger(),
	}
	if r.probeTransport == nil {
		r.probeTransport = http.DefaultTransport
	}
	standalone := IsStandalone(config.DisplayMode, config.NavigatorStandalone, config.Referrer)
	installed := standalone
	if !installed && r.storage != nil {
		value, _, err := r.storage.GetItem(InstalledKey)
		if err != nil {
			return nil, err
		}
		installed = value == "true"
	}
	r.signals = Signals{Online: true, Installed: installed, Standalone: standalone}
	return r, nil
}

// IsStandalone reports whether the application runs outside a browser tab.
func IsStandalone(displayMode string, navigatorStandalone bool, referrer string) bool {
	return displayMode == "standalone" || navigatorStandalone || strings.Contains(referrer, "android-app://")
}

func (r *Runtime) Signals() Signals {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signals
}

func (r *Runtime) SetOnline(online bool) {
	r.mu.Lock()
	changed := r.signals.Online != online
	r.signals.Online = online
	r.mu.Unlock()
	if !changed {
		return
	}
	r.log.Info().Bool("online", online).Msg("Connectivity changed")
	if online && r.onReconnect != nil {
		r.onReconnect()
	}
}

// OfferInstallPrompt keeps the prompt for a later Install and marks the application installable.
func (r *Runtime) OfferInstallPrompt(prompt InstallPrompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompt = prompt
	r.signals.Installable = prompt != nil
}

// Install shows the deferred install prompt and reports whether the user accepted.
// Without a prompt it returns false.
func (r *Runtime) Install(ctx context.Context) (bool, error) {
	r.mu.Lock()
	prompt := r.prompt
	r.prompt = nil
	r.mu.Unlock()
	if prompt == nil {
		r.log.Debug().Msg("No install prompt available")
		return false, nil
	}
	outcome, err := prompt.Prompt(ctx)
	if err != nil {
		return false, err
	}
	if outcome != OutcomeAccepted {
		r.log.Info().Msg("Install dismissed")
		return false, nil
	}
	return true, r.MarkInstalled()
}

// MarkInstalled records that the application was installed.
func (r *Runtime) MarkInstalled() error {
	r.mu.Lock()
	r.signals.Installable = false
	r.signals.Installed = true
	r.prompt = nil
	r.mu.Unlock()
	r.log.Info().Msg("Application installed")
	if r.storage == nil {
		return nil
	}
	return r.storage.SetItem(InstalledKey, "true")
}

// MarkUninstalled records that the installed application was removed.
// The application becomes installable again once the platform offers a new prompt.
func (r *Runtime) MarkUninstalled() error {
	r.mu.Lock()
	r.signals.Installed = false
	r.mu.Unlock()
	r.log.Info().Msg("Application uninstalled")
	if r.storage == nil {
		return nil
	}
	return r.storage.RemoveItem(InstalledKey)
}

// CheckForUpdates asks the update checker for a new version.
func (r *Runtime) CheckForUpdates(ctx context.Context) error {
	if r.updates == nil {
		return nil
	}
	updated, err := r.updates.CheckForUpdate(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("Update check failed")
		return err
	}
	r.log.Info().Bool("update", updated).Msg("Update check done")
	return nil
}

// Share shares data through the platform, or copies the URL to the clipboard
// when the platform cannot share. Empty fields get defaults.
func (r *Runtime) Share(ctx context.Context, data ShareData) error {
	if data.Title == "" {
		data.Title = DefaultShareTitle
	}
	if data.Text == "" {
		data.Text = DefaultShareText
	}
	if data.URL == "" {
		data.URL = r.appURL
	}
	if r.sharer != nil {
		err := r.sharer.Share(ctx, data)
		if !errors.Is(err, ErrShareUnsupported) {
			return err
		}
	}
	if r.clipboard == nil {
		return ErrShareUnsupported
	}
	if err := r.clipboard.WriteText(ctx, data.URL); err != nil {
		return err
	}
	r.log.Debug().Str("url", data.URL).Msg("Copied URL to clipboard")
	return nil
}

// Probe checks connectivity once and updates the online signal.
func (r *Runtime) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.probeURL, nil)
	if err != nil {
		r.log.Error().Err(err).Msg("Invalid probe URL")
		return r.Signals().Online
	}
	res, err := r.probeTransport.RoundTrip(req)
	if ctx.Err() != nil {
		return r.Signals().Online
	}
	online := err == nil
	if err == nil {
		res.Body.Close()
	}
	r.SetOnline(online)
	return online
}

// RunProbe probes connectivity every interval until the context is done.
func (r *Runtime) RunProbe(ctx context.Context, interval time.Duration) {
	if r.probeURL == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Probe(ctx)
		}
	}
}
