package travelnotes

import (
	"net/http"
	"path"
	"strings"
)

// Strategy is how the controller answers one request.
type Strategy int

const (
	// StrategyDefault is network first; only 200 responses are stored in the dynamic partition.
	StrategyDefault Strategy = iota
	// StrategyStaticAsset is cache first; network responses are stored in the static partition.
	StrategyStaticAsset
	// StrategyAPICall is network first; every network response is stored in the dynamic partition.
	StrategyAPICall
)

func (s Strategy) String() string {
	switch s {
	case StrategyStaticAsset:
		return "static-asset"
	case StrategyAPICall:
		return "api-call"
	default:
		return "default"
	}
}

// DefaultBackendMarker identifies requests to the hosted backend provider.
const DefaultBackendMarker = "supabase.co"

var staticAssetMarkers = []string{".js", ".css", ".png", ".jpg", ".jpeg", ".svg", ".ico", "/icons/"}

// Classifier decides the strategy for a URL.
type Classifier struct {
	BackendMarker string
}

// Classify returns the strategy for the URL.
// Static asset markers are checked before API markers.
func (c Classifier) Classify(rawURL string) Strategy {
	if isStaticAsset(rawURL) {
		return StrategyStaticAsset
	}
	if c.isAPICall(rawURL) {
		return StrategyAPICall
	}
	return StrategyDefault
}

func isStaticAsset(rawURL string) bool {
	for _, marker := range staticAssetMarkers {
		if strings.Contains(rawURL, marker) {
			return true
		}
	}
	return strings.HasSuffix(rawURL, "/manifest.json")
}

func (c Classifier) isAPICall(rawURL string) bool {
	if strings.Contains(rawURL, "/api/") || strings.Contains(rawURL, "/auth/") {
		return true
	}
	return c.BackendMarker != "" && strings.Contains(rawURL, c.BackendMarker)
}

// Destination is what the requested resource is used for, as in the Fetch standard.
type Destination string

const (
	DestinationNone     Destination = ""
	DestinationDocument Destination = "document"
	DestinationScript   Destination = "script"
	DestinationStyle    Destination = "style"
	DestinationImage    Destination = "image"
	DestinationManifest Destination = "manifest"
)

var extensionDestinations = map[string]Destination{
	".js":   DestinationScript,
	".mjs":  DestinationScript,
	".css":  DestinationStyle,
	".png":  DestinationImage,
	".jpg":  DestinationImage,
	".jpeg": DestinationImage,
	".svg":  DestinationImage,
	".ico":  DestinationImage,
}

// RequestDestination reads the destination from the Sec-Fetch-Dest header.
// Without it, top level navigations and GET requests preferring HTML are documents,
// and everything else is guessed from the path.
func RequestDestination(r *http.Request) Destination {
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return Destination(strings.ToLower(dest))
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return DestinationDocument
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return DestinationDocument
	}
	if strings.HasSuffix(r.URL.Path, "/manifest.json") {
		return DestinationManifest
	}
	if dest, ok := extensionDestinations[strings.ToLower(path.Ext(r.URL.Path))]; ok {
		return dest
	}
	return DestinationNone
}
