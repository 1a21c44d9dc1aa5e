package travelnotes

import (
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
)

// serveVia answers an incoming request through rt, with the request rewritten to target origin.
// A failure with nothing to fall back on is answered with 502.
func serveVia(w http.ResponseWriter, r *http.Request, origin url.URL, rt http.RoundTripper, log zerolog.Logger) {
	out := r.Clone(r.Context())
	out.URL.Scheme = origin.Scheme
	out.URL.Host = origin.Host
	out.Host = origin.Host
	out.RequestURI = ""
	out.Header = make(http.Header, len(r.Header))
	copyHeader(out.Header, r.Header)
	// stored bodies must be readable by every client
	out.Header.Set("Accept-Encoding", "identity")

	res, err := rt.RoundTrip(out)
	if err != nil {
		log.Warn().Err(err).Str("url", out.URL.String()).Msg("Could not answer request")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer res.Body.Close()

	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		log.Error().Err(err).Msg("Could not write response body to client")
		return
	}
	log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// upstream proxies add these, and some servers reject them in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
