package tee

import (
	"bufio"
	"bytes"
	"net/http"
)

// HandlerTransport is an http.RoundTripper that answers requests by running them
// through an http.Handler in process. It lets a handler act as the network.
type HandlerTransport struct {
	Handler http.Handler
}

func (t HandlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rs := NewResponseSaver(nil)
	t.Handler.ServeHTTP(rs, req)
	rs.Finish()
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(rs.Response())), req)
}
