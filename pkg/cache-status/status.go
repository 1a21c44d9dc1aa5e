// Package cachestatus formats the Cache-Status response header (RFC 9211)
// added to every response the cache controller produces.
package cachestatus

import "fmt"

const HeaderName = "Cache-Status"

type Status string

const (
	Hit Status = "hit"
	Fwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache was able to select a response for the request, but the
	// strategy required the network to be tried first.
	FwdRequest FwdReason = "request"
)

type CacheStatus struct {
	// Name of the cache, first member of the header.
	Cache     string
	status    Status
	detail    string
	fwdReason FwdReason
	stored    bool
}

func New(cache string) *CacheStatus {
	return &CacheStatus{Cache: cache}
}

func (cs *CacheStatus) Hit() {
	cs.status = Hit
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.status = Fwd
	cs.fwdReason = reason
}

// Stored marks that the forwarded response was written to the cache.
func (cs *CacheStatus) Stored() {
	cs.stored = true
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) IsHit() bool {
	return cs.status == Hit
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", cs.Cache, cs.status)
	if cs.status == Fwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.stored {
		status = status + "; stored"
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}
