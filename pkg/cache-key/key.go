package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMalformedKey = fmt.Errorf("Malformed key")

const methodSeparator = " "

// CacheKeyer builds partition keys for requests.
// Keys are the request method followed by the absolute request URL,
// so a stored response can be matched regardless of which partition holds it.
type CacheKeyer struct {
	// Base URL used to resolve requests that carry only a path,
	// e.g. incoming proxy requests or install manifest entries.
	Origin *url.URL
}

func NewCacheKeyer(origin *url.URL) CacheKeyer {
	return CacheKeyer{Origin: origin}
}

// Resolve returns the absolute form of u.
// URLs that already have a scheme and host are returned unchanged.
func (c CacheKeyer) Resolve(u *url.URL) *url.URL {
	if (u.IsAbs() && u.Host != "") || c.Origin == nil {
		return u
	}
	return c.Origin.ResolveReference(u)
}

// ResolveString parses and resolves a possibly relative URL string.
func (c CacheKeyer) ResolveString(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return c.Resolve(u), nil
}

// GetKey returns the partition key for the request.
// Fragments are not part of the key.
func (c CacheKeyer) GetKey(r *http.Request) string {
	u := *c.Resolve(r.URL)
	u.Fragment = ""
	u.RawFragment = ""
	return r.Method + methodSeparator + u.String()
}

// KeyForURL returns the GET key for the given URL string.
func (c CacheKeyer) KeyForURL(rawURL string) (string, error) {
	u, err := c.ResolveString(rawURL)
	if err != nil {
		return "", err
	}
	return c.GetKey(&http.Request{Method: http.MethodGet, URL: u}), nil
}

// GetRequestFromKey creates a request equal (cache-wise) to the one that resulted in the key.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, rawURL, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || rawURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrorMalformedKey, key)
	}
	return http.NewRequest(method, rawURL, nil)
}
