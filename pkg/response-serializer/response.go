package serializer

import (
	"bufio"
	"bytes"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Tn-Stored-At"

// StoredResponse is a response as kept in a cache partition.
type StoredResponse struct {
	Response *http.Response
	// The value of the clock at the time the response was written to the partition.
	StoredAt time.Time
}

// Clone returns the HTTP/1.1 wire representation of the response.
// The response body is consumed and replaced with an identical one,
// so the response can still be returned to the caller afterwards.
func Clone(res *http.Response) ([]byte, error) {
	return responseToBytes(res)
}

// StoredResponseToBytes encodes a cloned response together with the time it was stored.
func StoredResponseToBytes(wire []byte, storedAt time.Time) ([]byte, error) {
	res, err := bytesToResponse(wire, nil)
	if err != nil {
		return nil, err
	}
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(storedAt.UnixMilli(), 10))
	return responseToBytes(res)
}

// BytesToStoredResponse decodes bytes written by StoredResponseToBytes.
// The request is attached to the returned response.
func BytesToStoredResponse(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := bytesToResponse(b, req)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	if ms, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.UnixMilli(ms)
	}
	// delete extra headers
	res.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// bytesToResponse converts a byte slice to a http.Response.
func bytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	res.ContentLength = clonedRes.ContentLength
	res.TransferEncoding = clonedRes.TransferEncoding
	// return buffer bytes
	return bts, nil
}
