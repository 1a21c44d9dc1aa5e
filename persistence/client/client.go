// Package client implements persistence.Service against the notes REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/always-cache/travelnotes/persistence"
)

// Client calls the REST API as the user the token was issued to.
// The userID arguments of the Service methods are not sent; the server derives the user from the token.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

var _ persistence.Service = (*Client)(nil)

// New creates a client for the API at baseURL.
// Requests go through transport, or http.DefaultTransport if it is nil.
func New(baseURL, token string, transport http.RoundTripper) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api url %q must be absolute", baseURL)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Transport: transport},
	}, nil
}

func (c *Client) ListFolders(ctx context.Context, _ string) ([]persistence.Folder, error) {
	var folders []persistence.Folder
	err := c.do(ctx, http.MethodGet, "/api/folders", nil, &folders)
	return folders, err
}

func (c *Client) ListNotes(ctx context.Context, _ string) ([]persistence.Note, error) {
	var notes []persistence.Note
	err := c.do(ctx, http.MethodGet, "/api/notes", nil, &notes)
	return notes, err
}

func (c *Client) CreateFolder(ctx context.Context, _ string, in persistence.NewFolder) (persistence.Folder, error) {
	var f persistence.Folder
	err := c.do(ctx, http.MethodPost, "/api/folders", in, &f)
	return f, err
}

func (c *Client) UpdateFolder(ctx context.Context, _ string, id string, patch persistence.FolderPatch) (persistence.Folder, error) {
	var f persistence.Folder
	err := c.do(ctx, http.MethodPatch, "/api/folders/"+url.PathEscape(id), patch, &f)
	return f, err
}

func (c *Client) DeleteFolder(ctx context.Context, _ string, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/folders/"+url.PathEscape(id), nil, nil)
}

func (c *Client) CreateNote(ctx context.Context, _ string, in persistence.NewNote) (persistence.Note, error) {
	var n persistence.Note
	err := c.do(ctx, http.MethodPost, "/api/notes", in, &n)
	return n, err
}

func (c *Client) UpdateNote(ctx context.Context, _ string, id string, patch persistence.NotePatch) (persistence.Note, error) {
	var n persistence.Note
	err := c.do(ctx, http.MethodPatch, "/api/notes/"+url.PathEscape(id), patch, &n)
	return n, err
}

func (c *Client) DeleteNote(ctx context.Context, _ string, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notes/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", persistence.ErrUnavailable, method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return statusError(res)
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(res *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = res.Status
	}
	var sentinel error
	switch res.StatusCode {
	case http.StatusBadRequest:
		sentinel = persistence.ErrInvalid
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = persistence.ErrUnauthenticated
	case http.StatusNotFound:
		sentinel = persistence.ErrNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		sentinel = persistence.ErrUnavailable
	default:
		return errors.New(msg)
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}
