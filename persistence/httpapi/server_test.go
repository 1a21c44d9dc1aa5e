package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/always-cache/travelnotes/auth"
	"github.com/always-cache/travelnotes/persistence"
	"github.com/always-cache/travelnotes/persistence/client"
	"github.com/always-cache/travelnotes/persistence/sqlite"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*httptest.Server, *auth.Issuer) {
	t.Helper()
	store, err := sqlite.Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	issuer, err := auth.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewHandler(store, issuer, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv, issuer
}

func newTestClient(t *testing.T, srv *httptest.Server, issuer *auth.Issuer, user string) *client.Client {
	t.Helper()
	token, err := issuer.Issue(user)
	if err != nil {
		t.Fatal(err)
	}
	c, err := client.New(srv.URL, token, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClientServerRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, issuer := newTestServer(t)
	c := newTestClient(t, srv, issuer, "alice")

	f, err := c.CreateFolder(ctx, "", persistence.NewFolder{Name: "Morocco"})
	if err != nil {
		t.Fatal(err)
	}
	n, err := c.CreateNote(ctx, "", persistence.NewNote{Title: "Marrakesh", FolderID: f.ID})
	if err != nil {
		t.Fatal(err)
	}
	if n.UserID != "alice" || n.FolderID != f.ID {
		t.Fatalf("Note is %+v", n)
	}
	n, err = c.UpdateNote(ctx, "", n.ID, persistence.NotePatch{Content: persistence.StringPtr("<h1>Souk</h1>")})
	if err != nil {
		t.Fatal(err)
	}
	if n.Content != "<h1>Souk</h1>" {
		t.Fatalf("Content is %s", n.Content)
	}
	notes, err := c.ListNotes(ctx, "")
	if err != nil || len(notes) != 1 {
		t.Fatalf("Notes: %v (%v)", notes, err)
	}
	if err := c.DeleteFolder(ctx, "", f.ID); err != nil {
		t.Fatal(err)
	}
	notes, _ = c.ListNotes(ctx, "")
	if len(notes) != 0 {
		t.Fatalf("Notes left: %v", notes)
	}
}

func TestClientMapsErrors(t *testing.T) {
	ctx := context.Background()
	srv, issuer := newTestServer(t)
	c := newTestClient(t, srv, issuer, "alice")

	if _, err := c.CreateFolder(ctx, "", persistence.NewFolder{Name: " "}); !errors.Is(err, persistence.ErrInvalid) {
		t.Fatalf("Invalid error is %v", err)
	}
	if err := c.DeleteNote(ctx, "", "b7a0e3a2-6a0c-4a55-8a2f-0d2f1f1e9d11"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Not found error is %v", err)
	}

	anonymous, _ := client.New(srv.URL, "", nil)
	if _, err := anonymous.ListFolders(ctx, ""); !errors.Is(err, persistence.ErrUnauthenticated) {
		t.Fatalf("Unauthenticated error is %v", err)
	}

	srv.Close()
	if _, err := c.ListFolders(ctx, ""); !errors.Is(err, persistence.ErrUnavailable) {
		t.Fatalf("Unavailable error is %v", err)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	srv, issuer := newTestServer(t)
	alice := newTestClient(t, srv, issuer, "alice")
	bob := newTestClient(t, srv, issuer, "bob")

	f, _ := alice.CreateFolder(ctx, "", persistence.NewFolder{Name: "Secret"})
	folders, err := bob.ListFolders(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 0 {
		t.Fatalf("Bob sees %v", folders)
	}
	if err := bob.DeleteFolder(ctx, "", f.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Error is %v", err)
	}
}

func TestBadBody(t *testing.T) {
	srv, issuer := newTestServer(t)
	token, _ := issuer.Issue("alice")
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/folders", strings.NewReader(`{"name": 1}`))
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("Status is %d", res.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[error]int{
		persistence.ErrInvalid:         http.StatusBadRequest,
		persistence.ErrUnauthenticated: http.StatusUnauthorized,
		persistence.ErrNotFound:        http.StatusNotFound,
		errors.New("disk I/O error"):   http.StatusInternalServerError,
	}
	for err, want := range tests {
		if got := StatusFor(err); got != want {
			t.Errorf("StatusFor(%v) = %d", err, got)
		}
	}
}
