package travelnotes

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type recordingNotifier struct {
	shown []Notification
}

func (n *recordingNotifier) ShowNotification(_ context.Context, notification Notification) error {
	n.shown = append(n.shown, notification)
	return nil
}

type recordingClients struct {
	opened []string
}

func (c *recordingClients) OpenWindow(_ context.Context, url string) error {
	c.opened = append(c.opened, url)
	return nil
}

func TestSyncRunsRoutineForTag(t *testing.T) {
	var runs int
	l := newTestLifecycle(http.DefaultTransport, LifecycleConfig{
		Sync: func(context.Context) error {
			runs++
			return nil
		},
	})

	if err := l.Sync(context.Background(), "other"); err != nil {
		t.Fatal(err)
	}
	if err := l.Sync(context.Background(), SyncTag); err != nil {
		t.Fatal(err)
	}
	if runs != 1 {
		t.Fatalf("Sync ran %d times", runs)
	}
}

func TestSyncReturnsRoutineError(t *testing.T) {
	failure := errors.New("still offline")
	l := newTestLifecycle(http.DefaultTransport, LifecycleConfig{
		Sync: func(context.Context) error { return failure },
	})
	if err := l.Sync(context.Background(), SyncTag); !errors.Is(err, failure) {
		t.Fatalf("Error is %v", err)
	}
}

func TestPushShowsNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	l := newTestLifecycle(http.DefaultTransport, LifecycleConfig{Notifier: notifier})

	l.Push(context.Background(), nil)
	l.Push(context.Background(), []byte("Trip to Lisbon synced"))

	if len(notifier.shown) != 2 {
		t.Fatalf("%d notifications shown", len(notifier.shown))
	}
	if n := notifier.shown[0]; n.Title != NotificationTitle || n.Body != DefaultNotificationBody {
		t.Fatalf("Notification is %+v", n)
	}
	if n := notifier.shown[1]; n.Body != "Trip to Lisbon synced" {
		t.Fatalf("Body is %s", n.Body)
	}
}

func TestNewNotification(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	n := NewNotification(nil, now)
	if n.Icon != "/icons/icon-192x192.png" || n.Badge != "/icons/icon-72x72.png" {
		t.Fatalf("Icons are %s %s", n.Icon, n.Badge)
	}
	if len(n.Vibrate) != 3 || n.Vibrate[0] != 200 || n.Vibrate[1] != 100 || n.Vibrate[2] != 200 {
		t.Fatalf("Vibrate is %v", n.Vibrate)
	}
	if n.Data.DateOfArrival != 1700000000000 || n.Data.PrimaryKey != 1 {
		t.Fatalf("Data is %+v", n.Data)
	}
	if len(n.Actions) != 2 || n.Actions[0].Action != ActionExplore || n.Actions[1].Action != ActionClose {
		t.Fatalf("Actions are %+v", n.Actions)
	}
}

func TestNotificationClickOpensOnExplore(t *testing.T) {
	clients := &recordingClients{}
	l := newTestLifecycle(http.DefaultTransport, LifecycleConfig{Clients: clients})

	l.NotificationClick(context.Background(), ActionClose)
	l.NotificationClick(context.Background(), ActionExplore)

	if len(clients.opened) != 1 || clients.opened[0] != "/" {
		t.Fatalf("Opened %v", clients.opened)
	}
}
