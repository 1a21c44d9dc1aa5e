package travelnotes

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	NotificationTitle       = "Travel Notes"
	DefaultNotificationBody = "New update available!"

	ActionExplore = "explore"
	ActionClose   = "close"
)

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

type NotificationData struct {
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    int   `json:"primaryKey"`
}

type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions"`
}

// Notifier displays notifications to the user.
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
}

// Clients opens application windows.
type Clients interface {
	OpenWindow(ctx context.Context, url string) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) ShowNotification(_ context.Context, notification Notification) error {
	n.Logger.Info().
		Str("title", notification.Title).
		Str("body", notification.Body).
		Msg("Notification")
	return nil
}

// NewNotification builds the notification shown for a push payload.
func NewNotification(payload []byte, now time.Time) Notification {
	body := DefaultNotificationBody
	if len(payload) > 0 {
		body = string(payload)
	}
	return Notification{
		Title:   NotificationTitle,
		Body:    body,
		Icon:    "/icons/icon-192x192.png",
		Badge:   "/icons/icon-72x72.png",
		Vibrate: []int{200, 100, 200},
		Data: NotificationData{
			DateOfArrival: now.UnixMilli(),
			PrimaryKey:    1,
		},
		Actions: []NotificationAction{
			{Action: ActionExplore, Title: "View details", Icon: "/icons/icon-192x192.png"},
			{Action: ActionClose, Title: "Close", Icon: "/icons/icon-192x192.png"},
		},
	}
}

// Push displays a notification for a push message.
func (l *Lifecycle) Push(ctx context.Context, payload []byte) error {
	return l.notifier.ShowNotification(ctx, NewNotification(payload, time.Now()))
}

// NotificationClick handles a click on a notification action.
// Only the explore action opens the application.
func (l *Lifecycle) NotificationClick(ctx context.Context, action string) error {
	if action != ActionExplore {
		return nil
	}
	if l.clients == nil {
		l.log.Debug().Msg("No clients configured, not opening window")
		return nil
	}
	return l.clients.OpenWindow(ctx, "/")
}
