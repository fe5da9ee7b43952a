package vetcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

const (
	ActionExplore = "explore"
	ActionClose   = "close"

	// dashboardPath is opened by the explore notification action.
	dashboardPath = "/admin/dashboard"

	// BackgroundSyncTag is reserved; syncing it does nothing yet.
	BackgroundSyncTag = "background-sync"
)

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions"`
}

type NotificationData struct {
	PrimaryKey json.RawMessage `json:"primaryKey,omitempty"`
}

// Notifier displays notifications to the operator.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// ClientOpener focuses or opens an admin client at a path.
type ClientOpener interface {
	OpenWindow(ctx context.Context, path string) error
}

type logNotifier struct {
	log zerolog.Logger
}

func (n logNotifier) Show(_ context.Context, note Notification) error {
	n.log.Info().
		Str("title", note.Title).
		Str("body", note.Body).
		RawJSON("primary_key", rawOrNull(note.Data.PrimaryKey)).
		Msg("Notification")
	return nil
}

type logOpener struct {
	log zerolog.Logger
}

func (o logOpener) OpenWindow(_ context.Context, path string) error {
	o.log.Info().Str("path", path).Msg("Open window")
	return nil
}

type pushPayload struct {
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	PrimaryKey json.RawMessage `json:"primaryKey"`
}

// Push turns a push payload into a notification with explore and close
// actions and shows it.
func (w *Worker) Push(ctx context.Context, payload []byte) (Notification, error) {
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Notification{}, fmt.Errorf("push payload: %w", err)
	}
	n := Notification{
		Title: p.Title,
		Body:  p.Body,
		Data:  NotificationData{PrimaryKey: p.PrimaryKey},
		Actions: []NotificationAction{
			{Action: ActionExplore, Title: "Open dashboard"},
			{Action: ActionClose, Title: "Close"},
		},
	}
	if err := w.notifier.Show(ctx, n); err != nil {
		return n, fmt.Errorf("show notification: %w", err)
	}
	return n, nil
}

// NotificationClick closes the notification and, for the explore action,
// opens the dashboard.
func (w *Worker) NotificationClick(ctx context.Context, action string) error {
	w.log.Debug().Str("action", action).Msg("Notification clicked")
	if action != ActionExplore {
		return nil
	}
	return w.opener.OpenWindow(ctx, dashboardPath)
}

func (w *Worker) Sync(_ context.Context, tag string) error {
	w.log.Debug().Str("tag", tag).Msg("Sync event acknowledged")
	return nil
}

func rawOrNull(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
