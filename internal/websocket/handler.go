package websocket

import (
	"context"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/starjar/internal/auth"
	"github.com/dukerupert/starjar/internal/docstore"
	"github.com/dukerupert/starjar/internal/model"
	"github.com/dukerupert/starjar/internal/tracker"
)

// Feeds is what the stream handlers read from. *tracker.Tracker satisfies it.
type Feeds interface {
	Children(ownerID int64) *docstore.CollectionSubscription
	Watch(ownerID int64, childID string) *docstore.Subscription
	ViewOf(p *model.ChildProfile) *tracker.View
}

func accept(w http.ResponseWriter, r *http.Request, logger *slog.Logger) *ws.Conn {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // Allow connections from any origin (home LAN)
	})
	if err != nil {
		logger.Warn("websocket accept", "error", err)
		return nil
	}
	return conn
}

// HandleChildren streams the signed-in owner's child list.
func HandleChildren(hub *Hub, feeds Feeds, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		conn := accept(w, r, logger)
		if conn == nil {
			return
		}

		sub := feeds.Children(ac.UserID)
		defer sub.Close()

		client := NewClient(hub, conn, ac.UserID, ac.Token)
		client.Run(r.Context(), func(ctx context.Context, c *Client) {
			for {
				select {
				case ev, ok := <-sub.C():
					if !ok {
						return
					}
					c.Send(collectionMessage(ev))
				case <-ctx.Done():
					return
				}
			}
		})
	}
}

// HandleChild streams every change to one child document.
func HandleChild(hub *Hub, feeds Feeds, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		childID := r.PathValue("id")
		conn := accept(w, r, logger)
		if conn == nil {
			return
		}

		sub := feeds.Watch(ac.UserID, childID)
		defer sub.Close()

		client := NewClient(hub, conn, ac.UserID, ac.Token)
		client.Run(r.Context(), func(ctx context.Context, c *Client) {
			for {
				select {
				case ev, ok := <-sub.C():
					if !ok {
						return
					}
					c.Send(childMessage(childID, ev, feeds))
				case <-ctx.Done():
					return
				}
			}
		})
	}
}

func collectionMessage(ev docstore.CollectionEvent) Message {
	if ev.Err != nil {
		msg := NewMessage("children", "error", "", nil)
		msg.Error = "failed to load children"
		return msg
	}
	return NewMessage("children", "snapshot", "", ev.Children)
}

func childMessage(childID string, ev docstore.Event, feeds Feeds) Message {
	switch {
	case ev.Err != nil:
		msg := NewMessage("child", "error", childID, nil)
		msg.Error = "failed to load child"
		return msg
	case ev.Profile == nil:
		return NewMessage("child", "removed", childID, nil)
	default:
		return NewMessage("child", "snapshot", childID, feeds.ViewOf(ev.Profile))
	}
}
