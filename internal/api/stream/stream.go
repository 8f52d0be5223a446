// Package stream serves dashboard instance event feeds over WebSocket.
//
// One connection follows one mounted instance. The server pushes every
// lifecycle event the runtime emits for that instance; the client may
// send {"type":"ping"} keepalives and {"type":"reload"} to refetch the
// whole dashboard. Slow consumers lose oldest messages rather than
// blocking the runtime.
package stream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/glassboard/glassboard/console-engine/internal/dashboard"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type inbound struct {
	Type string `json:"type"`
}

// outbound is the wire envelope. Exactly one of the payload fields is
// set, selected by Type.
type outbound struct {
	Type     string                   `json:"type"`
	Event    *models.Event            `json:"event,omitempty"`
	Snapshot *models.InstanceSnapshot `json:"snapshot,omitempty"`
	Message  string                   `json:"message,omitempty"`
}

// Handler upgrades dashboard stream requests and pumps feed events.
type Handler struct {
	runtime *dashboard.Runtime
}

func NewHandler(rt *dashboard.Runtime) *Handler {
	return &Handler{runtime: rt}
}

// ServeInstance handles GET /dashboards/instances/{instanceID}/stream.
func (h *Handler) ServeInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	// Reject unknown instances before committing to the upgrade.
	snapshot, err := h.runtime.Snapshot(instanceID)
	if err != nil {
		if errors.Is(err, dashboard.ErrInstanceNotFound) {
			http.Error(w, "instance not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeCh := make(chan outbound, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	feed := h.runtime.Feed()
	sub := feed.Subscribe()
	defer feed.Unsubscribe(sub)

	log.Debug().Str("instance_id", instanceID).Msg("Dashboard stream opened")

	// Hydrate the client with the current widget states, then follow
	// the live feed.
	push(writeCh, outbound{Type: "snapshot", Snapshot: snapshot})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if ev.InstanceID != instanceID {
					continue
				}
				e := ev
				push(writeCh, outbound{Type: "event", Event: &e})
			}
		}
	}()

	for {
		var in inbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			log.Debug().Str("instance_id", instanceID).Msg("Dashboard stream closed")
			return
		}

		switch in.Type {
		case "ping":
			push(writeCh, outbound{Type: "pong"})
		case "reload":
			if err := h.runtime.Reload(instanceID); err != nil {
				push(writeCh, outbound{Type: "error", Message: err.Error()})
				continue
			}
			push(writeCh, outbound{Type: "reload_ack"})
		case "":
			push(writeCh, outbound{Type: "error", Message: "type is required"})
		default:
			push(writeCh, outbound{Type: "error", Message: "unsupported type: " + in.Type})
		}
	}
}

// push enqueues without blocking. When the buffer is full the oldest
// message is dropped so a stalled client never backpressures the feed.
func push(writeCh chan outbound, out outbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
