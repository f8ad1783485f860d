package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/respond"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	accessCheckTimeout = 5 * time.Second
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// FileAccess answers whether a user may view or annotate an image. The image
// domain implements it; the hub layer stays ignorant of ownership and shares.
type FileAccess interface {
	CanView(ctx context.Context, userID, fileID string) (bool, error)
	CanAnnotate(ctx context.Context, userID, fileID string) (bool, error)
}

// Handler upgrades authenticated HTTP requests to WebSocket connections and
// routes client frames to the hub.
type Handler struct {
	hub      *Hub
	verifier *auth.Verifier
	access   FileAccess
	logger   zerolog.Logger
}

// NewHandler creates a Handler bound to the given hub.
func NewHandler(hub *Hub, verifier *auth.Verifier, access FileAccess, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, verifier: verifier, access: access, logger: logger}
}

// RegisterRoutes registers the WebSocket endpoint.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.HandleConnect)
}

// HandleConnect verifies the bearer credential, upgrades the connection,
// registers the client, and starts the read/write pumps. Browsers cannot set
// headers on WebSocket requests, so the token is also accepted as a query
// parameter. Verification happens before the upgrade: a bad token gets a
// plain 401 response, never a socket.
func (h *Handler) HandleConnect(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		var err error
		token, err = auth.BearerToken(c.Request().Header.Get("Authorization"))
		if err != nil {
			return respond.Unauthorized("missing credentials")
		}
	}

	claims, err := h.verifier.Verify(token)
	if err != nil {
		return respond.Unauthorized("invalid or expired token")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(claims.Subject, claims.Email, claims.Role)
	h.hub.Register(client)
	h.logger.Info().
		Str("client_id", client.ID).
		Str("user_id", client.UserID).
		Str("role", client.Role).
		Msg("websocket connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)

	return nil
}

// readPump reads frames until the connection dies, keeping the read deadline
// alive via pongs. Malformed frames are ignored; undecryptable ones get an
// error event back.
func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
		h.logger.Info().
			Str("client_id", client.ID).
			Str("user_id", client.UserID).
			Msg("websocket disconnected")
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}

		frame, err := h.hub.decode(raw)
		if err != nil {
			h.hub.SendTo(client, EventError, errorPayload{Message: "undecryptable frame"})
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			continue
		}
		h.dispatch(client, msg)
	}
}

// writePump drains the client's Send channel onto the wire and pings on a
// ticker. The hub closing Send ends the pump with a close frame.
func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) dispatch(client *Client, msg inboundMessage) {
	switch msg.Event {
	case inViewerJoin:
		var p viewerPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.FileID == "" {
			return
		}
		if !h.canView(client, p.FileID) {
			h.hub.SendTo(client, EventError, errorPayload{Message: "no access to file"})
			return
		}
		anns := h.hub.JoinFile(client, p.FileID, p.Cursor, p.Viewport)
		h.hub.SendTo(client, EventAnnotationSync, annotationSyncPayload{
			FileID:      p.FileID,
			Annotations: anns,
		})

	case inViewerUpdate:
		var p viewerPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.FileID == "" {
			return
		}
		h.hub.UpdateViewer(client, p.FileID, p.Cursor, p.Viewport)

	case inViewerLeave:
		var p viewerPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.FileID == "" {
			return
		}
		h.hub.LeaveFile(client, p.FileID)

	case inAnnotationCreate:
		var p annotationPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.FileID == "" || p.Kind == "" {
			return
		}
		if !h.canAnnotate(client, p.FileID) {
			h.hub.SendTo(client, EventError, errorPayload{Message: "no annotate access to file"})
			return
		}
		if h.hub.CreateAnnotation(client, p.FileID, p.Kind, p.Geometry, p.Text) == nil {
			h.hub.SendTo(client, EventError, errorPayload{Message: "join the file before annotating"})
		}

	case inAnnotationUpdate:
		var p annotationPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.FileID == "" || p.ID == "" {
			return
		}
		if !h.canAnnotate(client, p.FileID) {
			h.hub.SendTo(client, EventError, errorPayload{Message: "no annotate access to file"})
			return
		}
		if h.hub.UpdateAnnotation(client, p.FileID, p.ID, p.Geometry, p.Text) == nil {
			h.hub.SendTo(client, EventError, errorPayload{Message: "annotation not found"})
		}

	case inAnnotationDelete:
		var p annotationPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.FileID == "" || p.ID == "" {
			return
		}
		if !h.canAnnotate(client, p.FileID) {
			h.hub.SendTo(client, EventError, errorPayload{Message: "no annotate access to file"})
			return
		}
		if !h.hub.DeleteAnnotation(client, p.FileID, p.ID) {
			h.hub.SendTo(client, EventError, errorPayload{Message: "annotation not found"})
		}

	default:
		// Unknown client events are ignored.
	}
}

// canView runs the access check with its own deadline; the socket's lifetime
// is not a useful context for a single lookup.
func (h *Handler) canView(client *Client, fileID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), accessCheckTimeout)
	defer cancel()

	ok, err := h.access.CanView(ctx, client.UserID, fileID)
	if err != nil {
		h.logger.Error().Err(err).Str("file_id", fileID).Msg("file view check")
		return false
	}
	return ok
}

func (h *Handler) canAnnotate(client *Client, fileID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), accessCheckTimeout)
	defer cancel()

	ok, err := h.access.CanAnnotate(ctx, client.UserID, fileID)
	if err != nil {
		h.logger.Error().Err(err).Str("file_id", fileID).Msg("file annotate check")
		return false
	}
	return ok
}
