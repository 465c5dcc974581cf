package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"jejubus/internal/domain"
	"jejubus/internal/hub"
	"jejubus/internal/session"
)

type WSHandler struct {
	hub     *hub.Hub
	session *session.Session
	zoom    int
	logger  *slog.Logger
}

func NewWSHandler(h *hub.Hub, s *session.Session, zoom int, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, session: s, zoom: zoom, logger: logger}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload names tiles directly or by a bounding box at the server zoom level.
type SubscribePayload struct {
	TileIDs []string  `json:"tileIds"`
	BBox    []float64 `json:"bbox,omitempty"`
}

type ClickPayload struct {
	Handle domain.Handle `json:"handle"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := hub.NewClient(clientID, 256)

	h.hub.Register(client)
	ServerStats.IncWSConnections()
	defer ServerStats.DecWSConnections()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}
		ServerStats.IncWSMessagesIn()

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		h.handleMessage(ctx, client, msg)
	}
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, msg WSMessage) {
	switch msg.Type {
	case "subscribe":
		tiles, err := h.tiles(msg.Payload)
		if err != nil {
			h.sendError(client, err.Error())
			return
		}
		if len(tiles) > 0 {
			h.hub.Subscribe(client, tiles)
			h.sendMessage(client, h.hub.Snapshot(tiles))
		}

	case "unsubscribe":
		tiles, err := h.tiles(msg.Payload)
		if err != nil {
			h.sendError(client, err.Error())
			return
		}
		if len(tiles) > 0 {
			h.hub.Unsubscribe(client, tiles)
		}

	case "click":
		var payload ClickPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Handle == "" {
			h.sendError(client, "click requires a marker handle")
			return
		}
		if !h.hub.Click(payload.Handle) {
			h.sendError(client, "unknown marker")
		}

	case "dismiss":
		if err := h.session.Dismiss(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn("dismiss failed", "client_id", client.ID, "error", err)
		}

	case "ping":
		h.sendMessage(client, PongMessage{Type: "pong"})
	}
}

func (h *WSHandler) tiles(raw json.RawMessage) ([]string, error) {
	var payload SubscribePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.New("invalid subscription payload")
	}
	if len(payload.BBox) == 0 {
		return payload.TileIDs, nil
	}
	if len(payload.BBox) != 4 {
		return nil, errors.New("bbox must be [minLat, minLon, maxLat, maxLon]")
	}
	fromBox, err := hub.TilesInBBox(payload.BBox[0], payload.BBox[1], payload.BBox[2], payload.BBox[3], h.zoom)
	if err != nil {
		return nil, err
	}
	return append(payload.TileIDs, fromBox...), nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
			ServerStats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) sendError(client *hub.Client, message string) {
	h.sendMessage(client, ErrorMessage{Type: "error", Message: message})
}

func (h *WSHandler) sendMessage(client *hub.Client, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	if !client.TrySend(data) {
		h.logger.Debug("client buffer full, dropping message", "client_id", client.ID)
	}
}
