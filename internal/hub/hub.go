package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"jejubus/internal/domain"
	"jejubus/internal/render"
)

type Client struct {
	ID     string
	Send   chan []byte
	tiles  map[string]struct{}
	closed bool
	mu     sync.RWMutex
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:    id,
		Send:  make(chan []byte, bufferSize),
		tiles: make(map[string]struct{}),
	}
}

// TrySend queues data without blocking. It reports false when the buffer is
// full or the client has been closed.
func (c *Client) TrySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) HasTile(tileID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tiles[tileID]
	return ok
}

func (c *Client) AddTiles(tileIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range tileIDs {
		c.tiles[id] = struct{}{}
	}
}

func (c *Client) RemoveTiles(tileIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range tileIDs {
		delete(c.tiles, id)
	}
}

func (c *Client) GetTiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tiles := make([]string, 0, len(c.tiles))
	for id := range c.tiles {
		tiles = append(tiles, id)
	}
	return tiles
}

type liveMarker struct {
	Handle domain.Handle `json:"handle"`
	Style  render.Style  `json:"style"`
	Lat    float64       `json:"lat"`
	Lon    float64       `json:"lon"`
	TileID string        `json:"tileId"`
}

type openOverlay struct {
	Handle  domain.Handle         `json:"handle"`
	Anchor  domain.Handle         `json:"anchor"`
	Content domain.OverlayContent `json:"content"`
}

// outbound is one message for either the subscribers of a tile or, with an
// empty tileID, every connected client.
type outbound struct {
	tileID string
	data   []byte
}

// Hub is a render.Surface that draws on every connected browser map. Marker
// commands go to the clients subscribed to the marker's tile; overlay and
// selection commands go to all clients.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	tileClients map[string]map[*Client]struct{}

	markers   map[domain.Handle]liveMarker
	overlays  map[domain.Handle]domain.OverlayContent
	open      map[domain.Handle]domain.Handle
	clicks    map[domain.Handle]func()
	selection *domain.Selection

	zoom    int
	running atomic.Bool
	onReady func()

	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound

	logger *slog.Logger
}

func NewHub(zoom int, logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		tileClients: make(map[string]map[*Client]struct{}),
		markers:     make(map[domain.Handle]liveMarker),
		overlays:    make(map[domain.Handle]domain.OverlayContent),
		open:        make(map[domain.Handle]domain.Handle),
		clicks:      make(map[domain.Handle]func()),
		zoom:        zoom,
		register:    make(chan *Client, 16),
		unregister:  make(chan *Client, 16),
		broadcast:   make(chan outbound, 1024),
		logger:      logger.With("component", "hub"),
	}
}

// OnReady registers fn to run once Run has started. Must be called before Run.
func (h *Hub) OnReady(fn func()) {
	h.onReady = fn
}

func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.running.Store(false)

	if h.onReady != nil {
		go h.onReady()
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.fanout(msg)
		}
	}
}

func (h *Hub) Ready() bool {
	return h.running.Load()
}

func (h *Hub) CreateMarker(pos render.Position, style render.Style) (domain.Handle, error) {
	m := liveMarker{
		Handle: domain.Handle("m-" + uuid.NewString()),
		Style:  style,
		Lat:    pos.Lat,
		Lon:    pos.Lon,
		TileID: TileID(pos.Lat, pos.Lon, h.zoom),
	}

	h.mu.Lock()
	h.markers[m.Handle] = m
	h.mu.Unlock()

	h.send(m.TileID, "marker.create", m)
	return m.Handle, nil
}

// DestroyMarker removes the marker and detaches any overlay anchored to it.
// Detached overlays stay known so a later CloseOverlay still succeeds.
func (h *Hub) DestroyMarker(handle domain.Handle) error {
	h.mu.Lock()
	m, ok := h.markers[handle]
	var detached []domain.Handle
	if ok {
		delete(h.markers, handle)
		delete(h.clicks, handle)
		for overlay, anchor := range h.open {
			if anchor == handle {
				delete(h.open, overlay)
				detached = append(detached, overlay)
			}
		}
	}
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("destroy marker %s: %w", handle, render.ErrUnknownHandle)
	}
	for _, overlay := range detached {
		h.send("", "overlay.close", handlePayload{Handle: overlay})
	}
	h.send(m.TileID, "marker.destroy", handlePayload{Handle: handle})
	return nil
}

func (h *Hub) CreateOverlay(content domain.OverlayContent) (domain.Handle, error) {
	handle := domain.Handle("o-" + uuid.NewString())
	h.mu.Lock()
	h.overlays[handle] = content
	h.mu.Unlock()
	return handle, nil
}

func (h *Hub) OpenOverlay(handle, anchor domain.Handle) error {
	h.mu.Lock()
	content, ok := h.overlays[handle]
	_, anchored := h.markers[anchor]
	if ok && anchored {
		h.open[handle] = anchor
	}
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("open overlay %s: %w", handle, render.ErrUnknownHandle)
	}
	if !anchored {
		return fmt.Errorf("open overlay on %s: %w", anchor, render.ErrUnknownHandle)
	}
	h.send("", "overlay.open", openOverlay{Handle: handle, Anchor: anchor, Content: content})
	return nil
}

func (h *Hub) CloseOverlay(handle domain.Handle) error {
	h.mu.Lock()
	_, ok := h.overlays[handle]
	delete(h.overlays, handle)
	delete(h.open, handle)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("close overlay %s: %w", handle, render.ErrUnknownHandle)
	}
	h.send("", "overlay.close", handlePayload{Handle: handle})
	return nil
}

func (h *Hub) OnClick(handle domain.Handle, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.markers[handle]; ok {
		h.clicks[handle] = fn
	}
}

// Click runs the click handler of a marker tapped in a browser
func (h *Hub) Click(handle domain.Handle) bool {
	h.mu.RLock()
	fn, ok := h.clicks[handle]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	fn()
	return true
}

// Show implements selection.Panel by pushing the detail panel state to every client
func (h *Hub) Show(sel *domain.Selection) {
	h.mu.Lock()
	h.selection = sel
	h.mu.Unlock()
	h.send("", "selection", sel)
}

func (h *Hub) Subscribe(client *Client, tileIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.AddTiles(tileIDs)

	for _, tileID := range tileIDs {
		if h.tileClients[tileID] == nil {
			h.tileClients[tileID] = make(map[*Client]struct{})
		}
		h.tileClients[tileID][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, tileIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.RemoveTiles(tileIDs)

	for _, tileID := range tileIDs {
		if h.tileClients[tileID] != nil {
			delete(h.tileClients[tileID], client)
			if len(h.tileClients[tileID]) == 0 {
				delete(h.tileClients, tileID)
			}
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	default:
		h.removeClient(client)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) MarkerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.markers)
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type handlePayload struct {
	Handle domain.Handle `json:"handle"`
}

type SnapshotPayload struct {
	Markers   []liveMarker      `json:"markers"`
	Overlays  []openOverlay     `json:"overlays"`
	Selection *domain.Selection `json:"selection"`
}

// Snapshot builds the state a client needs after subscribing to tileIDs
func (h *Hub) Snapshot(tileIDs []string) Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	want := make(map[string]struct{}, len(tileIDs))
	for _, id := range tileIDs {
		want[id] = struct{}{}
	}

	payload := SnapshotPayload{
		Markers:   make([]liveMarker, 0),
		Overlays:  make([]openOverlay, 0, len(h.open)),
		Selection: h.selection,
	}
	for _, m := range h.markers {
		if _, ok := want[m.TileID]; ok {
			payload.Markers = append(payload.Markers, m)
		}
	}
	for handle, anchor := range h.open {
		payload.Overlays = append(payload.Overlays, openOverlay{Handle: handle, Anchor: anchor, Content: h.overlays[handle]})
	}
	return Message{Type: "snapshot", Payload: payload}
}

func (h *Hub) send(tileID, msgType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		h.logger.Error("failed to encode message", "type", msgType, "error", err)
		return
	}
	select {
	case h.broadcast <- outbound{tileID: tileID, data: data}:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", msgType)
	}
}

func (h *Hub) fanout(msg outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets map[*Client]struct{}
	if msg.tileID == "" {
		targets = h.clients
	} else {
		targets = h.tileClients[msg.tileID]
	}

	for client := range targets {
		if !client.TrySend(msg.data) {
			h.logger.Debug("client send buffer full", "client_id", client.ID)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	for _, tileID := range client.GetTiles() {
		if h.tileClients[tileID] != nil {
			delete(h.tileClients[tileID], client)
			if len(h.tileClients[tileID]) == 0 {
				delete(h.tileClients, tileID)
			}
		}
	}

	delete(h.clients, client)
	client.close()
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]struct{})
	h.tileClients = make(map[string]map[*Client]struct{})
}
