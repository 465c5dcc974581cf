package render

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"jejubus/internal/domain"
)

// MemoryMarker is a marker held by the in-memory surface
type MemoryMarker struct {
	Handle   domain.Handle
	Position Position
	Style    Style
}

// Memory is a headless Surface that records every live marker and overlay.
// It backs tests and runs without a browser attached.
type Memory struct {
	mu       sync.Mutex
	ready    bool
	markers  map[domain.Handle]MemoryMarker
	overlays map[domain.Handle]domain.OverlayContent
	open     map[domain.Handle]domain.Handle
	clicks   map[domain.Handle]func()

	FailCreate func(pos Position) error

	created   int
	destroyed int
}

func NewMemory() *Memory {
	return &Memory{
		ready:    true,
		markers:  make(map[domain.Handle]MemoryMarker),
		overlays: make(map[domain.Handle]domain.OverlayContent),
		open:     make(map[domain.Handle]domain.Handle),
		clicks:   make(map[domain.Handle]func()),
	}
}

func (m *Memory) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = ready
}

func (m *Memory) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *Memory) CreateMarker(pos Position, style Style) (domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate != nil {
		if err := m.FailCreate(pos); err != nil {
			return "", err
		}
	}

	h := domain.Handle("m-" + uuid.NewString())
	m.markers[h] = MemoryMarker{Handle: h, Position: pos, Style: style}
	m.created++
	return h, nil
}

func (m *Memory) DestroyMarker(h domain.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.markers[h]; !ok {
		return fmt.Errorf("destroy marker %s: %w", h, ErrUnknownHandle)
	}
	delete(m.markers, h)
	delete(m.clicks, h)
	for overlay, anchor := range m.open {
		if anchor == h {
			delete(m.open, overlay)
		}
	}
	m.destroyed++
	return nil
}

func (m *Memory) CreateOverlay(content domain.OverlayContent) (domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := domain.Handle("o-" + uuid.NewString())
	m.overlays[h] = content
	return h, nil
}

func (m *Memory) OpenOverlay(h, anchor domain.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.overlays[h]; !ok {
		return fmt.Errorf("open overlay %s: %w", h, ErrUnknownHandle)
	}
	if _, ok := m.markers[anchor]; !ok {
		return fmt.Errorf("open overlay on %s: %w", anchor, ErrUnknownHandle)
	}
	m.open[h] = anchor
	return nil
}

func (m *Memory) CloseOverlay(h domain.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.overlays[h]; !ok {
		return fmt.Errorf("close overlay %s: %w", h, ErrUnknownHandle)
	}
	delete(m.open, h)
	delete(m.overlays, h)
	return nil
}

func (m *Memory) OnClick(h domain.Handle, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markers[h]; ok {
		m.clicks[h] = fn
	}
}

// Click fires the click handler registered for h, as a user tapping the marker would.
func (m *Memory) Click(h domain.Handle) bool {
	m.mu.Lock()
	fn, ok := m.clicks[h]
	m.mu.Unlock()
	if !ok {
		return false
	}
	fn()
	return true
}

func (m *Memory) Markers() []MemoryMarker {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MemoryMarker, 0, len(m.markers))
	for _, mk := range m.markers {
		result = append(result, mk)
	}
	return result
}

func (m *Memory) MarkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.markers)
}

// OpenOverlays returns overlay handle -> anchor marker handle for every open overlay
func (m *Memory) OpenOverlays() map[domain.Handle]domain.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[domain.Handle]domain.Handle, len(m.open))
	for k, v := range m.open {
		result[k] = v
	}
	return result
}

func (m *Memory) Overlay(h domain.Handle) (domain.OverlayContent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.overlays[h]
	return c, ok
}

func (m *Memory) Counts() (created, destroyed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, m.destroyed
}
