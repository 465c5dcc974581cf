package render

import (
	"errors"

	"jejubus/internal/domain"
)

// Style selects the marker icon
type Style string

const (
	StyleDefault Style = "default"
	StylePOI     Style = "poi"
)

var ErrUnknownHandle = errors.New("unknown render handle")

// Position is a marker anchor on the map
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Surface is the drawing API the engine consumes. Implementations are called
// from the session goroutine only, except OnClick callbacks which may fire from
// any goroutine.
type Surface interface {
	Ready() bool
	CreateMarker(pos Position, style Style) (domain.Handle, error)
	DestroyMarker(h domain.Handle) error
	CreateOverlay(content domain.OverlayContent) (domain.Handle, error)
	OpenOverlay(h, anchor domain.Handle) error
	CloseOverlay(h domain.Handle) error
	OnClick(h domain.Handle, fn func())
}
