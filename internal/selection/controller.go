package selection

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jejubus/internal/domain"
	"jejubus/internal/render"
)

var ErrNoAnchor = errors.New("marker has no handle")

// Panel receives the current selection; nil means nothing is selected.
type Panel interface {
	Show(sel *domain.Selection)
}

type PanelFunc func(sel *domain.Selection)

func (f PanelFunc) Show(sel *domain.Selection) { f(sel) }

// Controller keeps at most one overlay open. It is owned by the session goroutine.
type Controller struct {
	surface render.Surface
	panel   Panel
	current *domain.Selection
	logger  *slog.Logger
}

func New(surface render.Surface, panel Panel, logger *slog.Logger) *Controller {
	return &Controller{
		surface: surface,
		panel:   panel,
		logger:  logger.With("component", "selection"),
	}
}

// Current returns a copy of the selection, or nil when idle
func (c *Controller) Current() *domain.Selection {
	if c.current == nil {
		return nil
	}
	sel := *c.current
	return &sel
}

// OnMarkerClick closes any open overlay, then opens one for m.
func (c *Controller) OnMarkerClick(m domain.Marker) error {
	if m.Handle == "" {
		return ErrNoAnchor
	}

	c.closeCurrent()

	overlay, err := c.surface.CreateOverlay(Content(m.Item))
	if err != nil {
		c.publish()
		return fmt.Errorf("create overlay: %w", err)
	}
	if err := c.surface.OpenOverlay(overlay, m.Handle); err != nil {
		if cerr := c.surface.CloseOverlay(overlay); cerr != nil {
			c.logger.Debug("failed to release unopened overlay", "overlay", overlay, "error", cerr)
		}
		c.publish()
		return fmt.Errorf("open overlay: %w", err)
	}

	c.current = &domain.Selection{
		Kind:     m.Kind,
		Identity: m.Identity,
		Item:     m.Item,
		Overlay:  overlay,
		Anchor:   m.Handle,
	}
	c.logger.Debug("selected", "kind", m.Kind, "identity", m.Identity, "overlay", overlay)
	c.publish()
	return nil
}

// OnDismiss closes the open overlay, if any, and returns to idle.
func (c *Controller) OnDismiss() {
	if c.current == nil {
		return
	}
	c.closeCurrent()
	c.publish()
}

// Reanchor follows the selected identity into a freshly reconciled marker set.
// The overlay is reopened on the new marker with refreshed content, or the
// selection is dismissed when the identity is gone.
func (c *Controller) Reanchor(set domain.MarkerSet) {
	if c.current == nil {
		return
	}

	m, ok := set.FindIdentity(c.current.Kind, c.current.Identity)
	if !ok {
		c.logger.Debug("selected identity left the snapshot", "identity", c.current.Identity)
		c.OnDismiss()
		return
	}
	if m.Handle == c.current.Anchor && m.Item == c.current.Item {
		return
	}
	if err := c.OnMarkerClick(m); err != nil {
		c.logger.Warn("failed to reanchor overlay", "identity", m.Identity, "error", err)
	}
}

func (c *Controller) closeCurrent() {
	if c.current == nil {
		return
	}
	if err := c.surface.CloseOverlay(c.current.Overlay); err != nil {
		c.logger.Warn("failed to close overlay", "overlay", c.current.Overlay, "error", err)
	}
	c.current = nil
}

func (c *Controller) publish() {
	if c.panel != nil {
		c.panel.Show(c.Current())
	}
}

// Content builds the popup body for a bus or point of interest
func Content(item domain.Placeable) domain.OverlayContent {
	switch v := item.(type) {
	case *domain.Bus:
		ts := "-"
		if !v.Timestamp.IsZero() {
			ts = v.Timestamp.Format(time.DateTime)
		}
		return domain.OverlayContent{
			Kind:  domain.KindBus,
			Title: v.Plate,
			Fields: []domain.OverlayRow{
				{Label: "route", Value: v.RouteID},
				{Label: "current stop", Value: v.CurrentStop},
				{Label: "timestamp", Value: ts},
			},
		}
	case *domain.POI:
		return domain.OverlayContent{
			Kind:  domain.KindPOI,
			Title: v.Title,
			Fields: []domain.OverlayRow{
				{Label: "address", Value: v.Address},
				{Label: "description", Value: v.Description},
				{Label: "phone", Value: v.Phone},
			},
			ImageRef: v.ImageRef,
		}
	case nil:
		return domain.OverlayContent{}
	default:
		return domain.OverlayContent{Kind: item.Kind(), Title: item.Identity()}
	}
}
