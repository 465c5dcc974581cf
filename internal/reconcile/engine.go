package reconcile

import (
	"fmt"
	"log/slog"
	"math"

	"jejubus/internal/domain"
	"jejubus/internal/render"
)

// Mode selects how a pass treats markers from the previous pass
type Mode string

const (
	// ModeReplace destroys every previous marker and recreates one per item.
	ModeReplace Mode = "replace"
	// ModeDiff keeps markers whose identity and position did not change.
	ModeDiff Mode = "diff"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReplace, "":
		return ModeReplace, nil
	case ModeDiff:
		return ModeDiff, nil
	default:
		return "", fmt.Errorf("unknown reconcile mode %q", s)
	}
}

// Result summarizes one pass
type Result struct {
	Skipped   bool `json:"skipped"`
	Created   int  `json:"created"`
	Destroyed int  `json:"destroyed"`
	Retained  int  `json:"retained"`
	Malformed int  `json:"malformed"`
	Failed    int  `json:"failed"`
}

type Engine struct {
	surface render.Surface
	mode    Mode
	onClick func(domain.Marker)
	logger  *slog.Logger
}

// New creates an engine drawing on surface. onClick is registered on every
// created marker and receives the marker that was clicked.
func New(surface render.Surface, mode Mode, onClick func(domain.Marker), logger *slog.Logger) *Engine {
	if mode == "" {
		mode = ModeReplace
	}
	return &Engine{
		surface: surface,
		mode:    mode,
		onClick: onClick,
		logger:  logger.With("component", "reconcile"),
	}
}

func (e *Engine) Mode() Mode {
	return e.mode
}

// Reconcile turns snapshot into the new marker set. prev must be the set
// returned by the previous call.
func (e *Engine) Reconcile(prev domain.MarkerSet, snapshot []domain.Placeable) (domain.MarkerSet, Result) {
	if !e.surface.Ready() {
		e.logger.Debug("render surface not ready, skipping pass")
		return prev, Result{Skipped: true}
	}
	if len(snapshot) == 0 && len(prev) == 0 {
		return prev, Result{Skipped: true}
	}

	items, malformed := e.normalize(snapshot)
	res := Result{Malformed: malformed}

	var retained map[string]domain.Marker
	if e.mode == ModeDiff {
		retained = make(map[string]domain.Marker)
		wanted := make(map[string]domain.Placeable, len(items))
		for _, it := range items {
			wanted[key(it.Kind(), it.Identity())] = it
		}
		for _, m := range prev {
			k := key(m.Kind, m.Identity)
			it, ok := wanted[k]
			if ok && samePosition(m, it) {
				m.Item = it
				retained[k] = m
				continue
			}
			e.destroy(m, &res)
		}
	} else {
		for _, m := range prev {
			e.destroy(m, &res)
		}
	}

	next := make(domain.MarkerSet, 0, len(items))
	for _, it := range items {
		if m, ok := retained[key(it.Kind(), it.Identity())]; ok {
			next = append(next, m)
			res.Retained++
			continue
		}

		m, err := e.create(it)
		if err != nil {
			res.Failed++
			e.logger.Warn("failed to create marker",
				"kind", it.Kind(),
				"identity", it.Identity(),
				"error", err,
			)
			continue
		}
		next = append(next, m)
		res.Created++
	}

	e.logger.Debug("reconcile pass completed",
		"mode", e.mode,
		"created", res.Created,
		"destroyed", res.Destroyed,
		"retained", res.Retained,
		"malformed", res.Malformed,
		"failed", res.Failed,
	)
	return next, res
}

// Teardown destroys every marker in set and returns how many were destroyed
func (e *Engine) Teardown(set domain.MarkerSet) int {
	var res Result
	for _, m := range set {
		e.destroy(m, &res)
	}
	return res.Destroyed
}

func (e *Engine) normalize(snapshot []domain.Placeable) ([]domain.Placeable, int) {
	malformed := 0
	index := make(map[string]int, len(snapshot))
	items := make([]domain.Placeable, 0, len(snapshot))

	for _, it := range snapshot {
		if it == nil {
			malformed++
			continue
		}
		lat, lon := it.Position()
		if it.Identity() == "" || !domain.ValidPosition(lat, lon) {
			malformed++
			e.logger.Warn("skipping malformed item",
				"kind", it.Kind(),
				"identity", it.Identity(),
				"lat", lat,
				"lon", lon,
			)
			continue
		}

		k := key(it.Kind(), it.Identity())
		if i, dup := index[k]; dup {
			e.logger.Debug("duplicate identity in snapshot, keeping latest", "identity", it.Identity())
			items[i] = it
			continue
		}
		index[k] = len(items)
		items = append(items, it)
	}
	return items, malformed
}

func (e *Engine) create(it domain.Placeable) (domain.Marker, error) {
	lat, lon := it.Position()
	style := render.StyleDefault
	if it.Kind() == domain.KindPOI {
		style = render.StylePOI
	}

	h, err := e.surface.CreateMarker(render.Position{Lat: lat, Lon: lon}, style)
	if err != nil {
		return domain.Marker{}, fmt.Errorf("create marker: %w", err)
	}

	m := domain.Marker{
		Handle:   h,
		Kind:     it.Kind(),
		Identity: it.Identity(),
		Lat:      lat,
		Lon:      lon,
		Item:     it,
	}
	if e.onClick != nil {
		bound := m
		e.surface.OnClick(h, func() { e.onClick(bound) })
	}
	return m, nil
}

func (e *Engine) destroy(m domain.Marker, res *Result) {
	if err := e.surface.DestroyMarker(m.Handle); err != nil {
		e.logger.Warn("failed to destroy marker", "handle", m.Handle, "identity", m.Identity, "error", err)
		return
	}
	res.Destroyed++
}

func key(kind domain.Kind, identity string) string {
	return string(kind) + ":" + identity
}

func samePosition(m domain.Marker, it domain.Placeable) bool {
	const epsilon = 0.000001

	lat, lon := it.Position()
	return math.Abs(m.Lat-lat) <= epsilon && math.Abs(m.Lon-lon) <= epsilon
}
