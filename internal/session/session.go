// Package session owns the live view state: the rendered marker set, the
// selection and the latency table. All of it is mutated only by the goroutine
// running Run; other goroutines submit events and wait for them to finish.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"jejubus/internal/domain"
	"jejubus/internal/latency"
	"jejubus/internal/reconcile"
	"jejubus/internal/render"
	"jejubus/internal/selection"
)

var (
	ErrClosed        = errors.New("session closed")
	ErrUnknownMarker = errors.New("unknown marker")
)

type Options struct {
	Mode           reconcile.Mode
	TrackedPlates  []string
	EventQueueSize int
}

// Stats describes the session state for the stats endpoint
type Stats struct {
	Passes     int64            `json:"passes"`
	LastPass   reconcile.Result `json:"lastPass"`
	LastPassAt time.Time        `json:"lastPassAt"`
	Buses      int              `json:"buses"`
	POIs       int              `json:"pois"`
	Markers    int              `json:"markers"`
	Tracked    int              `json:"tracked"`
	Selected   bool             `json:"selected"`
	Recovered  int64            `json:"recovered"`
}

type Session struct {
	engine    *reconcile.Engine
	selection *selection.Controller
	latency   *latency.Tracker

	markers domain.MarkerSet
	buses   []*domain.Bus
	pois    []*domain.POI
	stats   Stats

	events chan func()
	done   chan struct{}
	logger *slog.Logger
}

func New(surface render.Surface, panel selection.Panel, opts Options, logger *slog.Logger) *Session {
	queue := opts.EventQueueSize
	if queue <= 0 {
		queue = 64
	}

	s := &Session{
		latency: latency.New(opts.TrackedPlates),
		events:  make(chan func(), queue),
		done:    make(chan struct{}),
		logger:  logger.With("component", "session"),
	}
	s.selection = selection.New(surface, panel, logger)
	s.engine = reconcile.New(surface, opts.Mode, s.onMarkerClick, logger)
	return s
}

// Run processes events until ctx is done, then destroys everything the
// session created on the render surface.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	s.logger.Info("session started", "mode", s.engine.Mode())

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.exec(ev)
		}
	}
}

// Done is closed once Run returned and teardown finished
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ApplyBuses records the latest bus snapshot, updates latency and reconciles.
func (s *Session) ApplyBuses(ctx context.Context, buses []*domain.Bus) error {
	return s.do(ctx, func() {
		s.buses = buses
		for _, b := range buses {
			s.latency.Observe(b.Plate, b.Timestamp)
		}
		s.reconcile()
	})
}

// ApplyPOIs replaces the point-of-interest set and reconciles.
func (s *Session) ApplyPOIs(ctx context.Context, pois []*domain.POI) error {
	return s.do(ctx, func() {
		s.pois = pois
		s.reconcile()
	})
}

// SurfaceChanged re-runs reconciliation, e.g. once the render surface became ready.
func (s *Session) SurfaceChanged(ctx context.Context) error {
	return s.do(ctx, s.reconcile)
}

func (s *Session) Click(ctx context.Context, h domain.Handle) error {
	var err error
	if derr := s.do(ctx, func() { err = s.click(h) }); derr != nil {
		return derr
	}
	return err
}

func (s *Session) Dismiss(ctx context.Context) error {
	return s.do(ctx, s.selection.OnDismiss)
}

func (s *Session) Selection(ctx context.Context) (*domain.Selection, error) {
	var sel *domain.Selection
	err := s.do(ctx, func() { sel = s.selection.Current() })
	return sel, err
}

func (s *Session) Latency(ctx context.Context) ([]latency.Row, error) {
	var rows []latency.Row
	err := s.do(ctx, func() { rows = s.latency.Snapshot() })
	return rows, err
}

func (s *Session) Markers(ctx context.Context) (domain.MarkerSet, error) {
	var set domain.MarkerSet
	err := s.do(ctx, func() {
		set = make(domain.MarkerSet, len(s.markers))
		copy(set, s.markers)
	})
	return set, err
}

func (s *Session) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.do(ctx, func() {
		st = s.stats
		st.Buses = len(s.buses)
		st.POIs = len(s.pois)
		st.Markers = len(s.markers)
		st.Tracked = s.latency.Len()
		st.Selected = s.selection.Current() != nil
	})
	return st, err
}

func (s *Session) reconcile() {
	snapshot := make([]domain.Placeable, 0, len(s.buses)+len(s.pois))
	for _, b := range s.buses {
		snapshot = append(snapshot, b)
	}
	for _, p := range s.pois {
		snapshot = append(snapshot, p)
	}

	next, res := s.engine.Reconcile(s.markers, snapshot)
	if res.Skipped {
		return
	}
	s.markers = next
	s.stats.Passes++
	s.stats.LastPass = res
	s.stats.LastPassAt = time.Now()

	s.selection.Reanchor(next)
}

func (s *Session) click(h domain.Handle) error {
	m, ok := s.markers.Find(h)
	if !ok {
		return ErrUnknownMarker
	}
	return s.selection.OnMarkerClick(m)
}

// onMarkerClick is invoked by the surface, possibly from another goroutine.
func (s *Session) onMarkerClick(m domain.Marker) {
	ev := func() {
		if err := s.click(m.Handle); err != nil {
			s.logger.Debug("ignoring marker click", "handle", m.Handle, "identity", m.Identity, "error", err)
		}
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) teardown() {
	s.selection.OnDismiss()
	destroyed := s.engine.Teardown(s.markers)
	s.markers = nil
	s.logger.Info("session torn down", "markers_destroyed", destroyed)
}

func (s *Session) exec(ev func()) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.Recovered++
			s.logger.Error("session event panicked", "panic", r)
		}
	}()
	ev()
}

func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	ev := func() {
		defer close(finished)
		fn()
	}

	select {
	case s.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}
