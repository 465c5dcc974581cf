package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"jejubus/internal/domain"
	"jejubus/internal/latency"
	"jejubus/internal/session"
)

// SessionHandler exposes the detail panel, the latency table and the marker set
type SessionHandler struct {
	session *session.Session
	logger  *slog.Logger
}

func NewSessionHandler(s *session.Session, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		session: s,
		logger:  logger.With("handler", "session"),
	}
}

type SelectionResponse struct {
	Selection  *domain.Selection `json:"selection"`
	ServerTime time.Time         `json:"serverTime"`
}

type LatencyResponse struct {
	Rows       []latency.Row `json:"rows"`
	ServerTime time.Time     `json:"serverTime"`
}

type MarkersResponse struct {
	Markers domain.MarkerSet `json:"markers"`
	Count   int              `json:"count"`
}

func (h *SessionHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	sel, err := h.session.Selection(r.Context())
	if err != nil {
		h.sessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, SelectionResponse{Selection: sel, ServerTime: time.Now()})
}

func (h *SessionHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Dismiss(r.Context()); err != nil {
		h.sessionError(w, err)
		return
	}
	h.GetSelection(w, r)
}

func (h *SessionHandler) Click(w http.ResponseWriter, r *http.Request) {
	handle := domain.Handle(r.PathValue("handle"))
	if handle == "" {
		respondError(w, http.StatusBadRequest, "missing marker handle")
		return
	}

	if err := h.session.Click(r.Context(), handle); err != nil {
		if errors.Is(err, session.ErrUnknownMarker) {
			respondError(w, http.StatusNotFound, "marker not found")
			return
		}
		h.sessionError(w, err)
		return
	}
	h.GetSelection(w, r)
}

func (h *SessionHandler) GetLatency(w http.ResponseWriter, r *http.Request) {
	rows, err := h.session.Latency(r.Context())
	if err != nil {
		h.sessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, LatencyResponse{Rows: rows, ServerTime: time.Now()})
}

func (h *SessionHandler) ListMarkers(w http.ResponseWriter, r *http.Request) {
	set, err := h.session.Markers(r.Context())
	if err != nil {
		h.sessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, MarkersResponse{Markers: set, Count: len(set)})
}

func (h *SessionHandler) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "session closed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.logger.Error("session request failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
