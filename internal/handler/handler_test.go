package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"jejubus/internal/domain"
	"jejubus/internal/reconcile"
	"jejubus/internal/render"
	"jejubus/internal/selection"
	"jejubus/internal/session"
	"jejubus/internal/store"
)

var t0 = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func startSession(t *testing.T, surface render.Surface, panel selection.Panel) *session.Session {
	t.Helper()
	s := session.New(surface, panel, session.Options{Mode: reconcile.ModeReplace, TrackedPlates: []string{"A1"}}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return s
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("unexpected decode err: %v", err)
	}
}

func testBuses() []*domain.Bus {
	return []*domain.Bus{
		{Plate: "A1", Lat: 33.45, Lon: 126.57, RouteID: "201", Timestamp: t0},
		{Plate: "B2", Lat: 33.25, Lon: 126.56, RouteID: "202", Timestamp: t0},
		{Plate: "C3", Lat: 33.50, Lon: 126.52, RouteID: "201", Timestamp: t0},
	}
}

func TestListVehicles(t *testing.T) {
	s := store.New()
	s.Replace(testBuses())
	h := NewHTTPHandler(s, store.NewPOIStore())

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{"all", "", http.StatusOK, 3},
		{"by route", "?route=201", http.StatusOK, 2},
		{"by bbox", "?bbox=33.4,126.5,33.6,126.6", http.StatusOK, 2},
		{"route and bbox", "?route=202&bbox=33.4,126.5,33.6,126.6", http.StatusOK, 0},
		{"bbox wrong arity", "?bbox=1,2,3", http.StatusBadRequest, 0},
		{"bbox not numeric", "?bbox=a,b,c,d", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ListVehicles(rec, httptest.NewRequest(http.MethodGet, "/v1/vehicles"+tt.query, nil))
			if rec.Code != tt.status {
				t.Fatalf("expected status %d; got %d", tt.status, rec.Code)
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp VehiclesResponse
			decode(t, rec, &resp)
			if resp.Count != tt.count || len(resp.Vehicles) != tt.count {
				t.Fatalf("expected %d vehicles; got %d", tt.count, resp.Count)
			}
		})
	}
}

func TestGetVehicle(t *testing.T) {
	s := store.New()
	s.Replace(testBuses())
	h := NewHTTPHandler(s, store.NewPOIStore())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/vehicles/{plate}", h.GetVehicle)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/vehicles/B2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200; got %d", rec.Code)
	}
	var bus domain.Bus
	decode(t, rec, &bus)
	if bus.Plate != "B2" || bus.RouteID != "202" {
		t.Fatalf("expected B2 on route 202; got %+v", bus)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/vehicles/ZZ", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404; got %d", rec.Code)
	}
}

func TestPOIEndpoints(t *testing.T) {
	pois := store.NewPOIStore()
	pois.UpdateAll([]*domain.POI{
		{ID: "7", Title: "Seongsan", Lat: 33.46, Lon: 126.94},
		{Title: "Hallasan", Lat: 33.36, Lon: 126.53},
	})
	h := NewHTTPHandler(store.New(), pois)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/pois", h.ListPOIs)
	mux.HandleFunc("GET /v1/pois/{id}", h.GetPOI)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pois", nil))
	var list POIsResponse
	decode(t, rec, &list)
	if list.Count != 2 {
		t.Fatalf("expected 2 pois; got %d", list.Count)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pois/7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200; got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pois/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404; got %d", rec.Code)
	}
}

func sessionMux(h *SessionHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/markers", h.ListMarkers)
	mux.HandleFunc("POST /v1/markers/{handle}/click", h.Click)
	mux.HandleFunc("GET /v1/selection", h.GetSelection)
	mux.HandleFunc("POST /v1/selection/dismiss", h.Dismiss)
	mux.HandleFunc("GET /v1/latency", h.GetLatency)
	return mux
}

func TestSessionHandler_ClickAndDismiss(t *testing.T) {
	surface := render.NewMemory()
	sess := startSession(t, surface, nil)
	if err := sess.ApplyBuses(testCtx(t), testBuses()[:1]); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	mux := sessionMux(NewSessionHandler(sess, discard()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/markers", nil))
	var markers struct {
		Markers []struct {
			Handle   domain.Handle `json:"handle"`
			Identity string        `json:"identity"`
		} `json:"markers"`
		Count int `json:"count"`
	}
	decode(t, rec, &markers)
	if markers.Count != 1 || markers.Markers[0].Identity != "A1" {
		t.Fatalf("expected one marker for A1; got %+v", markers)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/markers/"+string(markers.Markers[0].Handle)+"/click", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200; got %d", rec.Code)
	}
	var sel struct {
		Selection *struct {
			Identity string        `json:"identity"`
			Anchor   domain.Handle `json:"anchor"`
		} `json:"selection"`
	}
	decode(t, rec, &sel)
	if sel.Selection == nil || sel.Selection.Identity != "A1" || sel.Selection.Anchor != markers.Markers[0].Handle {
		t.Fatalf("expected A1 selected; got %+v", sel.Selection)
	}
	if n := len(surface.OpenOverlays()); n != 1 {
		t.Fatalf("expected 1 open overlay; got %d", n)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/selection/dismiss", nil))
	sel.Selection = nil
	decode(t, rec, &sel)
	if sel.Selection != nil {
		t.Fatalf("expected idle selection; got %+v", sel.Selection)
	}
	if n := len(surface.OpenOverlays()); n != 0 {
		t.Fatalf("expected no open overlay; got %d", n)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/markers/m-unknown/click", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown marker; got %d", rec.Code)
	}
}

func TestSessionHandler_Latency(t *testing.T) {
	sess := startSession(t, render.NewMemory(), nil)
	ctx := testCtx(t)
	sess.ApplyBuses(ctx, []*domain.Bus{{Plate: "A1", Lat: 33.45, Lon: 126.57, Timestamp: t0}})
	sess.ApplyBuses(ctx, []*domain.Bus{{Plate: "A1", Lat: 33.45, Lon: 126.57, Timestamp: t0.Add(7 * time.Second)}})

	rec := httptest.NewRecorder()
	sessionMux(NewSessionHandler(sess, discard())).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/latency", nil))
	var resp struct {
		Rows []struct {
			Identity     string `json:"identity"`
			DeltaSeconds int64  `json:"deltaSeconds"`
		} `json:"rows"`
	}
	decode(t, rec, &resp)
	if len(resp.Rows) != 1 || resp.Rows[0].Identity != "A1" || resp.Rows[0].DeltaSeconds != 7 {
		t.Fatalf("expected A1 with delta 7; got %+v", resp.Rows)
	}
}

func TestSessionHandler_Closed(t *testing.T) {
	sess := session.New(render.NewMemory(), nil, session.Options{}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	go sess.Run(ctx)
	cancel()
	<-sess.Done()

	rec := httptest.NewRecorder()
	sessionMux(NewSessionHandler(sess, discard())).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/selection", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown; got %d", rec.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/selection", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight; got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected allow-origin header")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/selection", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected request to reach the handler; got %d", rec.Code)
	}
}
