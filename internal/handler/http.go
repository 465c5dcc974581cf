package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jejubus/internal/domain"
	"jejubus/internal/store"
)

type HTTPHandler struct {
	store    *store.Store
	poiStore *store.POIStore
}

func NewHTTPHandler(store *store.Store, poiStore *store.POIStore) *HTTPHandler {
	return &HTTPHandler{store: store, poiStore: poiStore}
}

type VehiclesResponse struct {
	Vehicles   []*domain.Bus `json:"vehicles"`
	Count      int           `json:"count"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	ServerTime time.Time     `json:"serverTime"`
}

type POIsResponse struct {
	POIs       []*domain.POI `json:"pois"`
	Count      int           `json:"count"`
	ServerTime time.Time     `json:"serverTime"`
}

func (h *HTTPHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{
		Route: r.URL.Query().Get("route"),
	}

	if bboxStr := r.URL.Query().Get("bbox"); bboxStr != "" {
		parts := strings.Split(bboxStr, ",")
		if len(parts) != 4 {
			respondError(w, http.StatusBadRequest, "invalid bbox format: expected minLat,minLon,maxLat,maxLon")
			return
		}
		bbox, err := parseBBox(parts)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid bbox values: "+err.Error())
			return
		}
		opts.BBox = bbox
	}

	vehicles := h.store.List(opts)

	respondJSON(w, http.StatusOK, VehiclesResponse{
		Vehicles:   vehicles,
		Count:      len(vehicles),
		UpdatedAt:  h.store.UpdatedAt(),
		ServerTime: time.Now(),
	})
}

func (h *HTTPHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	plate := r.PathValue("plate")
	if plate == "" {
		respondError(w, http.StatusBadRequest, "missing plate")
		return
	}

	bus, ok := h.store.Get(plate)
	if !ok {
		respondError(w, http.StatusNotFound, "vehicle not found")
		return
	}

	respondJSON(w, http.StatusOK, bus)
}

func (h *HTTPHandler) ListPOIs(w http.ResponseWriter, r *http.Request) {
	pois := h.poiStore.GetAll()
	respondJSON(w, http.StatusOK, POIsResponse{
		POIs:       pois,
		Count:      len(pois),
		ServerTime: time.Now(),
	})
}

func (h *HTTPHandler) GetPOI(w http.ResponseWriter, r *http.Request) {
	poi, ok := h.poiStore.Get(r.PathValue("id"))
	if !ok {
		respondError(w, http.StatusNotFound, "point of interest not found")
		return
	}
	respondJSON(w, http.StatusOK, poi)
}

func parseBBox(parts []string) (*domain.BoundingBox, error) {
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return &domain.BoundingBox{
		MinLat: vals[0], MinLon: vals[1],
		MaxLat: vals[2], MaxLon: vals[3],
	}, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
