package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"jejubus/internal/ingestor"
	"jejubus/internal/store"
)

type HealthHandler struct {
	ingestor *ingestor.Ingestor
	store    *store.Store
	poiStore *store.POIStore
}

func NewHealthHandler(ing *ingestor.Ingestor, s *store.Store, pois *store.POIStore) *HealthHandler {
	return &HealthHandler{
		ingestor: ing,
		store:    s,
		poiStore: pois,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready        bool      `json:"ready"`
	VehicleCount int       `json:"vehicleCount"`
	POICount     int       `json:"poiCount"`
	POIsLoaded   bool      `json:"poisLoaded"`
	ServerTime   time.Time `json:"serverTime"`
}

// Readyz reports ready once the first position snapshot has been applied.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := h.ingestor.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ReadyResponse{
		Ready:        ready,
		VehicleCount: h.store.Count(),
		POICount:     h.poiStore.Count(),
		POIsLoaded:   h.poiStore.IsLoaded(),
		ServerTime:   time.Now(),
	})
}
