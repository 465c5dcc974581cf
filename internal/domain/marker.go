package domain

import "time"

// Handle identifies a marker or overlay on the render surface
type Handle string

// Marker is a rendered marker bound to one identity at creation time
type Marker struct {
	Handle   Handle    `json:"handle"`
	Kind     Kind      `json:"kind"`
	Identity string    `json:"identity"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Item     Placeable `json:"item"`
}

// MarkerSet is the set of live markers produced by one reconcile pass
type MarkerSet []Marker

// Identities returns the bound identities in set order
func (s MarkerSet) Identities() []string {
	ids := make([]string, 0, len(s))
	for _, m := range s {
		ids = append(ids, m.Identity)
	}
	return ids
}

func (s MarkerSet) Find(h Handle) (Marker, bool) {
	for _, m := range s {
		if m.Handle == h {
			return m, true
		}
	}
	return Marker{}, false
}

func (s MarkerSet) FindIdentity(kind Kind, identity string) (Marker, bool) {
	for _, m := range s {
		if m.Kind == kind && m.Identity == identity {
			return m, true
		}
	}
	return Marker{}, false
}

// Selection is the currently selected marker and its open overlay. A nil *Selection means idle.
type Selection struct {
	Kind     Kind      `json:"kind"`
	Identity string    `json:"identity"`
	Item     Placeable `json:"item"`
	Overlay  Handle    `json:"overlay"`
	Anchor   Handle    `json:"anchor"`
}

// OverlayContent is what a detail popup shows
type OverlayContent struct {
	Kind     Kind         `json:"kind"`
	Title    string       `json:"title"`
	Fields   []OverlayRow `json:"fields"`
	ImageRef string       `json:"imageRef,omitempty"`
}

type OverlayRow struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// LatencyRecord keeps the two latest observation timestamps of one identity
type LatencyRecord struct {
	LastTimestamp     time.Time `json:"lastTimestamp"`
	PreviousTimestamp time.Time `json:"previousTimestamp"`
	DeltaSeconds      int64     `json:"deltaSeconds"`
}
