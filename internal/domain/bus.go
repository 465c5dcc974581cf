package domain

import (
	"math"
	"time"
)

// Kind distinguishes the two sorts of things drawn on the map
type Kind string

const (
	KindBus Kind = "bus"
	KindPOI Kind = "poi"
)

func (k Kind) String() string {
	return string(k)
}

// Placeable is anything that can be bound to a marker
type Placeable interface {
	Identity() string
	Kind() Kind
	Position() (lat, lon float64)
}

// Bus is a single observed vehicle position. Plate is stable across snapshots.
type Bus struct {
	Plate       string    `json:"plate"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	RouteID     string    `json:"routeId"`
	CurrentStop string    `json:"currentStop"`
	Timestamp   time.Time `json:"timestamp"`
}

func (b *Bus) Identity() string             { return b.Plate }
func (b *Bus) Kind() Kind                   { return KindBus }
func (b *Bus) Position() (float64, float64) { return b.Lat, b.Lon }

// POI is a static point of interest. ImageRef is empty when the feed carried no image.
type POI struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Address     string  `json:"address"`
	Description string  `json:"description"`
	Phone       string  `json:"phone"`
	ImageRef    string  `json:"imageRef,omitempty"`
}

func (p *POI) Identity() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Title
}

func (p *POI) Kind() Kind                   { return KindPOI }
func (p *POI) Position() (float64, float64) { return p.Lat, p.Lon }

// ValidPosition reports whether lat/lon are finite and inside WGS84 bounds
func ValidPosition(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// BoundingBox represents a geographic rectangle
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// Contains checks if a point is within the bounding box
func (bb *BoundingBox) Contains(lat, lon float64) bool {
	return lat >= bb.MinLat && lat <= bb.MaxLat &&
		lon >= bb.MinLon && lon <= bb.MaxLon
}
