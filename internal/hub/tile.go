package hub

import (
	"errors"
	"fmt"
	"math"
)

// MaxSubscribeTiles bounds how many tiles a bbox subscription may expand to
const MaxSubscribeTiles = 1024

var ErrTooManyTiles = errors.New("bounding box covers too many tiles")

// TileID calculates tile ID for given coordinates at specified zoom level
// Uses Web Mercator (slippy map) tile scheme
func TileID(lat, lon float64, zoom int) string {
	n := math.Pow(2, float64(zoom))
	x := int(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	x = clamp(x, 0, maxTile)
	y = clamp(y, 0, maxTile)

	return fmt.Sprintf("%d/%d/%d", zoom, x, y)
}

// ParseTileID extracts zoom, x, y from a tile ID string
func ParseTileID(tileID string) (zoom, x, y int, ok bool) {
	n, err := fmt.Sscanf(tileID, "%d/%d/%d", &zoom, &x, &y)
	if err != nil || n != 3 {
		return 0, 0, 0, false
	}
	return zoom, x, y, true
}

// TilesInBBox returns all tile IDs that intersect the given bounding box
func TilesInBBox(minLat, minLon, maxLat, maxLon float64, zoom int) ([]string, error) {
	topLeft := TileID(maxLat, minLon, zoom)
	bottomRight := TileID(minLat, maxLon, zoom)

	z1, x1, y1, ok1 := ParseTileID(topLeft)
	z2, x2, y2, ok2 := ParseTileID(bottomRight)

	if !ok1 || !ok2 || z1 != z2 {
		return nil, fmt.Errorf("invalid bounding box")
	}
	if x2 < x1 || y2 < y1 {
		return nil, fmt.Errorf("invalid bounding box: min exceeds max")
	}
	if (x2-x1+1)*(y2-y1+1) > MaxSubscribeTiles {
		return nil, ErrTooManyTiles
	}

	tiles := make([]string, 0, (x2-x1+1)*(y2-y1+1))
	for x := x1; x <= x2; x++ {
		for y := y1; y <= y2; y++ {
			tiles = append(tiles, fmt.Sprintf("%d/%d/%d", zoom, x, y))
		}
	}
	return tiles, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
