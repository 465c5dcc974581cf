package busapi

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"jejubus/internal/domain"
)

// GTFSRTClient reads bus positions from a GTFS-Realtime VehiclePositions feed
type GTFSRTClient struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

func NewGTFSRT(url string, timeout time.Duration) *GTFSRTClient {
	return &GTFSRTClient{
		url:        url,
		httpClient: newHTTPClient(timeout),
		now:        time.Now,
	}
}

func (c *GTFSRTClient) FetchBuses(ctx context.Context) ([]*domain.Bus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/x-protobuf")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var feed gtfs.FeedMessage
	if err := proto.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decoding feed: %w", err)
	}
	return c.toDomain(&feed), nil
}

func (c *GTFSRTClient) toDomain(feed *gtfs.FeedMessage) []*domain.Bus {
	result := make([]*domain.Bus, 0, len(feed.GetEntity()))
	fetchedAt := c.now()

	for _, ent := range feed.GetEntity() {
		vp := ent.GetVehicle()
		if vp == nil {
			continue
		}

		plate := vp.GetVehicle().GetLicensePlate()
		if plate == "" {
			plate = vp.GetVehicle().GetId()
		}
		if plate == "" {
			continue
		}

		lat, lon := math.NaN(), math.NaN()
		if pos := vp.GetPosition(); pos != nil {
			lat = float64(pos.GetLatitude())
			lon = float64(pos.GetLongitude())
		}

		ts := fetchedAt
		if vp.Timestamp != nil {
			ts = time.Unix(int64(vp.GetTimestamp()), 0)
		}

		result = append(result, &domain.Bus{
			Plate:       plate,
			Lat:         lat,
			Lon:         lon,
			RouteID:     vp.GetTrip().GetRouteId(),
			CurrentStop: vp.GetStopId(),
			Timestamp:   ts,
		})
	}
	return result
}
