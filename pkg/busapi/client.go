package busapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jejubus/internal/domain"
)

// ErrMalformedResponse is returned when a feed body decodes but lacks the expected collection.
var ErrMalformedResponse = errors.New("malformed feed response")

// Client reads the JSON bus position feed and the points-of-interest feed
type Client struct {
	positionURL string
	poiURL      string
	httpClient  *http.Client
	now         func() time.Time
}

func New(positionURL, poiURL string, timeout time.Duration) *Client {
	return &Client{
		positionURL: positionURL,
		poiURL:      poiURL,
		httpClient:  newHTTPClient(timeout),
		now:         time.Now,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Coord accepts a JSON number or a numeric string. Anything else decodes to
// NaN so the item is dropped downstream instead of failing the whole response.
type Coord float64

func (c *Coord) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*c = Coord(math.NaN())
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f = math.NaN()
	}
	*c = Coord(f)
	return nil
}

// Timestamp accepts RFC3339 strings, "2006-01-02 15:04:05" strings or epoch milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms)
		return nil
	}
	unq, err := strconv.Unquote(s)
	if err != nil {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateTime} {
		if ts, err := time.Parse(layout, unq); err == nil {
			t.Time = ts
			return nil
		}
	}
	if ms, err := strconv.ParseInt(unq, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms)
	}
	return nil
}

type apiBus struct {
	PlateNo     string    `json:"plateNo"`
	Lat         *Coord    `json:"lat"`
	Latitude    *Coord    `json:"latitude"`
	Lng         *Coord    `json:"lng"`
	Longitude   *Coord    `json:"longitude"`
	RouteID     string    `json:"routeId"`
	CurrentStop string    `json:"currentStop"`
	Timestamp   Timestamp `json:"timestamp"`
}

type apiPOIResponse struct {
	Items *[]apiPOI `json:"items"`
	Error string    `json:"error,omitempty"`
}

type apiPOI struct {
	ID          FlexString      `json:"id"`
	Title       string          `json:"title"`
	Latitude    *Coord          `json:"latitude"`
	Longitude   *Coord          `json:"longitude"`
	Address     string          `json:"address"`
	Description string          `json:"description"`
	Phone       string          `json:"phone"`
	Image       json.RawMessage `json:"image,omitempty"`
}

type apiImage struct {
	File *struct {
		Path string `json:"path"`
	} `json:"file,omitempty"`
}

// FlexString accepts a JSON string or number
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if unq, err := strconv.Unquote(s); err == nil {
		*f = FlexString(unq)
		return nil
	}
	if s == "null" {
		*f = ""
		return nil
	}
	*f = FlexString(s)
	return nil
}

// imagePath digs the optional image.file.path out of raw; any other shape means no image.
func imagePath(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var img apiImage
	if err := json.Unmarshal(raw, &img); err != nil || img.File == nil {
		return ""
	}
	return img.File.Path
}

// FetchBuses returns the current bus snapshot
func (c *Client) FetchBuses(ctx context.Context) ([]*domain.Bus, error) {
	var apiBuses *[]apiBus
	if err := c.getJSON(ctx, c.positionURL, &apiBuses); err != nil {
		return nil, err
	}
	if apiBuses == nil {
		return nil, ErrMalformedResponse
	}
	return c.busesToDomain(*apiBuses), nil
}

// FetchPOIs returns the points of interest
func (c *Client) FetchPOIs(ctx context.Context) ([]*domain.POI, error) {
	if c.poiURL == "" {
		return nil, nil
	}

	var resp *apiPOIResponse
	if err := c.getJSON(ctx, c.poiURL, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrMalformedResponse
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("API error: %s", resp.Error)
	}
	if resp.Items == nil {
		return nil, fmt.Errorf("missing items: %w", ErrMalformedResponse)
	}
	return poisToDomain(*resp.Items), nil
}

func (c *Client) getJSON(ctx context.Context, url string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) busesToDomain(apiBuses []apiBus) []*domain.Bus {
	result := make([]*domain.Bus, 0, len(apiBuses))
	fetchedAt := c.now()

	for _, ab := range apiBuses {
		plate := strings.TrimSpace(ab.PlateNo)
		if plate == "" {
			continue
		}

		ts := ab.Timestamp.Time
		if ts.IsZero() {
			ts = fetchedAt
		}

		result = append(result, &domain.Bus{
			Plate:       plate,
			Lat:         firstCoord(ab.Lat, ab.Latitude),
			Lon:         firstCoord(ab.Lng, ab.Longitude),
			RouteID:     ab.RouteID,
			CurrentStop: ab.CurrentStop,
			Timestamp:   ts,
		})
	}
	return result
}

func poisToDomain(items []apiPOI) []*domain.POI {
	result := make([]*domain.POI, 0, len(items))
	for _, it := range items {
		p := &domain.POI{
			ID:          string(it.ID),
			Title:       it.Title,
			Lat:         firstCoord(it.Latitude),
			Lon:         firstCoord(it.Longitude),
			Address:     it.Address,
			Description: it.Description,
			Phone:       it.Phone,
			ImageRef:    imagePath(it.Image),
		}
		if p.Identity() == "" {
			continue
		}
		result = append(result, p)
	}
	return result
}

func firstCoord(cs ...*Coord) float64 {
	for _, c := range cs {
		if c != nil {
			return float64(*c)
		}
	}
	return math.NaN()
}
