package busapi

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

func serve(t *testing.T, status int, contentType string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchBuses(t *testing.T) {
	body := `[
		{"plateNo":"제주79자7117","lat":33.45,"lng":126.57,"routeId":"201","currentStop":"City Hall","timestamp":"2024-09-01T10:00:00Z"},
		{"plateNo":"제주79자7122","latitude":"33.46","longitude":"126.58","timestamp":1725184807000},
		{"plateNo":"bad","lat":"north","lng":126.5},
		{"plateNo":"","lat":1,"lng":1}
	]`
	srv := serve(t, http.StatusOK, "application/json", []byte(body))

	c := New(srv.URL, "", 5*time.Second)
	fixed := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	buses, err := c.FetchBuses(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(buses) != 3 {
		t.Fatalf("expected 3 buses; got %d", len(buses))
	}

	if buses[0].Lat != 33.45 || buses[0].RouteID != "201" || !buses[0].Timestamp.Equal(time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first bus: %+v", buses[0])
	}
	if buses[1].Lat != 33.46 || buses[1].Lon != 126.58 || buses[1].Timestamp.UnixMilli() != 1725184807000 {
		t.Fatalf("unexpected second bus: %+v", buses[1])
	}
	if !math.IsNaN(buses[2].Lat) {
		t.Fatalf("expected NaN latitude for malformed coordinate; got %v", buses[2].Lat)
	}
	if !buses[2].Timestamp.Equal(fixed) {
		t.Fatalf("expected fetch time fallback; got %v", buses[2].Timestamp)
	}
}

func TestFetchBuses_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"status", http.StatusBadGateway, `[]`},
		{"malformed", http.StatusOK, `{"not":"a list"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, "application/json", []byte(tt.body))
			if _, err := New(srv.URL, "", time.Second).FetchBuses(context.Background()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestFetchPOIs(t *testing.T) {
	body := `{"items":[
		{"id":1,"title":"Dongmun Market","latitude":33.51,"longitude":126.52,"address":"Jeju-si","phone":"064-752-3001","image":{"file":{"path":"/img/market.jpg"}}},
		{"id":"p2","title":"Beach","latitude":33.39,"longitude":126.23,"image":"broken"},
		{"title":"No Coords"}
	]}`
	srv := serve(t, http.StatusOK, "application/json", []byte(body))

	pois, err := New("", srv.URL, time.Second).FetchPOIs(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(pois) != 3 {
		t.Fatalf("expected 3 pois; got %d", len(pois))
	}
	if pois[0].ID != "1" || pois[0].ImageRef != "/img/market.jpg" {
		t.Fatalf("unexpected first poi: %+v", pois[0])
	}
	if pois[1].ID != "p2" || pois[1].ImageRef != "" {
		t.Fatalf("expected malformed image to mean no image; got %+v", pois[1])
	}
	if pois[2].Identity() != "No Coords" || !math.IsNaN(pois[2].Lat) {
		t.Fatalf("expected title identity and NaN coords; got %+v", pois[2])
	}
}

func TestFetchBuses_MalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"null", `null`},
		{"object", `{}`},
		{"string", `"buses"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, http.StatusOK, "application/json", []byte(tt.body))
			buses, err := New(srv.URL, "", time.Second).FetchBuses(context.Background())
			if err == nil {
				t.Fatalf("expected error for body %s; got %d buses", tt.body, len(buses))
			}
		})
	}

	srv := serve(t, http.StatusOK, "application/json", []byte(`null`))
	if _, err := New(srv.URL, "", time.Second).FetchBuses(context.Background()); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse; got %v", err)
	}
}

func TestFetchBuses_EmptyArrayIsValid(t *testing.T) {
	srv := serve(t, http.StatusOK, "application/json", []byte(`[]`))
	buses, err := New(srv.URL, "", time.Second).FetchBuses(context.Background())
	if err != nil || len(buses) != 0 {
		t.Fatalf("expected empty snapshot without error; got %d, %v", len(buses), err)
	}
}

func TestFetchPOIs_MalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"null", `null`},
		{"no items", `{}`},
		{"null items", `{"items":null}`},
		{"api error", `{"error":"quota exceeded"}`},
		{"array", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, http.StatusOK, "application/json", []byte(tt.body))
			pois, err := New("", srv.URL, time.Second).FetchPOIs(context.Background())
			if err == nil {
				t.Fatalf("expected error for body %s; got %d pois", tt.body, len(pois))
			}
		})
	}
}

func TestFetchPOIs_NoURL(t *testing.T) {
	pois, err := New("http://unused", "", time.Second).FetchPOIs(context.Background())
	if err != nil || pois != nil {
		t.Fatalf("expected nil, nil; got %v, %v", pois, err)
	}
}

func TestGTFSRT(t *testing.T) {
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("1"),
				Vehicle: &gtfs.VehiclePosition{
					Vehicle:   &gtfs.VehicleDescriptor{Id: proto.String("v1"), LicensePlate: proto.String("제주79자7111")},
					Position:  &gtfs.Position{Latitude: proto.Float32(33.5), Longitude: proto.Float32(126.5)},
					Trip:      &gtfs.TripDescriptor{RouteId: proto.String("365")},
					StopId:    proto.String("s-10"),
					Timestamp: proto.Uint64(1_725_184_800),
				},
			},
			{
				Id:      proto.String("2"),
				Vehicle: &gtfs.VehiclePosition{Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("v2")}},
			},
			{Id: proto.String("3")},
		},
	}
	data, err := proto.Marshal(feed)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	srv := serve(t, http.StatusOK, "application/x-protobuf", data)

	buses, err := NewGTFSRT(srv.URL, time.Second).FetchBuses(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(buses) != 2 {
		t.Fatalf("expected 2 buses; got %d", len(buses))
	}
	if buses[0].Plate != "제주79자7111" || buses[0].RouteID != "365" || buses[0].CurrentStop != "s-10" || buses[0].Timestamp.Unix() != 1_725_184_800 {
		t.Fatalf("unexpected first bus: %+v", buses[0])
	}
	if buses[1].Plate != "v2" || !math.IsNaN(buses[1].Lat) {
		t.Fatalf("expected id fallback and NaN position; got %+v", buses[1])
	}
}
