package handler

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"jejubus/internal/hub"
	"jejubus/internal/ingestor"
	"jejubus/internal/session"
)

// Stats tracks server-wide metrics
type Stats struct {
	startTime        time.Time
	requestCount     atomic.Int64
	wsConnections    atomic.Int64
	wsMessagesIn     atomic.Int64
	wsMessagesOut    atomic.Int64
	rateLimitBlocked atomic.Int64
}

// Global stats instance
var ServerStats = &Stats{
	startTime: time.Now(),
}

func (s *Stats) IncRequests()         { s.requestCount.Add(1) }
func (s *Stats) IncWSConnections()    { s.wsConnections.Add(1) }
func (s *Stats) DecWSConnections()    { s.wsConnections.Add(-1) }
func (s *Stats) IncWSMessagesIn()     { s.wsMessagesIn.Add(1) }
func (s *Stats) IncWSMessagesOut()    { s.wsMessagesOut.Add(1) }
func (s *Stats) IncRateLimitBlocked() { s.rateLimitBlocked.Add(1) }

type StatsHandler struct {
	session  *session.Session
	ingestor *ingestor.Ingestor
	hub      *hub.Hub
}

func NewStatsHandler(s *session.Session, ing *ingestor.Ingestor, h *hub.Hub) *StatsHandler {
	return &StatsHandler{
		session:  s,
		ingestor: ing,
		hub:      h,
	}
}

type StatsResponse struct {
	Server    ServerStatsResponse    `json:"server"`
	Session   *session.Stats         `json:"session"`
	Ingest    ingestor.Stats         `json:"ingest"`
	WebSocket WebSocketStatsResponse `json:"websocket"`
	Go        GoStatsResponse        `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	RequestCount  int64     `json:"request_count"`
	RateLimited   int64     `json:"rate_limited"`
	Version       string    `json:"version"`
}

type WebSocketStatsResponse struct {
	Connections int64 `json:"connections"`
	Registered  int   `json:"registered"`
	Markers     int   `json:"markers"`
	MessagesIn  int64 `json:"messages_in"`
	MessagesOut int64 `json:"messages_out"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(ServerStats.startTime)

	// null once the session has shut down
	var sessStats *session.Stats
	if st, err := h.session.Stats(r.Context()); err == nil {
		sessStats = &st
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	response := StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     ServerStats.startTime,
			RequestCount:  ServerStats.requestCount.Load(),
			RateLimited:   ServerStats.rateLimitBlocked.Load(),
			Version:       "1.0.0",
		},
		Session: sessStats,
		Ingest:  h.ingestor.Stats(),
		WebSocket: WebSocketStatsResponse{
			Connections: ServerStats.wsConnections.Load(),
			Registered:  h.hub.ClientCount(),
			Markers:     h.hub.MarkerCount(),
			MessagesIn:  ServerStats.wsMessagesIn.Load(),
			MessagesOut: ServerStats.wsMessagesOut.Load(),
		},
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}

	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, response)
}
