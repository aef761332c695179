package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Queue         QueueMetrics    `json:"queue"`
	Worker        WorkerMetrics   `json:"worker"`
	Engine        *EngineMetrics  `json:"engine,omitempty"`
	Events        EventMetrics    `json:"events"`
	WebSocket     WSMetrics       `json:"websocket"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// QueueMetrics contains ingress queue depth by priority tier.
type QueueMetrics struct {
	High   int `json:"high"`
	Normal int `json:"normal"`
	Total  int `json:"total"`
}

// WorkerMetrics contains task worker statistics.
type WorkerMetrics struct {
	TasksExecuted   uint64 `json:"tasks_executed"`
	TasksFailed     uint64 `json:"tasks_failed"`
	InitFailures    uint64 `json:"init_failures"`
	UnknownJobIDs   uint64 `json:"unknown_job_ids"`
	DuplicateJobIDs uint64 `json:"duplicate_job_ids"`
}

// EngineMetrics contains engine session statistics. Absent until the
// worker initialises the session.
type EngineMetrics struct {
	Connected       bool   `json:"connected"`
	Reconnecting    bool   `json:"reconnecting"`
	RequestsTx      uint64 `json:"requests_tx"`
	EventsRx        uint64 `json:"events_rx"`
	EventsDropped   uint64 `json:"events_dropped"`
	ErrorsTotal     uint64 `json:"errors_total"`
	ReconnectsTotal uint64 `json:"reconnects_total"`
}

// EventMetrics contains progress bus statistics.
type EventMetrics struct {
	Subscribers   int    `json:"subscribers"`
	EventsDropped uint64 `json:"events_dropped"`
}

// WSMetrics contains WebSocket statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	high, normal := s.queue.Depth()
	workerStats := s.worker.Stats()
	busStats := s.bus.Stats()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Queue: QueueMetrics{
			High:   high,
			Normal: normal,
			Total:  high + normal,
		},
		Worker: WorkerMetrics{
			TasksExecuted:   workerStats.TasksExecuted,
			TasksFailed:     workerStats.TasksFailed,
			InitFailures:    workerStats.InitFailures,
			UnknownJobIDs:   workerStats.UnknownJobIDs,
			DuplicateJobIDs: workerStats.DuplicateJobIDs,
		},
		Events: EventMetrics{
			Subscribers:   busStats.Subscribers,
			EventsDropped: busStats.EventsDropped,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.streams.count(),
		},
	}

	if sessionStats, ok := s.worker.SessionStats(); ok {
		metrics.Engine = &EngineMetrics{
			Connected:       sessionStats.Connected,
			Reconnecting:    sessionStats.Reconnecting,
			RequestsTx:      sessionStats.RequestsTx,
			EventsRx:        sessionStats.EventsRx,
			EventsDropped:   sessionStats.EventsDropped,
			ErrorsTotal:     sessionStats.ErrorsTotal,
			ReconnectsTotal: sessionStats.ReconnectsTotal,
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
