package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTaskDuration records how long a task took to execute.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - operation: The operation name (e.g., "screenshot", "long_job")
//   - mode: Execution mode ("synchronous" or "asynchronous")
//   - durationSeconds: Wall-clock execution time in seconds
//
// Example:
//
//	client.WriteTaskDuration("screenshot", "synchronous", 0.42)
func (c *Client) WriteTaskDuration(operation string, mode string, durationSeconds float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"task_duration",
		map[string]string{
			"operation": operation,
			"mode":      mode,
		},
		map[string]interface{}{
			"seconds": durationSeconds,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteTaskStatus records a terminal task outcome.
//
// Used for tracking completion and failure rates per operation.
//
// Parameters:
//   - operation: The operation name
//   - status: Terminal status ("completed" or "failed")
func (c *Client) WriteTaskStatus(operation string, status string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"task_status",
		map[string]string{
			"operation": operation,
			"status":    status,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteQueueDepth records a snapshot of the ingress queue depth.
//
// Parameters:
//   - high: Number of high-priority envelopes waiting
//   - normal: Number of normal-priority envelopes waiting
func (c *Client) WriteQueueDepth(high int, normal int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"queue_depth",
		nil,
		map[string]interface{}{
			"high":   high,
			"normal": normal,
			"total":  high + normal,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "stagehand-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
