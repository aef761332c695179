// Package influxdb writes Stagehand's operational metrics to InfluxDB
// 2.x through the official client.
//
// Three measurements are written: task execution duration, terminal
// task status counts per operation, and periodic queue depth
// snapshots. All writes go through the non-blocking batched write API,
// so a slow or absent InfluxDB never stalls the worker; batch errors
// surface through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics off, carry on
//	}
//	defer client.Close()
//
//	client.WriteTaskDuration("screenshot", "synchronous", 0.42)
//
// Batch size and flush interval come from config.yaml. Close flushes
// whatever is still buffered.
package influxdb
