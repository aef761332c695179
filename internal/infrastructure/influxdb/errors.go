package influxdb

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	// ErrDisabled means InfluxDB is turned off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed means the initial ping did not succeed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected means the client has been closed or never
	// connected. Write failures after connect arrive asynchronously
	// through the SetOnError callback instead.
	ErrNotConnected = errors.New("influxdb: not connected")
)
