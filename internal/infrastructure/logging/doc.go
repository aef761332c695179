// Package logging wraps log/slog with Stagehand's defaults: a handler
// chosen from config.yaml (json or text, stdout or stderr, level
// filter) and service/version attributes stamped on every record.
//
// Components take a child logger tagged with their name:
//
//	log := logging.New(cfg.Logging, version)
//	workerLog := log.With("component", "worker")
//	workerLog.Info("task executed", "task_id", id, "duration_ms", ms)
//
// Before configuration is loaded, Default() gives a JSON logger at
// info level so startup failures are still structured.
//
// Keep secrets out of log fields. Broker passwords and tokens live in
// config structs that are never logged whole.
package logging
