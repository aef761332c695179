// Package api implements the HTTP REST API and WebSocket server for
// Stagehand.
//
// This package provides:
//   - Task submission: synchronous operations block the HTTP request on
//     the task's reply channel, asynchronous operations return 202 with
//     a task id
//   - Task history endpoints backed by SQLite
//   - System metrics (runtime, queue depth, engine session, websocket
//     clients, database pool)
//   - WebSocket streams of the progress event bus (all tasks, or one)
//   - Middleware stack (request ID, logging, recovery, CORS, body size)
//
// # Architecture
//
// The API layer never touches the engine. Submissions become envelopes
// on the ingress queue; the single worker goroutine executes them and
// publishes lifecycle events, which the websocket handlers relay.
//
// # Security
//
// No authentication is performed. Stagehand is a local control plane
// and is expected to bind to a trusted interface.
package api
