// Package sidecar supervises the engine daemon when stagehand is
// configured to manage it rather than attach to an externally run one.
//
// The supervisor launches the daemon in its own process group, relays
// its output into the debug log, and restarts it on unexpected exits
// with capped exponential backoff. An optional health check doubles as
// a watchdog: a daemon that stops answering is killed so the restart
// path can bring up a fresh one. A run that survives the stable
// threshold resets the restart budget, so a daemon that crashes once a
// day is not treated like one in a crash loop.
//
// Shutdown is SIGTERM to the process group, then SIGKILL after the
// graceful timeout.
//
//	sup := sidecar.NewSupervisor(sidecar.Config{
//	    Binary: "/usr/local/bin/stagehand-engine",
//	    Args:   []string{"--listen", "unix:///run/stagehand/engine.sock"},
//	    RestartOnFailure: true,
//	})
//	if err := sup.Start(ctx); err != nil {
//	    ...
//	}
//	defer sup.Stop()
package sidecar
