// Package config loads Stagehand's YAML configuration and applies
// environment overrides and defaults.
//
// Load reads the file once at startup, overlays STAGEHAND_* variables
// for the values that differ between deployments (broker credentials,
// InfluxDB token, engine endpoint), fills defaults, then validates.
// A config that fails validation stops the daemon before anything
// connects.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//
// Credentials belong in the environment, not the file; the file itself
// should be mode 0600 when they appear there anyway.
package config
