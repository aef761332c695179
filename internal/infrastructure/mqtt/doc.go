// Package mqtt provides the MQTT event mirror for Stagehand.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing task lifecycle events with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Stagehand mirrors every task lifecycle event to the broker so that
// external systems can observe task progress without holding an HTTP or
// WebSocket connection open. The mirror is fire-and-forget: a slow or
// unreachable broker never blocks task execution.
//
//	Stagehand Core → MQTT Broker → External observers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.TaskEvent("completed", 42)
//	client.Publish(topic, payload, 1, false)
package mqtt
