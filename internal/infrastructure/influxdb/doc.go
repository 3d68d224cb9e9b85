// Package influxdb records bridge telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management and batched writes, and adapts the bridge's observer hooks
// into points.
//
// # Measurements
//
//   - ble_link: link state transitions per light
//   - ble_frame: every frame write, command or keep-alive, with its outcome
//   - light_state: every confirmed state change
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	telemetry := influxdb.NewTelemetry(client, cfg.Bridge.ID)
//	// pass telemetry as BridgeOptions.Observer and add it as a status sink
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes, so the
// observer hooks never block a light session.
//
// # Error Handling
//
// Write errors are delivered asynchronously via the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
