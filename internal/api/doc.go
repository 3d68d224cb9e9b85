// Package api implements the HTTP REST API and WebSocket server of the
// BLE light bridge.
//
// This package provides:
//   - REST endpoints to list lights, read one light and send it a command
//   - State history reads when persistence is enabled
//   - WebSocket hub broadcasting confirmed state changes
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API is a second command ingress beside the MQTT bus. A command posted
// to /api/v1/lights/{id}/command takes the same path as a bus command: it is
// decoded as a patch and applied to the light's session. Confirmed state
// changes reach WebSocket clients through the hub, which is registered as a
// status sink of the bridge.
package api
