// Package api is the bridge's host binding: an HTTP REST API and WebSocket
// server through which home-automation clients see and drive accessories.
//
// Host implements accessory.Host. Accessories register their services and
// characteristics on it at start; reads and writes arriving over HTTP are
// routed to the registered handlers, and every characteristic update is
// broadcast to WebSocket clients subscribed to "characteristic.changed",
// optionally narrowed to a list of accessory IDs.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Bearer token authentication is enabled by setting api.auth.jwt_secret.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
