// Package ws streams remote to host calls over WebSocket.
//
// Every method a registration created through the HTTP API exposes to its
// remote object publishes an Event on the Hub. Clients subscribe to one
// registration at a time and may call back into the remote object over the
// same connection.
//
// Message Types (Client → Server):
//   - call: Fire-and-forget call of a remote method
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - system: Subscription state (subscribed, unregistered)
//   - call: A remote object called a host method
//   - pong: Ping reply
//   - error: Error occurred
//
// Example Usage:
//
//	hub := ws.NewHub(64)
//	handler := ws.NewHandler(hub, coord, metrics, logger)
//	router.GET("/v1/registrations/:id/events", handler.Stream)
package ws
