// Package http exposes the coordinator over a JSON API.
//
// Routes:
//   - POST   /v1/registrations              create a registration
//   - GET    /v1/registrations/:id          describe it
//   - DELETE /v1/registrations/:id          unregister it
//   - POST   /v1/registrations/:id/call     fire-and-forget remote call
//   - POST   /v1/registrations/:id/request  remote call with result
//   - GET    /v1/pool                       coordinator and pool stats
//   - GET    /health                        liveness and counts
//
// Host methods of API registrations do no work of their own: each call a
// remote object makes is published to the event hub and streamed to the
// WebSocket subscribers of the registration.
//
// Errors map to status codes: validation 400, unknown registration 404,
// unregistered 410, capacity or shutdown 503, remote failure 502 and
// timeout 504.
package http
