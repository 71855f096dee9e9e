// Package api provides the HTTP REST API and WebSocket server for deviceguard.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
//
// # Endpoints
//
//	GET    /api/v1/health
//	GET    /api/v1/devices
//	GET    /api/v1/whitelist
//	POST   /api/v1/whitelist            register (secure, allow_basic_fallback, update)
//	DELETE /api/v1/whitelist            clear all
//	GET    /api/v1/whitelist/state?canonical_id=
//	POST   /api/v1/whitelist/verify
//	POST   /api/v1/whitelist/remove
//	GET    /api/v1/whitelist/export
//	GET    /api/v1/logs?min_level=&limit=
//	DELETE /api/v1/logs
//	GET    /api/v1/settings
//	PUT    /api/v1/settings
//	POST   /api/v1/ws-ticket
//	GET    /api/v1/ws?ticket=
//
// # Security
//
// Mutations and the export carry the admin password in the X-Admin-Password
// header. The API does not check it: the registry's authentication gate
// does, and audits every attempt with the caller's remote address. Serve
// over TLS (api.tls) whenever the API listens beyond localhost.
//
// WebSocket clients request a single-use ticket with the admin password and
// then connect with ?ticket=. Channels: audit.entry and device.presence.
//
// Refusals keep the registry's error codes and map to HTTP statuses:
// unauthorized 401, not_found and device_not_present 404,
// already_registered, not_securable and ambiguous_device 409, malformed_identity and
// invalid_request 400, insufficient_descriptor_data 422, lockfile_failed
// 502. Storage failures are 503.
package api
