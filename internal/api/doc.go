// Package api serves the forwarder's HTTP status surface.
//
//	GET /api/v1/health   200 when every dependency check passes, 503 otherwise
//	GET /api/v1/status   forwarder state and totals, stream position, backlog
//	GET /api/v1/ws       WebSocket stream of status events
//	GET /metrics         Prometheus exposition
//
// When api.auth.jwt_secret is set, status and ws require an HS256 bearer
// token. Health and metrics stay open for probes and scrapers.
//
// The server follows the same lifecycle as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
