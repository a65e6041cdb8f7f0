// Package api hosts the HTTP server, middleware, and REST handlers for the
// crawler manager. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /crawlers for crawler CRUD, with /start (/run), /stop (/pause) and
//     /status below each crawler id.
//
// Errors are written as an envelope carrying the HTTP status, a timestamp, a
// message and, for rejected payloads, the ordered list of field violations.
package api
