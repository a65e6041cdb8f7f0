// Package main hosts the crawler manager entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics, and crawler management endpoints under
//     /crawlers. Payloads are validated field by field and rejected with an ordered list of causes.
//   - Lifecycle: internal/lifecycle.Service owns create, update, start, stop, delete and status. Every mutation is a
//     load, modify and compare-and-swap save against the record version, retried a bounded number of times.
//   - Persistence: records live in memory, Postgres (pgx), Redis or an embedded Badger database, selected by
//     storage.backend.
//   - Fan-out: starting a crawler publishes one message per parseable start URL, in order, to the supplyAddress topic
//     via Google Cloud Pub/Sub, a Redis stream, or an in-memory sink (publisher.backend). Publishing is best effort and
//     never fails the start call.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; OpenTelemetry spans optionally go to Cloud
//     Trace.
//
// Quick checklist:
//   - Configure env vars: CRAWLER_SERVER_PORT, CRAWLER_STORAGE_BACKEND, CRAWLER_STORAGE_POSTGRES_DSN,
//     CRAWLER_PUBLISHER_BACKEND, CRAWLER_PUBSUB_PROJECT_ID, CRAWLER_REDIS_ADDR, CRAWLER_AUTH_ENABLED/API_KEY.
//   - Run locally: go run ./cmd/crawler-manager -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGTERM by draining HTTP requests and closing stores and publishers.
package main
