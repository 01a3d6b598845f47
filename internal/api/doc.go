// Package api hosts the optional operator HTTP endpoint of a crawl run.
// Routes:
//   - GET /healthz and /readyz for liveness and drain state.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live dispatch summary.
package api
