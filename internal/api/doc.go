// Package api hosts the HTTP server, middleware, and REST handlers of the enricher.
// Notable routes:
//   - GET /healthz / readyz for Kubernetes probes; readyz pings the staging store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/batches/{date} to ingest a day, GET to read it back.
//   - POST /v1/batches/{date}/{fetch,summarize,translate,illustrate} to enqueue work,
//     optionally waiting with ?wait=true.
//   - POST /v1/flush and /v1/batches/{date}/flush for gated batch flushes.
//   - POST /v1/batches/{date}/items/{id}/merge to wait for and merge one staged result.
//
// Store failures and poll timeouts are answered with 200 and {"ok":false,"error":...};
// malformed requests get 400.
package api
