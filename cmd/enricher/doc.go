// Package main hosts the digest enricher entrypoint.
//
// Architecture overview:
//   - Documents: one JSON document per batch date lives in the aggregation bucket of the configured
//     document store (memory, local filesystem or GCS). Images go to the images bucket.
//   - Stages: fetch, summarize, translate and illustrate each run on their own bounded queue. Stage
//     results never touch the document; they are written to the staging store (memory or Redis) under
//     per-item keys with a TTL.
//   - Merge: every document write (create, flush, single-item merge) runs on the merge queue, which has
//     a concurrency of one. A flush only proceeds when the staged count for the requested stage equals
//     the caller's expected total, and it only fills fields that are still empty.
//   - Side channels: completed flushes are optionally recorded in Postgres and announced on Pub/Sub.
//     Failures there are logged and never fail the flush.
//   - Configuration & plumbing: Viper reads an optional config file plus ENRICHER_* environment
//     variables (dotenv files are loaded first); zap provides structured logging; Prometheus metrics
//     are exported on /metrics.
//
// Quick checklist:
//   - Run the API: go run ./cmd/enricher serve --config config.yaml
//   - Create a day: go run ./cmd/enricher ingest --date 2025-10-18 --file items.json
//   - Flush staged fetches: go run ./cmd/enricher flush --date 2025-10-18 --type fetch --total 30
//   - Set OPENAI_API_KEY (or ENRICHER_AI_API_KEY) to enable summarize, translate and illustrate.
package main
