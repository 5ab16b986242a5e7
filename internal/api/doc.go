// Package api hosts the HTTP ingress gateway: middleware, API-key
// enforcement, and the REST handlers. Notable routes:
//   - POST /scrape for search submission (asynchronous acceptance).
//   - GET /task/{id} for status polling.
//   - GET /queue/status for operator queue visibility.
//   - POST /admin/keys and friends for credential management.
//   - GET /healthz and /metrics, unauthenticated.
package api
