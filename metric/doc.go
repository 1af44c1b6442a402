// Package metric provides Prometheus metrics registration and exposition.
//
// The Registry owns a private prometheus.Registry pre-loaded with the core
// pipeline metrics (Metrics) and the Go runtime collectors. Components
// register their own gauges, counters, and histograms through the Registrar
// interface under a component-scoped key, which protects against duplicate
// registration across restarts.
//
// Server exposes the registry at a configurable address and path for
// scraping, plus a trivial /health endpoint.
package metric
