// Package metrics exposes Prometheus metrics for the call translator.
// Frame flow, session lifecycle, transcript fan-out, translation service
// calls and the HTTP API each have their own counters and histograms.
package metrics
