// Package metrics exports the metrics of the safety rules engine to prometheus.
//
// The engine reports the outcome and duration of every request, and the
// current safety data after every change.
package metrics
