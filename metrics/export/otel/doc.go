// Package otel mirrors evalauth engine metrics into an OpenTelemetry meter
// through observable instruments read on each collection.
package otel
