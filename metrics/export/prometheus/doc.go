// Package prometheus exposes evalauth engine metrics as a client_golang
// Collector. Register it on a registry you own; nothing is registered
// globally.
package prometheus
