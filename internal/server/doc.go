// Package server exposes the relay over HTTP: the /monitor and /management
// WebSocket endpoints, a liveness probe and Prometheus metrics.
package server
