// Package timeouts defines the durations shared by the eta servers.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work on stop.
const Shutdown = 5 * time.Second

// DatabaseConnect caps the startup database ping retries.
const DatabaseConnect = 10 * time.Second

// HealthCheck caps a single health probe.
const HealthCheck = time.Second

// HealthWait caps how long a health check command waits for SERVING.
const HealthWait = 10 * time.Second
