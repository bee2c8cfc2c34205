// Package node provides interfaces for the process-level orchestrator that
// owns one router together with its jacks, clients and message log.
//
// This package defines:
//   - Node: lifecycle and inspection surface used by the admin API
//   - HealthStatus: health monitoring and status reporting
//   - Routes: a snapshot of the router's jack and client tables
//
// A node is built from configuration, then:
//  1. Start runs the router Threaded and prewarms peer connections
//  2. frames arrive on jacks or through Deliver and are routed
//  3. Stop returns the router to Stopped; Close releases everything
//
// The interfaces use Go idioms:
//   - context.Context for cancellation and timeouts
//   - Explicit error returns following Go conventions
//   - io.Closer for resource cleanup
package node
