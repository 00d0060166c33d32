// Package component defines the lifecycle contract shared by the
// orchestrator's long-running pieces (health checker, dispatcher, admin
// server) so they can be started, stopped, and health-checked uniformly.
package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component represents a lifecycle-managed component.
type Component interface {
	// Name returns the unique name of the component.
	Name() string

	// Start launches the component. It must return once the component is
	// running; long-running work continues in background goroutines.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the component and joins its goroutines.
	Stop(ctx context.Context) error

	// Health returns the current health status of the component.
	Health(ctx context.Context) Health
}
