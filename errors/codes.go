package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Lookup/selection errors
const (
	// ErrCodeNotFound indicates an unknown service name or instance id.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeNoHealthyInstance indicates the service is known but has no
	// healthy instance right now.
	ErrCodeNoHealthyInstance ErrorCode = "NO_HEALTHY_INSTANCE"
)

// Delivery/fault-isolation errors
const (
	// ErrCodeCircuitOpen indicates a fail-fast rejection by an open circuit breaker.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// ErrCodeDeliveryFailed indicates the target instance was unreachable at
	// delivery time.
	ErrCodeDeliveryFailed ErrorCode = "DELIVERY_FAILED"
	// ErrCodeTimeout indicates an operation exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// Input/lifecycle errors
const (
	// ErrCodeInvalidRegistration indicates invalid registration or selection input.
	ErrCodeInvalidRegistration ErrorCode = "INVALID_REGISTRATION"
	// ErrCodeQueueClosed indicates an enqueue or dequeue against a closed queue.
	ErrCodeQueueClosed ErrorCode = "QUEUE_CLOSED"
	// ErrCodeInternal indicates an internal orchestrator error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeNoHealthyInstance: true,
	ErrCodeCircuitOpen:       true,
	ErrCodeDeliveryFailed:    true,
	ErrCodeTimeout:           true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
