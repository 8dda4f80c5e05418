package errors

// ErrorCode represents a machine-readable fault code.
type ErrorCode string

// Processing faults
const (
	// ErrCodeProcessing indicates a user-supplied stage function returned an error.
	ErrCodeProcessing ErrorCode = "PROCESSING_FAULT"
	// ErrCodeCancelled indicates processing stopped because cancellation was honoured.
	ErrCodeCancelled ErrorCode = "CANCELLED"
)

// Lifecycle faults
const (
	// ErrCodePipelineClosed indicates an item was sent after the pipeline stopped accepting input.
	ErrCodePipelineClosed ErrorCode = "PIPELINE_CLOSED"
	// ErrCodePipelineShutdown indicates a pending item was resolved by pipeline teardown.
	ErrCodePipelineShutdown ErrorCode = "PIPELINE_SHUTDOWN"
	// ErrCodeItemDiscarded indicates an item was dropped by a filter predicate.
	ErrCodeItemDiscarded ErrorCode = "ITEM_DISCARDED"
)

// Configuration faults
const (
	// ErrCodeInvalidConfig indicates invalid pipeline or stage configuration.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// expectedCodes are codes that describe a normal shutdown rather than a failure.
var expectedCodes = map[ErrorCode]bool{
	ErrCodeCancelled:     true,
	ErrCodeItemDiscarded: true,
}

// IsExpectedCode returns true if the code describes orderly shutdown or routing,
// not a failure worth reporting.
func IsExpectedCode(code ErrorCode) bool {
	return expectedCodes[code]
}
