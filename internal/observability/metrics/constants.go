// Package metrics provides Prometheus collectors for SoundBird components.
package metrics

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Outcome label values for processed files.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
