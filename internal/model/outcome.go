package model

// Outcome is the result recorded for one key of a run.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	// OutcomeDelivered means the key's XML appeared in the output folder.
	OutcomeDelivered
	// OutcomeNotFound means the detection window elapsed without output.
	OutcomeNotFound
	// OutcomeAttemptError means an interaction failed before detection.
	OutcomeAttemptError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeAttemptError:
		return "attempt_error"
	default:
		return "unknown"
	}
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) Outcome {
	switch s {
	case "delivered":
		return OutcomeDelivered
	case "not_found":
		return OutcomeNotFound
	case "attempt_error":
		return OutcomeAttemptError
	default:
		return OutcomeUnknown
	}
}
