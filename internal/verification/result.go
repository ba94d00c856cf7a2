package verification

// Outcome is the result of a single Verify call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeExpired
	OutcomeTooManyAttempts
	OutcomeMismatch
)

// User-facing messages returned by the registration API.
const (
	MessageSuccess         = "Email verified successfully!"
	MessageNotFound        = "No verification code found for this email."
	MessageExpired         = "Verification code has expired."
	MessageTooManyAttempts = "Too many failed attempts. Please request a new code."
	MessageMismatch        = "Invalid verification code."
)

// String returns a stable label, used for logs and metric labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeExpired:
		return "expired"
	case OutcomeTooManyAttempts:
		return "too_many_attempts"
	case OutcomeMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Result is returned by Store.Verify. Failures are ordinary values, not errors.
type Result struct {
	Outcome Outcome
}

// Success reports whether the presented code was accepted.
func (r Result) Success() bool {
	return r.Outcome == OutcomeSuccess
}

// Message returns the text shown to the requester.
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return MessageSuccess
	case OutcomeNotFound:
		return MessageNotFound
	case OutcomeExpired:
		return MessageExpired
	case OutcomeTooManyAttempts:
		return MessageTooManyAttempts
	default:
		return MessageMismatch
	}
}
