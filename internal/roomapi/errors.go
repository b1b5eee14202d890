package roomapi

// VerificationError means the hub rejected the room password at pre-check.
// It is user-correctable and never retried automatically.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return "room verification failed: " + e.Reason
}
