package action

// Status is the outcome of an action or one of its operations.
type Status int

const (
	StatusRunning Status = iota
	StatusPassed
	StatusFailed
	StatusSkipped
	StatusCached
	StatusCachedFromRemote
	StatusAborted
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusCached:
		return "cached"
	case StatusCachedFromRemote:
		return "cached-from-remote"
	case StatusAborted:
		return "aborted"
	default:
		return "invalid"
	}
}

// IsCached reports whether the status came from any cache tier.
func (s Status) IsCached() bool {
	return s == StatusCached || s == StatusCachedFromRemote
}

// IsFailure reports whether the status represents a failed action.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusAborted || s == StatusInvalid
}
