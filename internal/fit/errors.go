package fit

import "fmt"

// InsufficientDataError reports a group with fewer observations than free
// parameters. It identifies the offending subject so callers can report
// per-group outcomes.
type InsufficientDataError struct {
	SubjectID    int
	Observations int
	Required     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("subject %d has %d observation(s), need at least %d to fit intercept and slope",
		e.SubjectID, e.Observations, e.Required)
}
