package estimation

import "fmt"

// InvalidParameterError represents an invalid estimator configuration
type InvalidParameterError struct {
	Field   string
	Message string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid estimation parameter %s: %s", e.Field, e.Message)
}

// ProtocolViolationError is returned when a sampler breaks its contract.
// It is fatal and never retried.
type ProtocolViolationError struct {
	Depth int
	Shots int
	Hits  int
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("sampler protocol violation at depth %d: %d hits for %d shots", e.Depth, e.Hits, e.Shots)
}

// NonConvergenceError is returned when the round or shot cap is reached
// before the interval is narrow enough
type NonConvergenceError struct {
	Reason   string
	Rounds   int
	Shots    int
	Interval Interval
	Target   float64
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("estimation did not converge: %s after %d rounds and %d shots (interval [%.6f, %.6f], target width %.6f)",
		e.Reason, e.Rounds, e.Shots, e.Interval.Low, e.Interval.High, e.Target)
}
