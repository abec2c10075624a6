package engine

import "errors"

// ErrNotReady signals that no engine is live (not started yet, or
// mid-restart). The HTTP layer maps it to 503 so callers can retry.
var ErrNotReady = errors.New("engine not ready")

// ErrAlreadyRunning signals Start while an engine is live.
var ErrAlreadyRunning = errors.New("engine already running")

// ErrNotRunning signals an operation that requires a running engine.
var ErrNotRunning = errors.New("engine not running")

// TrainingError carries the pipeline's failure reason verbatim so the
// caller that awaited the training job can surface it.
type TrainingError struct {
	Reason string
}

func (e *TrainingError) Error() string { return "training failed: " + e.Reason }

// IsTrainingError reports whether err is a training failure and returns
// the underlying reason.
func IsTrainingError(err error) (string, bool) {
	var te *TrainingError
	if errors.As(err, &te) {
		return te.Reason, true
	}
	return "", false
}
