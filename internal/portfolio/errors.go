package portfolio

import "errors"

// Entry rejections are non-fatal: the engine records them as skipped-signal
// outcomes and the run continues.
var (
	// ErrInsufficientCapital means available cash cannot buy one whole unit.
	ErrInsufficientCapital = errors.New("insufficient capital for one unit")
	// ErrPositionLimit means the concurrent position cap is already reached.
	ErrPositionLimit = errors.New("position limit reached")
	// ErrDuplicatePosition means the instrument already has an open position.
	ErrDuplicatePosition = errors.New("instrument already has an open position")
	// ErrNoPosition means a close/mark was requested for a flat instrument.
	ErrNoPosition = errors.New("no open position for instrument")
)
