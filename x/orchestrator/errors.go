package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is returned when an entry point is called out of sequence.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrCapacityMismatch is returned when a declared transaction or block count was not met.
	ErrCapacityMismatch = errors.New("capacity mismatch")

	errEpochDiscarded = fmt.Errorf("%w: epoch discarded", ErrProtocolViolation)
)

// BlockFailure reports that a circuit inside a block was rejected.
type BlockFailure struct {
	Index int
	Cause error
}

func (e *BlockFailure) Error() string {
	return "Block proving failed: " + e.Cause.Error()
}

func (e *BlockFailure) Unwrap() error {
	return e.Cause
}

// EpochFailure reports that a block or epoch-level circuit of the epoch was rejected.
type EpochFailure struct {
	Epoch uint64
	Cause error
}

func (e *EpochFailure) Error() string {
	return "Epoch proving failed: " + e.Cause.Error()
}

func (e *EpochFailure) Unwrap() error {
	return e.Cause
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

func capacityMismatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCapacityMismatch, fmt.Sprintf(format, args...))
}
