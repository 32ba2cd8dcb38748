package circuits

import "errors"

// CircuitFailure records that the prover rejected a circuit request.
// Error returns the prover's message unchanged so callers can surface it verbatim.
type CircuitFailure struct {
	Kind Kind
	Err  error
}

// NewCircuitFailure wraps err unless it already is a CircuitFailure.
func NewCircuitFailure(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var cf *CircuitFailure
	if errors.As(err, &cf) {
		return err
	}
	return &CircuitFailure{Kind: kind, Err: err}
}

func (e *CircuitFailure) Error() string {
	if e.Err == nil {
		return string(e.Kind) + " failed"
	}
	return e.Err.Error()
}

func (e *CircuitFailure) Unwrap() error {
	return e.Err
}

// FailedKind returns the circuit kind behind err, if any.
func FailedKind(err error) (Kind, bool) {
	var cf *CircuitFailure
	if errors.As(err, &cf) {
		return cf.Kind, true
	}
	return "", false
}
