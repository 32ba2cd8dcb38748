package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/compose-network/prover-orchestrator/x/circuits"
)

// ProofFuture is the eventual outcome of a single circuit request.
type ProofFuture struct {
	done chan struct{}
	once sync.Once

	proof circuits.Proof
	err   error
}

func newProofFuture() *ProofFuture {
	return &ProofFuture{done: make(chan struct{})}
}

// resolve settles the future; only the first call has an effect.
func (f *ProofFuture) resolve(proof circuits.Proof, err error) {
	f.once.Do(func() {
		f.proof, f.err = proof, err
		close(f.done)
	})
}

// Done is closed once the outcome is known.
func (f *ProofFuture) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the outcome is known or ctx is done.
func (f *ProofFuture) Wait(ctx context.Context) (circuits.Proof, error) {
	select {
	case <-f.done:
		return f.proof, f.err
	case <-ctx.Done():
		return circuits.Proof{}, ctx.Err()
	}
}

// failureCell keeps the first error stored in it.
type failureCell struct {
	cause atomic.Pointer[error]
}

// set stores cause if the cell is empty and reports whether it did.
func (c *failureCell) set(cause error) bool {
	return c.cause.CompareAndSwap(nil, &cause)
}

func (c *failureCell) get() error {
	if p := c.cause.Load(); p != nil {
		return *p
	}
	return nil
}
