package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/compose-network/prover-orchestrator/x/circuits"
)

// circuitCaller issues prover requests, applying the per-call timeout and
// turning every rejection into a *circuits.CircuitFailure.
type circuitCaller struct {
	prover  circuits.Prover
	timeout time.Duration
	metrics *Metrics
	log     zerolog.Logger
}

func (c *circuitCaller) call(
	ctx context.Context,
	kind circuits.Kind,
	fn func(ctx context.Context) (circuits.Proof, error),
) (circuits.Proof, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	proof, err := fn(ctx)
	took := time.Since(start)
	c.metrics.RecordCircuit(kind, err, took)

	if err != nil {
		c.log.Debug().Err(err).Str("circuit", kind.String()).Dur("duration", took).Msg("Circuit rejected")
		return circuits.Proof{}, circuits.NewCircuitFailure(kind, err)
	}
	c.log.Trace().Str("circuit", kind.String()).Dur("duration", took).Msg("Circuit proved")
	return proof, nil
}

func (c *circuitCaller) baseRollup(ctx context.Context, in circuits.BaseRollupInputs) (circuits.Proof, error) {
	return c.call(ctx, circuits.KindBaseRollup, func(ctx context.Context) (circuits.Proof, error) {
		return c.prover.GetBaseRollupProof(ctx, in)
	})
}

func (c *circuitCaller) mergeRollup(ctx context.Context, left, right circuits.Proof) (circuits.Proof, error) {
	return c.call(ctx, circuits.KindMergeRollup, func(ctx context.Context) (circuits.Proof, error) {
		return c.prover.GetMergeRollupProof(ctx, left, right)
	})
}

func (c *circuitCaller) blockRootRollup(
	ctx context.Context,
	txRoot, parityRoot circuits.Proof,
	in circuits.BlockRootInputs,
) (circuits.Proof, error) {
	return c.call(ctx, circuits.KindBlockRootRollup, func(ctx context.Context) (circuits.Proof, error) {
		return c.prover.GetBlockRootRollupProof(ctx, txRoot, parityRoot, in)
	})
}

func (c *circuitCaller) blockMergeRollup(ctx context.Context, left, right circuits.Proof) (circuits.Proof, error) {
	return c.call(ctx, circuits.KindBlockMergeRollup, func(ctx context.Context) (circuits.Proof, error) {
		return c.prover.GetBlockMergeRollupProof(ctx, left, right)
	})
}

func (c *circuitCaller) rootRollup(ctx context.Context, blockMergeRoot, parityRoot circuits.Proof) (circuits.Proof, error) {
	return c.call(ctx, circuits.KindRootRollup, func(ctx context.Context) (circuits.Proof, error) {
		return c.prover.GetRootRollupProof(ctx, blockMergeRoot, parityRoot)
	})
}

func (c *circuitCaller) baseParity(ctx context.Context, batch circuits.MessageBatch) (circuits.Proof, error) {
	return c.call(ctx, circuits.KindBaseParity, func(ctx context.Context) (circuits.Proof, error) {
		return c.prover.GetBaseParityProof(ctx, batch)
	})
}

func (c *circuitCaller) rootParity(ctx context.Context, left, right circuits.Proof) (circuits.Proof, error) {
	return c.call(ctx, circuits.KindRootParity, func(ctx context.Context) (circuits.Proof, error) {
		return c.prover.GetRootParityProof(ctx, left, right)
	})
}
