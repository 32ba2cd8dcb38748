package circuits

import "context"

// Prover executes rollup circuits. Every method may block until the proof is
// available and may fail independently of the others.
type Prover interface {
	GetBaseRollupProof(ctx context.Context, inputs BaseRollupInputs) (Proof, error)
	GetMergeRollupProof(ctx context.Context, left, right Proof) (Proof, error)
	GetBlockRootRollupProof(ctx context.Context, txRoot, parityRoot Proof, inputs BlockRootInputs) (Proof, error)
	GetBlockMergeRollupProof(ctx context.Context, left, right Proof) (Proof, error)
	GetRootRollupProof(ctx context.Context, blockMergeRoot, parityRoot Proof) (Proof, error)
	GetBaseParityProof(ctx context.Context, batch MessageBatch) (Proof, error)
	GetRootParityProof(ctx context.Context, left, right Proof) (Proof, error)
}
