package orchestrator

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/prover-orchestrator/x/circuits"
	"github.com/compose-network/prover-orchestrator/x/orchestrator/mergetree"
)

type proofTree = mergetree.Tree[circuits.Proof]

// newProofTree builds a merge tree of proofs labelled tree in metrics.
func newProofTree(
	ctx context.Context,
	leaves int,
	merge mergetree.MergeFunc[circuits.Proof],
	tree string,
	m *Metrics,
	onFailure func(error),
) (*proofTree, error) {
	return mergetree.New(leaves, merge,
		mergetree.WithContext[circuits.Proof](ctx),
		mergetree.WithOnFailure[circuits.Proof](onFailure),
		mergetree.WithOnMerge[circuits.Proof](func(int, int) { m.RecordMerge(tree) }),
	)
}

// newBlockParityTree returns the fixed-width tree over a block's base parity proofs.
func newBlockParityTree(ctx context.Context, c *circuitCaller, m *Metrics, onFailure func(error)) (*proofTree, error) {
	return newProofTree(ctx, circuits.NumBaseParityPerRootParity, c.rootParity, treeBlockParity, m, onFailure)
}

// newEpochParityTree returns the tree over the block parity roots of an epoch, one leaf per block.
func newEpochParityTree(ctx context.Context, blocks int, c *circuitCaller, m *Metrics, onFailure func(error)) (*proofTree, error) {
	return newProofTree(ctx, blocks, c.rootParity, treeEpochParity, m, onFailure)
}

// requestBaseParities pads messages, splits them into batches and proves each batch
// into the matching leaf of tree. It does not block.
func requestBaseParities(ctx context.Context, c *circuitCaller, tree *proofTree, messages []common.Hash) {
	batches := circuits.SplitMessageBatches(circuits.PadMessages(messages))
	for _, batch := range batches {
		go func(batch circuits.MessageBatch) {
			proof, err := c.baseParity(ctx, batch)
			if err != nil {
				_ = tree.Reject(batch.Index, err)
				return
			}
			_ = tree.Resolve(batch.Index, proof)
		}(batch)
	}
}
