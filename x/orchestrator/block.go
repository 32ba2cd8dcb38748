package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/compose-network/prover-orchestrator/x/circuits"
)

// blockProvingState owns one block's transaction tree, parity tree and block root request.
type blockProvingState struct {
	epoch *epochProvingState
	log   zerolog.Logger

	index       int
	number      uint64
	globals     circuits.GlobalVariables
	messages    []common.Hash
	expectedTxs int

	txTree     *proofTree
	parityTree *proofTree
	root       *ProofFuture
	// parityRoot is written before root resolves successfully.
	parityRoot circuits.Proof

	failure   failureCell
	completed atomic.Pointer[circuits.Proof]

	mu     sync.Mutex
	filled []bool
	added  int
}

func newBlockProvingState(
	e *epochProvingState,
	index, expectedTxs int,
	globals circuits.GlobalVariables,
	messages []common.Hash,
) (*blockProvingState, error) {
	b := &blockProvingState{
		epoch: e,
		log: e.log.With().
			Int("block_index", index).
			Uint64("block_number", globals.BlockNumber).
			Logger(),
		index:       index,
		number:      globals.BlockNumber,
		globals:     globals,
		messages:    append([]common.Hash(nil), messages...),
		expectedTxs: expectedTxs,
		root:        newProofFuture(),
		filled:      make([]bool, expectedTxs),
	}

	var err error
	b.txTree, err = newProofTree(e.ctx, expectedTxs, e.caller.mergeRollup, treeTx, e.metrics, b.fail)
	if err != nil {
		return nil, err
	}
	b.parityTree, err = newBlockParityTree(e.ctx, e.caller, e.metrics, b.fail)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// start requests the base parity proofs and schedules the block root request.
func (b *blockProvingState) start() {
	requestBaseParities(b.epoch.ctx, b.epoch.caller, b.parityTree, b.messages)
	go b.proveRoot()
}

func (b *blockProvingState) proveRoot() {
	ctx := b.epoch.ctx

	txRoot, err := b.txTree.Wait(ctx)
	if err != nil {
		b.settleRoot(err)
		return
	}
	parityRoot, err := b.parityTree.Wait(ctx)
	if err != nil {
		b.settleRoot(err)
		return
	}

	proof, err := b.epoch.caller.blockRootRollup(ctx, txRoot, parityRoot, circuits.BlockRootInputs{
		Globals:        b.globals,
		TxCount:        b.expectedTxs,
		L1ToL2Messages: b.messages,
	})
	if err != nil {
		b.fail(err)
		return
	}

	b.parityRoot = parityRoot
	b.root.resolve(proof, nil)
}

func (b *blockProvingState) settleRoot(err error) {
	if b.epoch.ctx.Err() != nil {
		b.root.resolve(circuits.Proof{}, errEpochDiscarded)
		return
	}
	b.fail(err)
}

// fail records the first cause, poisons the epoch and then releases block root waiters.
// Failures of a discarded epoch are not recorded.
func (b *blockProvingState) fail(cause error) {
	if b.epoch.discarded() {
		b.root.resolve(circuits.Proof{}, errEpochDiscarded)
		return
	}
	if !b.failure.set(cause) {
		b.log.Debug().Err(cause).Msg("Ignoring additional failure of failed block")
		return
	}
	defer b.root.resolve(circuits.Proof{}, cause)

	kind, _ := circuits.FailedKind(cause)
	b.log.Error().Err(cause).Str("circuit", kind.String()).Msg("Block proving failed")
	b.epoch.metrics.RecordBlock("failed")
	b.epoch.blockFailed(b, cause)
}

// failedCause returns the block's failure once it has reached the epoch.
func (b *blockProvingState) failedCause() error {
	cause := b.failure.get()
	if cause != nil {
		<-b.root.Done()
	}
	return cause
}

// reserve claims a transaction slot: the given index when explicit, otherwise the lowest free one.
func (b *blockProvingState) reserve(index int, explicit bool) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cause := b.failure.get(); cause != nil {
		return 0, violation("block %d has failed: %v", b.index, cause)
	}
	if b.completed.Load() != nil {
		return 0, violation("block %d is already completed", b.index)
	}
	if b.added >= b.expectedTxs {
		return 0, violation("block %d already has all %d transactions", b.index, b.expectedTxs)
	}

	if explicit {
		if index < 0 || index >= b.expectedTxs {
			return 0, violation("transaction slot %d out of range [0, %d)", index, b.expectedTxs)
		}
		if b.filled[index] {
			return 0, violation("transaction slot %d of block %d is already filled", index, b.index)
		}
	} else {
		for index = 0; b.filled[index]; index++ {
		}
	}

	b.filled[index] = true
	b.added++
	return index, nil
}

// proveTx requests the base rollup for slot index and settles its leaf before f.
func (b *blockProvingState) proveTx(index int, tx circuits.ProcessedTx, f *ProofFuture) {
	proof, err := b.epoch.caller.baseRollup(b.epoch.ctx, circuits.BaseRollupInputs{
		Tx:          tx,
		TxIndex:     index,
		Globals:     b.globals,
		BlockNumber: b.number,
	})
	if err != nil {
		_ = b.txTree.Reject(index, err)
		if b.epoch.discarded() {
			err = errEpochDiscarded
		}
		f.resolve(circuits.Proof{}, err)
		return
	}
	_ = b.txTree.Resolve(index, proof)
	f.resolve(proof, nil)
}

// complete waits for the block root and folds it into the epoch. Repeated calls
// after success return the same proof without new circuit requests.
func (b *blockProvingState) complete(ctx context.Context) (circuits.Proof, error) {
	if p := b.completed.Load(); p != nil {
		return *p, nil
	}
	if cause := b.failedCause(); cause != nil {
		return circuits.Proof{}, &BlockFailure{Index: b.index, Cause: cause}
	}

	b.mu.Lock()
	added := b.added
	b.mu.Unlock()
	if added < b.expectedTxs {
		return circuits.Proof{}, capacityMismatch("block %d received %d of %d transactions",
			b.index, added, b.expectedTxs)
	}

	proof, err := b.root.Wait(ctx)
	if err != nil {
		if errors.Is(err, errEpochDiscarded) {
			return circuits.Proof{}, err
		}
		if cause := b.failedCause(); cause != nil {
			return circuits.Proof{}, &BlockFailure{Index: b.index, Cause: cause}
		}
		return circuits.Proof{}, err
	}

	if b.completed.CompareAndSwap(nil, &proof) {
		b.log.Info().Str("commitment", proof.Commitment.Hex()).Msg("Block proving completed")
		b.epoch.metrics.RecordBlock("completed")
		b.epoch.blockCompleted(b, proof)
	}
	return *b.completed.Load(), nil
}

// state reports the block's lifecycle state.
func (b *blockProvingState) state() string {
	switch {
	case b.failure.get() != nil:
		return StateFailed
	case b.completed.Load() != nil:
		return StateCompleted
	default:
		return StateBuilding
	}
}

// accepting reports whether the block still waits for transactions.
func (b *blockProvingState) accepting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failure.get() == nil && b.added < b.expectedTxs
}

func (b *blockProvingState) status() BlockStatus {
	b.mu.Lock()
	added := b.added
	b.mu.Unlock()

	s := BlockStatus{
		Index:       b.index,
		Number:      b.number,
		State:       b.state(),
		ExpectedTxs: b.expectedTxs,
		AddedTxs:    added,
		Messages:    len(b.messages),
		TxTree:      treeStatus(b.txTree),
		ParityTree:  treeStatus(b.parityTree),
	}
	if p := b.completed.Load(); p != nil {
		s.Root = p
	}
	if cause := b.failure.get(); cause != nil {
		s.Error = cause.Error()
	}
	return s
}
