package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/compose-network/prover-orchestrator/x/circuits"
)

// epochProvingState owns the blocks of one epoch, the block merge tree above
// their roots, the parity tree above their parity roots and the root rollup request.
type epochProvingState struct {
	number      uint64
	runID       uuid.UUID
	totalBlocks int
	startedAt   time.Time

	// ctx is cancelled when the epoch is discarded.
	ctx    context.Context
	cancel context.CancelFunc

	caller  *circuitCaller
	metrics *Metrics
	log     zerolog.Logger

	blockMerge *proofTree
	parity     *proofTree
	root       *ProofFuture

	failure   failureCell
	completed atomic.Pointer[circuits.Proof]

	mu     sync.RWMutex
	blocks []*blockProvingState
}

func newEpochProvingState(
	number uint64,
	totalBlocks int,
	caller *circuitCaller,
	m *Metrics,
	log zerolog.Logger,
) (*epochProvingState, error) {
	ctx, cancel := context.WithCancel(context.Background())
	runID := uuid.New()

	e := &epochProvingState{
		number:      number,
		runID:       runID,
		totalBlocks: totalBlocks,
		startedAt:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		caller:      caller,
		metrics:     m,
		log: log.With().
			Uint64("epoch", number).
			Str("epoch_run_id", runID.String()).
			Logger(),
		root:   newProofFuture(),
		blocks: make([]*blockProvingState, 0, totalBlocks),
	}

	var err error
	e.blockMerge, err = newProofTree(ctx, totalBlocks, caller.blockMergeRollup, treeBlockMerge, m, e.fail)
	if err != nil {
		cancel()
		return nil, err
	}
	e.parity, err = newEpochParityTree(ctx, totalBlocks, caller, m, e.fail)
	if err != nil {
		cancel()
		return nil, err
	}
	return e, nil
}

func (e *epochProvingState) start() {
	go e.proveRoot()
}

func (e *epochProvingState) proveRoot() {
	blockMergeRoot, err := e.blockMerge.Wait(e.ctx)
	if err != nil {
		e.settleRoot(err)
		return
	}
	parityRoot, err := e.parity.Wait(e.ctx)
	if err != nil {
		e.settleRoot(err)
		return
	}

	proof, err := e.caller.rootRollup(e.ctx, blockMergeRoot, parityRoot)
	if err != nil {
		e.fail(err)
		return
	}
	e.root.resolve(proof, nil)
}

func (e *epochProvingState) settleRoot(err error) {
	if e.discarded() {
		e.root.resolve(circuits.Proof{}, errEpochDiscarded)
		return
	}
	e.fail(err)
}

// fail records the first cause and releases root rollup waiters.
func (e *epochProvingState) fail(cause error) {
	if e.discarded() {
		e.root.resolve(circuits.Proof{}, errEpochDiscarded)
		return
	}
	if !e.failure.set(cause) {
		return
	}
	e.root.resolve(circuits.Proof{}, cause)
	e.log.Error().Err(cause).Msg("Epoch proving failed")
	e.metrics.RecordEpoch("failed", e.number)
}

func (e *epochProvingState) discard() {
	e.cancel()
	e.root.resolve(circuits.Proof{}, errEpochDiscarded)
	if e.completed.Load() == nil && e.failure.get() == nil {
		e.log.Warn().Msg("Discarding unfinished epoch")
		e.metrics.RecordEpoch("discarded", e.number)
	}
}

func (e *epochProvingState) discarded() bool {
	return e.ctx.Err() != nil
}

// addBlock appends a new block at the next slot and starts its parity requests.
func (e *epochProvingState) addBlock(
	expectedTxs int,
	globals circuits.GlobalVariables,
	messages []common.Hash,
) (*blockProvingState, error) {
	e.mu.Lock()

	if e.discarded() {
		e.mu.Unlock()
		return nil, errEpochDiscarded
	}
	if cause := e.failure.get(); cause != nil {
		e.mu.Unlock()
		return nil, violation("epoch %d has failed: %v", e.number, cause)
	}
	if e.completed.Load() != nil {
		e.mu.Unlock()
		return nil, violation("epoch %d is already finalised", e.number)
	}
	if len(e.blocks) >= e.totalBlocks {
		e.mu.Unlock()
		return nil, violation("epoch %d already has all %d blocks", e.number, e.totalBlocks)
	}
	if n := len(e.blocks); n > 0 && e.blocks[n-1].accepting() {
		e.mu.Unlock()
		return nil, violation("block %d is still waiting for transactions", n-1)
	}

	b, err := newBlockProvingState(e, len(e.blocks), expectedTxs, globals, messages)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.blocks = append(e.blocks, b)
	e.mu.Unlock()

	b.start()
	return b, nil
}

// currentBlock returns the most recently started block, or nil.
func (e *epochProvingState) currentBlock() *blockProvingState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.blocks) == 0 {
		return nil
	}
	return e.blocks[len(e.blocks)-1]
}

func (e *epochProvingState) block(index int) (*blockProvingState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if index < 0 || index >= len(e.blocks) {
		return nil, violation("block %d has not been started in epoch %d", index, e.number)
	}
	return e.blocks[index], nil
}

// blockCompleted folds a completed block into the epoch trees.
func (e *epochProvingState) blockCompleted(b *blockProvingState, proof circuits.Proof) {
	if err := e.blockMerge.Resolve(b.index, proof); err != nil {
		e.log.Warn().Err(err).Int("block_index", b.index).Msg("Failed to fold block root")
	}
	if err := e.parity.Resolve(b.index, b.parityRoot); err != nil {
		e.log.Warn().Err(err).Int("block_index", b.index).Msg("Failed to fold block parity root")
	}
}

// blockFailed poisons the epoch trees at the block's position.
func (e *epochProvingState) blockFailed(b *blockProvingState, cause error) {
	_ = e.blockMerge.Reject(b.index, cause)
	_ = e.parity.Reject(b.index, cause)
	e.fail(cause)
}

// finalise waits for the root rollup. Repeated calls after success return the
// same proof without new circuit requests.
func (e *epochProvingState) finalise(ctx context.Context) (circuits.Proof, error) {
	if p := e.completed.Load(); p != nil {
		return *p, nil
	}
	if cause := e.failure.get(); cause != nil {
		return circuits.Proof{}, &EpochFailure{Epoch: e.number, Cause: cause}
	}

	started, completed := e.blockCounts()
	if started < e.totalBlocks {
		return circuits.Proof{}, capacityMismatch("epoch %d started %d of %d blocks", e.number, started, e.totalBlocks)
	}
	if completed < e.totalBlocks {
		return circuits.Proof{}, capacityMismatch("epoch %d completed %d of %d blocks", e.number, completed, e.totalBlocks)
	}

	proof, err := e.root.Wait(ctx)
	if err != nil {
		if errors.Is(err, errEpochDiscarded) {
			return circuits.Proof{}, err
		}
		if cause := e.failure.get(); cause != nil {
			return circuits.Proof{}, &EpochFailure{Epoch: e.number, Cause: cause}
		}
		return circuits.Proof{}, err
	}

	if e.completed.CompareAndSwap(nil, &proof) {
		e.log.Info().
			Str("commitment", proof.Commitment.Hex()).
			Dur("duration", time.Since(e.startedAt)).
			Msg("Epoch proving completed")
		e.metrics.RecordEpoch("completed", e.number)
	}
	return *e.completed.Load(), nil
}

func (e *epochProvingState) blockCounts() (started, completed int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, b := range e.blocks {
		if b.completed.Load() != nil {
			completed++
		}
	}
	return len(e.blocks), completed
}

func (e *epochProvingState) state() string {
	switch {
	case e.failure.get() != nil:
		return StateFailed
	case e.completed.Load() != nil:
		return StateCompleted
	case e.discarded():
		return StateDiscarded
	default:
		return StateBuilding
	}
}

func (e *epochProvingState) status() Status {
	e.mu.RLock()
	blocks := make([]*blockProvingState, len(e.blocks))
	copy(blocks, e.blocks)
	e.mu.RUnlock()

	s := Status{
		Active:         true,
		Epoch:          e.number,
		RunID:          e.runID.String(),
		State:          e.state(),
		TotalBlocks:    e.totalBlocks,
		StartedAt:      e.startedAt,
		Blocks:         make([]BlockStatus, 0, len(blocks)),
		BlockMergeTree: treeStatus(e.blockMerge),
		ParityTree:     treeStatus(e.parity),
	}
	for _, b := range blocks {
		bs := b.status()
		if bs.State == StateCompleted {
			s.CompletedBlocks++
		}
		s.Blocks = append(s.Blocks, bs)
	}
	s.StartedBlocks = len(blocks)
	if p := e.completed.Load(); p != nil {
		s.Root = p
	}
	if cause := e.failure.get(); cause != nil {
		s.Error = cause.Error()
	}
	return s
}
