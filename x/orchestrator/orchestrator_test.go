package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/compose-network/prover-orchestrator/x/circuits"
	"github.com/compose-network/prover-orchestrator/x/circuits/testprover"
)

func newTestOrchestrator(t *testing.T, p circuits.Prover, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(p, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(o.Stop)
	return o
}

func testGlobals(block uint64) circuits.GlobalVariables {
	return circuits.GlobalVariables{
		ChainID:     77,
		Version:     1,
		BlockNumber: block,
		SlotNumber:  block * 2,
		Timestamp:   1_700_000_000 + block*12,
	}
}

func testTx(block, i int) circuits.ProcessedTx {
	return circuits.ProcessedTx{
		Hash:         common.BigToHash(big.NewInt(int64(block*1000 + i + 1))),
		PublicInputs: []byte{byte(block), byte(i)},
	}
}

func testMessages(n int) []common.Hash {
	msgs := make([]common.Hash, n)
	for i := range msgs {
		msgs[i] = common.BigToHash(big.NewInt(int64(100 + i)))
	}
	return msgs
}

// provenBlock starts a block, adds txs one by one waiting for each base proof, and completes it.
// Adding stops early once the block has failed.
func provenBlock(t *testing.T, o *Orchestrator, block, txs int) (circuits.Proof, error) {
	t.Helper()
	ctx := t.Context()

	require.NoError(t, o.StartNewBlock(ctx, txs, testGlobals(uint64(block+1)), testMessages(2)))
	for i := 0; i < txs; i++ {
		f, err := o.AddNewTx(ctx, testTx(block, i))
		if err != nil {
			require.ErrorIs(t, err, ErrProtocolViolation)
			break
		}
		_, _ = f.Wait(ctx)
	}
	return o.SetBlockCompleted(ctx)
}

func TestNew_RequiresProver(t *testing.T) {
	t.Parallel()

	_, err := New(nil, zerolog.Nop())
	require.Error(t, err)
}

func TestScenarioA_EpochOfThreeBlocks(t *testing.T) {
	t.Parallel()

	p := testprover.New(zerolog.Nop())
	o := newTestOrchestrator(t, p)
	ctx := t.Context()

	require.NoError(t, o.StartNewEpoch(1, 3))
	for block := 0; block < 3; block++ {
		proof, err := provenBlock(t, o, block, 3)
		require.NoError(t, err, "block %d", block)
		assert.Equal(t, circuits.KindBlockRootRollup, proof.Kind)
	}

	root, err := o.FinaliseEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, circuits.KindRootRollup, root.Kind)
	assert.False(t, root.IsZero())

	assert.Equal(t, 9, p.Calls(circuits.KindBaseRollup))
	assert.Equal(t, 6, p.Calls(circuits.KindMergeRollup))
	assert.Equal(t, 3, p.Calls(circuits.KindBlockRootRollup))
	assert.Equal(t, 2, p.Calls(circuits.KindBlockMergeRollup))
	assert.Equal(t, 1, p.Calls(circuits.KindRootRollup))
	assert.Equal(t, 3*circuits.NumBaseParityPerRootParity, p.Calls(circuits.KindBaseParity))
	// three per block parity tree plus two over the block parity roots
	assert.Equal(t, 3*3+2, p.Calls(circuits.KindRootParity))

	status := o.Status()
	assert.True(t, status.Active)
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 3, status.CompletedBlocks)
	require.NotNil(t, status.Root)
	assert.Equal(t, root, *status.Root)
	for _, b := range status.Blocks {
		assert.Equal(t, StateCompleted, b.State)
		assert.Equal(t, 3, b.AddedTxs)
		assert.Equal(t, 6, b.TxTree.Ready)
	}
}

func TestCompletion_SingleShot(t *testing.T) {
	t.Parallel()

	p := testprover.New(zerolog.Nop())
	o := newTestOrchestrator(t, p)
	ctx := t.Context()

	require.NoError(t, o.StartNewEpoch(4, 1))
	blockRoot, err := provenBlock(t, o, 0, 5)
	require.NoError(t, err)
	root, err := o.FinaliseEpoch(ctx)
	require.NoError(t, err)

	calls := p.TotalCalls()

	again, err := o.SetBlockCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, blockRoot, again)

	againRoot, err := o.FinaliseEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, againRoot)

	assert.Equal(t, calls, p.TotalCalls())
}

func TestScenarioB_MergeFailurePoisonsBlockAndEpoch(t *testing.T) {
	t.Parallel()

	// Each 3-transaction block issues two merges; the third merge belongs to block 1.
	p := testprover.New(zerolog.Nop()).FailNth(circuits.KindMergeRollup, 3, errors.New("Merge Rollup Failed"))
	o := newTestOrchestrator(t, p)
	ctx := t.Context()

	require.NoError(t, o.StartNewEpoch(1, 3))

	_, err := provenBlock(t, o, 0, 3)
	require.NoError(t, err)

	_, err = provenBlock(t, o, 1, 3)
	require.EqualError(t, err, "Block proving failed: Merge Rollup Failed")

	var bf *BlockFailure
	require.ErrorAs(t, err, &bf)
	assert.Equal(t, 1, bf.Index)
	kind, ok := circuits.FailedKind(err)
	require.True(t, ok)
	assert.Equal(t, circuits.KindMergeRollup, kind)

	err = o.StartNewBlock(ctx, 3, testGlobals(3), nil)
	require.ErrorIs(t, err, ErrProtocolViolation)

	_, err = o.FinaliseEpoch(ctx)
	require.EqualError(t, err, "Epoch proving failed: Merge Rollup Failed")
	var ef *EpochFailure
	require.ErrorAs(t, err, &ef)
	assert.EqualValues(t, 1, ef.Epoch)

	status := o.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, "Merge Rollup Failed", status.Error)
	require.Len(t, status.Blocks, 2)
	assert.Equal(t, StateCompleted, status.Blocks[0].State)
	assert.Equal(t, StateFailed, status.Blocks[1].State)
}

func TestScenarioC_ExtraTxRejectedBeforeProverCall(t *testing.T) {
	t.Parallel()

	p := testprover.New(zerolog.Nop())
	o := newTestOrchestrator(t, p)
	ctx := t.Context()

	require.NoError(t, o.StartNewEpoch(1, 1))
	require.NoError(t, o.StartNewBlock(ctx, 3, testGlobals(1), testMessages(2)))
	for i := 0; i < 3; i++ {
		f, err := o.AddNewTx(ctx, testTx(0, i))
		require.NoError(t, err)
		_, err = f.Wait(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 3, p.Calls(circuits.KindBaseRollup))

	f, err := o.AddNewTx(ctx, testTx(0, 3))
	require.ErrorIs(t, err, ErrProtocolViolation)
	assert.Nil(t, f)
	assert.Equal(t, 3, p.Calls(circuits.KindBaseRollup))
}

func TestPoisoning_EveryCircuitKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind       circuits.Kind
		blockLevel bool
	}{
		{kind: circuits.KindBaseRollup, blockLevel: true},
		{kind: circuits.KindMergeRollup, blockLevel: true},
		{kind: circuits.KindBlockRootRollup, blockLevel: true},
		{kind: circuits.KindBaseParity, blockLevel: true},
		{kind: circuits.KindRootParity, blockLevel: true},
		{kind: circuits.KindBlockMergeRollup},
		{kind: circuits.KindRootRollup},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()

			msg := "injected " + tt.kind.String() + " failure"
			p := testprover.New(zerolog.Nop()).FailWith(tt.kind, errors.New(msg))
			o := newTestOrchestrator(t, p)
			ctx := t.Context()

			require.NoError(t, o.StartNewEpoch(9, 2))

			for block := 0; block < 2; block++ {
				require.NoError(t, o.StartNewBlock(ctx, 2, testGlobals(uint64(block+1)), testMessages(5)))
				for i := 0; i < 2; i++ {
					if _, err := o.AddNewTx(ctx, testTx(block, i)); err != nil {
						// the block may already have failed
						require.ErrorIs(t, err, ErrProtocolViolation)
						break
					}
				}

				_, err := o.SetBlockCompleted(ctx)
				if tt.blockLevel {
					require.EqualError(t, err, "Block proving failed: "+msg)
					kind, ok := circuits.FailedKind(err)
					require.True(t, ok)
					assert.Equal(t, tt.kind, kind)
					break
				}
				require.NoError(t, err)
			}

			_, err := o.FinaliseEpoch(ctx)
			require.EqualError(t, err, "Epoch proving failed: "+msg)
			assert.Equal(t, StateFailed, o.Status().State)
		})
	}
}

func TestOrderIndependence(t *testing.T) {
	t.Parallel()

	perms := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3},
		{1, 4, 0, 3, 2},
	}

	var roots []circuits.Proof
	for _, perm := range perms {
		o := newTestOrchestrator(t, testprover.New(zerolog.Nop()))
		ctx := t.Context()

		require.NoError(t, o.StartNewEpoch(2, 1))
		require.NoError(t, o.StartNewBlock(ctx, len(perm), testGlobals(1), testMessages(3)))
		for _, slot := range perm {
			_, err := o.AddNewTxAt(ctx, slot, testTx(0, slot))
			require.NoError(t, err)
		}

		root, err := o.SetBlockCompleted(ctx)
		require.NoError(t, err)
		roots = append(roots, root)
	}

	for i := 1; i < len(roots); i++ {
		assert.Equal(t, roots[0], roots[i], "permutation %v", perms[i])
	}
}

func TestConcurrentSubmission(t *testing.T) {
	t.Parallel()

	const txs = 16
	ctx := t.Context()

	sequential := newTestOrchestrator(t, testprover.New(zerolog.Nop()))
	require.NoError(t, sequential.StartNewEpoch(3, 1))
	require.NoError(t, sequential.StartNewBlock(ctx, txs, testGlobals(1), testMessages(2)))
	for i := 0; i < txs; i++ {
		_, err := sequential.AddNewTxAt(ctx, i, testTx(0, i))
		require.NoError(t, err)
	}
	want, err := sequential.SetBlockCompleted(ctx)
	require.NoError(t, err)

	p := testprover.New(zerolog.Nop()).WithLatency(circuits.KindBaseRollup, time.Millisecond)
	concurrent := newTestOrchestrator(t, p)
	require.NoError(t, concurrent.StartNewEpoch(3, 1))
	require.NoError(t, concurrent.StartNewBlock(ctx, txs, testGlobals(1), testMessages(2)))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < txs; i++ {
		g.Go(func() error {
			f, err := concurrent.AddNewTxAt(gctx, i, testTx(0, i))
			if err != nil {
				return err
			}
			_, err = f.Wait(gctx)
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := concurrent.SetBlockCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, txs-1, p.Calls(circuits.KindMergeRollup))
}

func TestFailedBlockLeavesSiblingsUnaffected(t *testing.T) {
	t.Parallel()

	// block 0 uses base rollup calls 1 and 2, so the third call is block 1's first transaction
	boom := errors.New("Base Rollup Failed")
	p := testprover.New(zerolog.Nop()).FailNth(circuits.KindBaseRollup, 3, boom)
	o := newTestOrchestrator(t, p)
	ctx := t.Context()

	require.NoError(t, o.StartNewEpoch(5, 2))

	require.NoError(t, o.StartNewBlock(ctx, 2, testGlobals(1), testMessages(2)))
	for i := 0; i < 2; i++ {
		f, err := o.AddNewTx(ctx, testTx(0, i))
		require.NoError(t, err)
		_, err = f.Wait(ctx)
		require.NoError(t, err)
	}

	// block 0 is still in flight when block 1 starts
	require.NoError(t, o.StartNewBlock(ctx, 2, testGlobals(2), testMessages(2)))
	f, err := o.AddNewTx(ctx, testTx(1, 0))
	require.NoError(t, err)
	_, err = f.Wait(ctx)
	require.ErrorIs(t, err, boom)

	_, err = o.AddNewTx(ctx, testTx(1, 1))
	require.ErrorIs(t, err, ErrProtocolViolation)

	_, err = o.SetBlockCompleted(ctx)
	require.EqualError(t, err, "Block proving failed: Base Rollup Failed")

	proof, err := o.SetBlockCompletedAt(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, circuits.KindBlockRootRollup, proof.Kind)

	_, err = o.FinaliseEpoch(ctx)
	require.EqualError(t, err, "Epoch proving failed: Base Rollup Failed")

	status := o.Status()
	require.Len(t, status.Blocks, 2)
	assert.Equal(t, StateCompleted, status.Blocks[0].State)
	assert.Equal(t, StateFailed, status.Blocks[1].State)
	assert.Equal(t, 3, status.Blocks[0].TxTree.Ready)
}

func TestProtocolViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		run  func(ctx context.Context, o *Orchestrator) error
	}{
		{
			name: "block without epoch",
			run: func(ctx context.Context, o *Orchestrator) error {
				return o.StartNewBlock(ctx, 1, testGlobals(1), nil)
			},
		},
		{
			name: "tx without epoch",
			run: func(ctx context.Context, o *Orchestrator) error {
				_, err := o.AddNewTx(ctx, testTx(0, 0))
				return err
			},
		},
		{
			name: "complete without epoch",
			run: func(ctx context.Context, o *Orchestrator) error {
				_, err := o.SetBlockCompleted(ctx)
				return err
			},
		},
		{
			name: "finalise without epoch",
			run: func(ctx context.Context, o *Orchestrator) error {
				_, err := o.FinaliseEpoch(ctx)
				return err
			},
		},
		{
			name: "epoch without blocks",
			run: func(ctx context.Context, o *Orchestrator) error {
				return o.StartNewEpoch(1, 0)
			},
		},
		{
			name: "tx without block",
			run: func(ctx context.Context, o *Orchestrator) error {
				if err := o.StartNewEpoch(1, 1); err != nil {
					return err
				}
				_, err := o.AddNewTx(ctx, testTx(0, 0))
				return err
			},
		},
		{
			name: "block without transactions",
			run: func(ctx context.Context, o *Orchestrator) error {
				if err := o.StartNewEpoch(1, 1); err != nil {
					return err
				}
				return o.StartNewBlock(ctx, 0, testGlobals(1), nil)
			},
		},
		{
			name: "too many messages",
			run: func(ctx context.Context, o *Orchestrator) error {
				if err := o.StartNewEpoch(1, 1); err != nil {
					return err
				}
				return o.StartNewBlock(ctx, 1, testGlobals(1), testMessages(circuits.NumberOfL1ToL2MessagesPerRollup+1))
			},
		},
		{
			name: "epoch already has all blocks",
			run: func(ctx context.Context, o *Orchestrator) error {
				if err := o.StartNewEpoch(1, 1); err != nil {
					return err
				}
				if err := o.StartNewBlock(ctx, 1, testGlobals(1), nil); err != nil {
					return err
				}
				if _, err := o.AddNewTx(ctx, testTx(0, 0)); err != nil {
					return err
				}
				return o.StartNewBlock(ctx, 1, testGlobals(2), nil)
			},
		},
		{
			name: "previous block still open",
			run: func(ctx context.Context, o *Orchestrator) error {
				if err := o.StartNewEpoch(1, 2); err != nil {
					return err
				}
				if err := o.StartNewBlock(ctx, 2, testGlobals(1), nil); err != nil {
					return err
				}
				return o.StartNewBlock(ctx, 2, testGlobals(2), nil)
			},
		},
		{
			name: "slot out of range",
			run: func(ctx context.Context, o *Orchestrator) error {
				if err := o.StartNewEpoch(1, 1); err != nil {
					return err
				}
				if err := o.StartNewBlock(ctx, 2, testGlobals(1), nil); err != nil {
					return err
				}
				_, err := o.AddNewTxAt(ctx, 2, testTx(0, 2))
				return err
			},
		},
		{
			name: "slot already filled",
			run: func(ctx context.Context, o *Orchestrator) error {
				if err := o.StartNewEpoch(1, 1); err != nil {
					return err
				}
				if err := o.StartNewBlock(ctx, 2, testGlobals(1), nil); err != nil {
					return err
				}
				if _, err := o.AddNewTxAt(ctx, 1, testTx(0, 1)); err != nil {
					return err
				}
				_, err := o.AddNewTxAt(ctx, 1, testTx(0, 1))
				return err
			},
		},
		{
			name: "unknown block index",
			run: func(ctx context.Context, o *Orchestrator) error {
				if err := o.StartNewEpoch(1, 2); err != nil {
					return err
				}
				_, err := o.SetBlockCompletedAt(ctx, 1)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := testprover.New(zerolog.Nop())
			o := newTestOrchestrator(t, p)
			require.ErrorIs(t, tt.run(t.Context(), o), ErrProtocolViolation)
		})
	}
}

func TestCapacityMismatch(t *testing.T) {
	t.Parallel()

	p := testprover.New(zerolog.Nop())
	o := newTestOrchestrator(t, p)
	ctx := t.Context()

	require.NoError(t, o.StartNewEpoch(6, 2))
	require.NoError(t, o.StartNewBlock(ctx, 3, testGlobals(1), testMessages(2)))
	for i := 0; i < 2; i++ {
		_, err := o.AddNewTx(ctx, testTx(0, i))
		require.NoError(t, err)
	}

	_, err := o.SetBlockCompleted(ctx)
	require.ErrorIs(t, err, ErrCapacityMismatch)

	_, err = o.FinaliseEpoch(ctx)
	require.ErrorIs(t, err, ErrCapacityMismatch)

	_, err = o.AddNewTx(ctx, testTx(0, 2))
	require.NoError(t, err)
	_, err = o.SetBlockCompleted(ctx)
	require.NoError(t, err)

	// one of two declared blocks completed
	_, err = o.FinaliseEpoch(ctx)
	require.ErrorIs(t, err, ErrCapacityMismatch)

	// started but not completed
	require.NoError(t, o.StartNewBlock(ctx, 1, testGlobals(2), testMessages(2)))
	_, err = o.AddNewTx(ctx, testTx(1, 0))
	require.NoError(t, err)
	_, err = o.FinaliseEpoch(ctx)
	require.ErrorIs(t, err, ErrCapacityMismatch)

	_, err = o.SetBlockCompleted(ctx)
	require.NoError(t, err)
	_, err = o.FinaliseEpoch(ctx)
	require.NoError(t, err)
}

func TestStartNewEpoch_DiscardsPrevious(t *testing.T) {
	t.Parallel()

	p := testprover.New(zerolog.Nop()).WithLatency(circuits.KindBaseRollup, time.Hour)
	o := newTestOrchestrator(t, p)
	ctx := t.Context()

	require.NoError(t, o.StartNewEpoch(1, 1))
	require.NoError(t, o.StartNewBlock(ctx, 1, testGlobals(1), testMessages(2)))
	f, err := o.AddNewTx(ctx, testTx(0, 0))
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	completed := make(chan error, 1)
	go func() {
		_, err := o.SetBlockCompleted(waitCtx)
		completed <- err
	}()
	// let the completion call block on the root before the epoch goes away
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, o.StartNewEpoch(2, 1))

	_, err = f.Wait(waitCtx)
	require.ErrorIs(t, err, ErrProtocolViolation)
	assert.NotErrorIs(t, err, context.Canceled)

	select {
	case err = <-completed:
	case <-waitCtx.Done():
		t.Fatal("block completion was not released by the discarded epoch")
	}
	require.ErrorIs(t, err, ErrProtocolViolation)
	var blockErr *BlockFailure
	assert.False(t, errors.As(err, &blockErr), "discard must not surface as a block failure: %v", err)

	status := o.Status()
	assert.EqualValues(t, 2, status.Epoch)
	assert.Equal(t, StateBuilding, status.State)
	assert.Empty(t, status.Blocks)
}

func TestCircuitTimeoutCountsAsRejection(t *testing.T) {
	t.Parallel()

	p := testprover.New(zerolog.Nop()).WithLatency(circuits.KindBaseRollup, time.Hour)
	o := newTestOrchestrator(t, p, WithCircuitTimeout(20*time.Millisecond))
	ctx := t.Context()

	require.NoError(t, o.StartNewEpoch(1, 1))
	require.NoError(t, o.StartNewBlock(ctx, 1, testGlobals(1), testMessages(2)))
	f, err := o.AddNewTx(ctx, testTx(0, 0))
	require.NoError(t, err)

	_, err = f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = o.SetBlockCompleted(ctx)
	require.EqualError(t, err, "Block proving failed: "+context.DeadlineExceeded.Error())
}

func TestStop_ReleasesEpoch(t *testing.T) {
	t.Parallel()

	p := testprover.New(zerolog.Nop())
	o, err := New(p, zerolog.Nop(), WithMetrics(NewMetrics()))
	require.NoError(t, err)

	require.NoError(t, o.StartNewEpoch(1, 1))
	o.Stop()

	assert.False(t, o.Status().Active)
	_, err = o.FinaliseEpoch(t.Context())
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestEpochKeepsFirstBlockFailure(t *testing.T) {
	t.Parallel()

	first := errors.New("Base Rollup Failed")
	second := errors.New("Block Root Rollup Failed")
	p := testprover.New(zerolog.Nop()).
		WithLatency(circuits.KindBaseRollup, 50*time.Millisecond).
		FailNth(circuits.KindBaseRollup, 1, first).
		WithLatency(circuits.KindBlockRootRollup, 200*time.Millisecond).
		FailNth(circuits.KindBlockRootRollup, 1, second)
	o := newTestOrchestrator(t, p)
	ctx := t.Context()

	require.NoError(t, o.StartNewEpoch(1, 2))

	// both blocks are in flight before block 0's base rollup is rejected
	require.NoError(t, o.StartNewBlock(ctx, 1, testGlobals(1), testMessages(2)))
	_, err := o.AddNewTx(ctx, testTx(0, 0))
	require.NoError(t, err)
	require.NoError(t, o.StartNewBlock(ctx, 1, testGlobals(2), testMessages(2)))
	_, err = o.AddNewTx(ctx, testTx(1, 0))
	require.NoError(t, err)

	_, err = o.SetBlockCompletedAt(ctx, 1)
	require.EqualError(t, err, "Block proving failed: Block Root Rollup Failed")

	_, err = o.SetBlockCompletedAt(ctx, 0)
	require.EqualError(t, err, "Block proving failed: Base Rollup Failed")

	_, err = o.FinaliseEpoch(ctx)
	var epochErr *EpochFailure
	require.ErrorAs(t, err, &epochErr)
	require.ErrorIs(t, err, first)
	assert.NotErrorIs(t, err, second)
	assert.Equal(t, "Epoch proving failed: Base Rollup Failed", err.Error())

	status := o.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, "Base Rollup Failed", status.Error)
}

func TestStop_ReleasesFinaliseAsDiscarded(t *testing.T) {
	t.Parallel()

	p := testprover.New(zerolog.Nop()).WithLatency(circuits.KindRootRollup, time.Hour)
	o := newTestOrchestrator(t, p)
	ctx := t.Context()

	require.NoError(t, o.StartNewEpoch(1, 1))
	_, err := provenBlock(t, o, 0, 2)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	finalised := make(chan error, 1)
	go func() {
		_, err := o.FinaliseEpoch(waitCtx)
		finalised <- err
	}()
	time.Sleep(20 * time.Millisecond)
	o.Stop()

	select {
	case err = <-finalised:
	case <-waitCtx.Done():
		t.Fatal("finalisation was not released by Stop")
	}
	require.ErrorIs(t, err, ErrProtocolViolation)
	var epochErr *EpochFailure
	assert.False(t, errors.As(err, &epochErr), "discard must not surface as an epoch failure: %v", err)
}
