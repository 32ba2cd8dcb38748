// Package orchestrator drives the proving of an epoch: it accepts blocks and
// transactions in any order, requests circuit proofs as soon as their inputs
// exist, merges them pairwise up to one root per block and one root per epoch,
// and confines circuit failures to the block and epoch they belong to.
package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/compose-network/prover-orchestrator/x/circuits"
)

const nextSlot = -1

// Orchestrator is the entry point for epoch proving. It holds at most one live epoch.
type Orchestrator struct {
	cfg    Config
	caller *circuitCaller
	log    zerolog.Logger

	mu    sync.Mutex
	epoch *epochProvingState
}

// New creates an orchestrator that sends circuit requests to prover.
func New(prover circuits.Prover, log zerolog.Logger, opts ...Option) (*Orchestrator, error) {
	if prover == nil {
		return nil, errors.New("prover is required")
	}

	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := log.With().Str("component", "orchestrator").Logger()

	return &Orchestrator{
		cfg: cfg,
		caller: &circuitCaller{
			prover:  prover,
			timeout: cfg.CircuitTimeout,
			metrics: cfg.Metrics,
			log:     logger,
		},
		log: logger,
	}, nil
}

// StartNewEpoch begins proving epochNumber with totalBlocks blocks. Any live epoch is discarded.
func (o *Orchestrator) StartNewEpoch(epochNumber uint64, totalBlocks int) error {
	if totalBlocks < 1 {
		return violation("epoch %d needs at least one block, got %d", epochNumber, totalBlocks)
	}

	e, err := newEpochProvingState(epochNumber, totalBlocks, o.caller, o.cfg.Metrics, o.log)
	if err != nil {
		return err
	}

	o.mu.Lock()
	prev := o.epoch
	o.epoch = e
	o.mu.Unlock()

	if prev != nil {
		prev.discard()
	}
	e.start()

	e.log.Info().Int("total_blocks", totalBlocks).Msg("Epoch started")
	o.cfg.Metrics.RecordEpoch("started", epochNumber)
	return nil
}

// StartNewBlock opens the next block of the live epoch and requests its parity proofs.
func (o *Orchestrator) StartNewBlock(
	ctx context.Context,
	expectedTxCount int,
	globals circuits.GlobalVariables,
	l1ToL2Messages []common.Hash,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if expectedTxCount < 1 {
		return violation("block needs at least one transaction, got %d", expectedTxCount)
	}
	if len(l1ToL2Messages) > circuits.NumberOfL1ToL2MessagesPerRollup {
		return violation("block carries %d L1-to-L2 messages, at most %d allowed",
			len(l1ToL2Messages), circuits.NumberOfL1ToL2MessagesPerRollup)
	}

	e, err := o.current()
	if err != nil {
		return err
	}

	b, err := e.addBlock(expectedTxCount, globals, l1ToL2Messages)
	if err != nil {
		return err
	}

	b.log.Info().
		Int("expected_txs", expectedTxCount).
		Int("l1_to_l2_messages", len(l1ToL2Messages)).
		Msg("Block started")
	o.cfg.Metrics.RecordBlock("started")
	return nil
}

// AddNewTx assigns tx to the lowest free slot of the current block and requests
// its base rollup. The future settles with that base rollup's outcome only.
func (o *Orchestrator) AddNewTx(ctx context.Context, tx circuits.ProcessedTx) (*ProofFuture, error) {
	return o.addTx(ctx, nextSlot, false, tx)
}

// AddNewTxAt is AddNewTx for an explicit slot index.
func (o *Orchestrator) AddNewTxAt(ctx context.Context, index int, tx circuits.ProcessedTx) (*ProofFuture, error) {
	return o.addTx(ctx, index, true, tx)
}

func (o *Orchestrator) addTx(ctx context.Context, index int, explicit bool, tx circuits.ProcessedTx) (*ProofFuture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := o.currentBlock()
	if err != nil {
		return nil, err
	}

	slot, err := b.reserve(index, explicit)
	if err != nil {
		return nil, err
	}

	f := newProofFuture()
	go b.proveTx(slot, tx, f)

	b.log.Debug().Int("tx_index", slot).Str("tx_hash", tx.Hash.Hex()).Msg("Transaction added")
	o.cfg.Metrics.RecordTx()
	return f, nil
}

// SetBlockCompleted waits for the current block's root proof and folds it into the epoch.
func (o *Orchestrator) SetBlockCompleted(ctx context.Context) (circuits.Proof, error) {
	b, err := o.currentBlock()
	if err != nil {
		return circuits.Proof{}, err
	}
	return b.complete(ctx)
}

// SetBlockCompletedAt is SetBlockCompleted for an earlier block of the live epoch.
func (o *Orchestrator) SetBlockCompletedAt(ctx context.Context, blockIndex int) (circuits.Proof, error) {
	e, err := o.current()
	if err != nil {
		return circuits.Proof{}, err
	}
	b, err := e.block(blockIndex)
	if err != nil {
		return circuits.Proof{}, err
	}
	return b.complete(ctx)
}

// FinaliseEpoch waits for the live epoch's root rollup proof.
func (o *Orchestrator) FinaliseEpoch(ctx context.Context) (circuits.Proof, error) {
	e, err := o.current()
	if err != nil {
		return circuits.Proof{}, err
	}
	return e.finalise(ctx)
}

// Status returns a snapshot of the live epoch.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	e := o.epoch
	o.mu.Unlock()

	if e == nil {
		return Status{}
	}
	return e.status()
}

// Stop discards the live epoch, releasing its waiters.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	e := o.epoch
	o.epoch = nil
	o.mu.Unlock()

	if e != nil {
		e.discard()
	}
	o.log.Info().Msg("Orchestrator stopped")
}

func (o *Orchestrator) current() (*epochProvingState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch == nil {
		return nil, violation("no epoch has been started")
	}
	return o.epoch, nil
}

func (o *Orchestrator) currentBlock() (*blockProvingState, error) {
	e, err := o.current()
	if err != nil {
		return nil, err
	}
	b := e.currentBlock()
	if b == nil {
		return nil, violation("no block has been started in epoch %d", e.number)
	}
	return b, nil
}
