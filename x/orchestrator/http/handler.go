package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	apicommon "github.com/compose-network/prover-orchestrator/server/api"
	"github.com/compose-network/prover-orchestrator/x/circuits"
	"github.com/compose-network/prover-orchestrator/x/orchestrator"
)

// Service is the slice of the orchestrator the HTTP surface drives.
type Service interface {
	StartNewEpoch(epochNumber uint64, totalBlocks int) error
	StartNewBlock(ctx context.Context, expectedTxCount int, globals circuits.GlobalVariables, l1ToL2Messages []common.Hash) error
	AddNewTx(ctx context.Context, tx circuits.ProcessedTx) (*orchestrator.ProofFuture, error)
	AddNewTxAt(ctx context.Context, index int, tx circuits.ProcessedTx) (*orchestrator.ProofFuture, error)
	SetBlockCompleted(ctx context.Context) (circuits.Proof, error)
	SetBlockCompletedAt(ctx context.Context, blockIndex int) (circuits.Proof, error)
	FinaliseEpoch(ctx context.Context) (circuits.Proof, error)
	Status() orchestrator.Status
}

var _ Service = (*orchestrator.Orchestrator)(nil)

type Handler struct {
	svc Service
	log zerolog.Logger
}

func NewHandler(svc Service, log zerolog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With().Str("component", "orchestrator-http").Logger(),
	}
}

func (h *Handler) handleStartEpoch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req startEpochReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_json", "failed to decode request", nil)
		return
	}
	if req.TotalBlocks < 1 {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_total_blocks", "total_blocks must be positive", nil)
		return
	}

	if err := h.svc.StartNewEpoch(req.EpochNumber, req.TotalBlocks); err != nil {
		h.writeOrchestratorError(w, r, err)
		return
	}

	apicommon.WriteJSON(w, http.StatusCreated, h.svc.Status())
}

func (h *Handler) handleStartBlock(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req startBlockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_json", "failed to decode request", nil)
		return
	}
	if req.ExpectedTxCount < 1 {
		apicommon.WriteError(
			w, r,
			http.StatusBadRequest,
			"invalid_expected_tx_count",
			"expected_tx_count must be positive",
			nil,
		)
		return
	}
	if len(req.L1ToL2Messages) > circuits.NumberOfL1ToL2MessagesPerRollup {
		apicommon.WriteError(
			w, r,
			http.StatusBadRequest,
			"too_many_messages",
			fmt.Sprintf("at most %d L1-to-L2 messages per block", circuits.NumberOfL1ToL2MessagesPerRollup),
			nil,
		)
		return
	}

	if err := h.svc.StartNewBlock(r.Context(), req.ExpectedTxCount, req.Globals, req.L1ToL2Messages); err != nil {
		h.writeOrchestratorError(w, r, err)
		return
	}

	apicommon.WriteJSON(w, http.StatusCreated, map[string]any{"status": "started"})
}

// handleAddTxs submits txs in request order. Txs accepted before a failing one stay accepted.
func (h *Handler) handleAddTxs(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req addTxsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_json", "failed to decode request", nil)
		return
	}
	if len(req.Txs) == 0 || len(req.Txs) > maxTxsPerRequest {
		apicommon.WriteError(
			w, r,
			http.StatusBadRequest,
			"invalid_txs",
			fmt.Sprintf("provide between 1 and %d txs", maxTxsPerRequest),
			nil,
		)
		return
	}

	ctx := r.Context()
	now := time.Now()
	futures := make([]*orchestrator.ProofFuture, 0, len(req.Txs))
	for i, t := range req.Txs {
		tx := circuits.ProcessedTx{Hash: t.Hash, PublicInputs: t.PublicInputs, ProcessedAt: now}

		var (
			f   *orchestrator.ProofFuture
			err error
		)
		if t.Index != nil {
			f, err = h.svc.AddNewTxAt(ctx, *t.Index, tx)
		} else {
			f, err = h.svc.AddNewTx(ctx, tx)
		}
		if err != nil {
			h.log.Warn().Err(err).Int("position", i).Str("tx_hash", t.Hash.Hex()).Msg("Transaction rejected")
			h.writeOrchestratorError(w, r, err, withDetails(map[string]any{"accepted": i}))
			return
		}
		futures = append(futures, f)
	}

	if !req.Wait {
		apicommon.WriteJSON(w, http.StatusAccepted, addTxsResp{Accepted: len(futures)})
		return
	}

	results := make([]txResult, len(futures))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range futures {
		g.Go(func() error {
			results[i] = txResult{Position: i, Hash: req.Txs[i].Hash}
			proof, err := f.Wait(gctx)
			switch {
			case err != nil && gctx.Err() != nil:
				// the request ended; circuit timeouts are per-transaction results
				return gctx.Err()
			case err != nil:
				results[i].Error = err.Error()
			default:
				results[i].Proof = &proof
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.writeOrchestratorError(w, r, err)
		return
	}

	apicommon.WriteJSON(w, http.StatusOK, addTxsResp{Accepted: len(futures), Results: results})
}

func (h *Handler) handleCompleteBlock(w http.ResponseWriter, r *http.Request) {
	var (
		proof circuits.Proof
		err   error
	)
	if raw, ok := mux.Vars(r)["index"]; ok {
		index, perr := strconv.Atoi(raw)
		if perr != nil {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_index", "block index must be an integer", nil)
			return
		}
		proof, err = h.svc.SetBlockCompletedAt(r.Context(), index)
	} else {
		proof, err = h.svc.SetBlockCompleted(r.Context())
	}
	if err != nil {
		h.writeOrchestratorError(w, r, err)
		return
	}

	apicommon.WriteJSON(w, http.StatusOK, proofResp{Proof: proof})
}

func (h *Handler) handleFinaliseEpoch(w http.ResponseWriter, r *http.Request) {
	proof, err := h.svc.FinaliseEpoch(r.Context())
	if err != nil {
		h.writeOrchestratorError(w, r, err)
		return
	}

	apicommon.WriteJSON(w, http.StatusOK, proofResp{Proof: proof})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Status()
	if !st.Active {
		apicommon.WriteError(w, r, http.StatusNotFound, "no_epoch", "no epoch has been started", nil)
		return
	}

	apicommon.WriteJSON(w, http.StatusOK, st)
}

type errorOption func(details map[string]any)

func withDetails(extra map[string]any) errorOption {
	return func(details map[string]any) {
		for k, v := range extra {
			details[k] = v
		}
	}
}

// writeOrchestratorError maps orchestrator errors onto HTTP statuses.
func (h *Handler) writeOrchestratorError(w http.ResponseWriter, r *http.Request, err error, opts ...errorOption) {
	details := make(map[string]any)
	for _, opt := range opts {
		opt(details)
	}

	var (
		status int
		code   string
		block  *orchestrator.BlockFailure
		epoch  *orchestrator.EpochFailure
	)
	switch {
	case errors.As(err, &block):
		status, code = http.StatusUnprocessableEntity, "block_failed"
		details["block_index"] = block.Index
	case errors.As(err, &epoch):
		status, code = http.StatusUnprocessableEntity, "epoch_failed"
		details["epoch"] = epoch.Epoch
	case errors.Is(err, orchestrator.ErrProtocolViolation):
		status, code = http.StatusConflict, "protocol_violation"
	case errors.Is(err, orchestrator.ErrCapacityMismatch):
		status, code = http.StatusPreconditionFailed, "capacity_mismatch"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status, code = http.StatusGatewayTimeout, "timeout"
	default:
		status, code = http.StatusInternalServerError, "internal_error"
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Unexpected orchestrator error")
	}

	var circuitErr *circuits.CircuitFailure
	if errors.As(err, &circuitErr) {
		details["circuit"] = circuitErr.Kind.String()
	}

	var payload any
	if len(details) > 0 {
		payload = details
	}
	apicommon.WriteError(w, r, status, code, err.Error(), payload)
}
