// Package prover implements circuits.Prover against a remote proving service.
package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/compose-network/prover-orchestrator/x/circuits"
)

// Job states reported by the proving service.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var errJobPending = errors.New("proof job still pending")

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithPollInterval sets the first delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *HTTPClient) {
		c.pollInterval = d
	}
}

// WithMaxPollInterval caps the delay between status polls.
func WithMaxPollInterval(d time.Duration) Option {
	return func(c *HTTPClient) {
		c.maxPollInterval = d
	}
}

// HTTPClient implements circuits.Prover over the prover REST API: a job is
// submitted with POST /proof and polled with GET /proof/{id} until it settles.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	log        zerolog.Logger

	pollInterval    time.Duration
	maxPollInterval time.Duration
}

// NewHTTPClient constructs a prover client for the given base URL.
func NewHTTPClient(rawURL string, httpClient *http.Client, log zerolog.Logger, opts ...Option) (*HTTPClient, error) {
	if rawURL == "" {
		return nil, errors.New("base URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid prover base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := log.With().Str("component", "prover-client").Logger()

	client := &HTTPClient{
		baseURL:         parsed,
		httpClient:      httpClient,
		log:             logger,
		pollInterval:    500 * time.Millisecond,
		maxPollInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(client)
	}

	logger.Info().
		Str("base_url", rawURL).
		Dur("timeout", httpClient.Timeout).
		Dur("poll_interval", client.pollInterval).
		Msg("HTTP prover client initialized")

	return client, nil
}

func (c *HTTPClient) GetBaseRollupProof(ctx context.Context, in circuits.BaseRollupInputs) (circuits.Proof, error) {
	return c.prove(ctx, circuits.KindBaseRollup, in)
}

func (c *HTTPClient) GetMergeRollupProof(ctx context.Context, left, right circuits.Proof) (circuits.Proof, error) {
	return c.prove(ctx, circuits.KindMergeRollup, pairInputs{Left: left, Right: right})
}

func (c *HTTPClient) GetBlockRootRollupProof(
	ctx context.Context,
	txRoot, parityRoot circuits.Proof,
	in circuits.BlockRootInputs,
) (circuits.Proof, error) {
	return c.prove(ctx, circuits.KindBlockRootRollup, blockRootInputs{
		TxRoot:          txRoot,
		ParityRoot:      parityRoot,
		BlockRootInputs: in,
	})
}

func (c *HTTPClient) GetBlockMergeRollupProof(ctx context.Context, left, right circuits.Proof) (circuits.Proof, error) {
	return c.prove(ctx, circuits.KindBlockMergeRollup, pairInputs{Left: left, Right: right})
}

func (c *HTTPClient) GetRootRollupProof(ctx context.Context, blockMergeRoot, parityRoot circuits.Proof) (circuits.Proof, error) {
	return c.prove(ctx, circuits.KindRootRollup, rootRollupInputs{BlockMergeRoot: blockMergeRoot, ParityRoot: parityRoot})
}

func (c *HTTPClient) GetBaseParityProof(ctx context.Context, batch circuits.MessageBatch) (circuits.Proof, error) {
	return c.prove(ctx, circuits.KindBaseParity, batch)
}

func (c *HTTPClient) GetRootParityProof(ctx context.Context, left, right circuits.Proof) (circuits.Proof, error) {
	return c.prove(ctx, circuits.KindRootParity, pairInputs{Left: left, Right: right})
}

// prove submits a job and waits for it. A job the service marks failed is
// returned as an error carrying the service's message; transport errors while
// polling are retried until ctx is done.
func (c *HTTPClient) prove(ctx context.Context, kind circuits.Kind, inputs any) (circuits.Proof, error) {
	jobID, err := c.RequestProof(ctx, kind, inputs)
	if err != nil {
		return circuits.Proof{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = c.maxPollInterval
	b.MaxElapsedTime = 0

	return backoff.RetryNotifyWithData[circuits.Proof](func() (circuits.Proof, error) {
		status, err := c.GetStatus(ctx, jobID)
		if err != nil {
			return circuits.Proof{}, err
		}
		switch status.Status {
		case StatusCompleted:
			proof := status.Proof
			if proof.Kind == "" {
				proof.Kind = kind
			}
			return proof, nil
		case StatusFailed:
			return circuits.Proof{}, backoff.Permanent(errors.New(status.Error))
		default:
			return circuits.Proof{}, errJobPending
		}
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		if errors.Is(err, errJobPending) {
			return
		}
		c.log.Warn().Err(err).Str("job_id", jobID).Dur("retry_after", next).Msg("proof status poll failed")
	})
}

// RequestProof submits a circuit job to the prover service and returns its id.
func (c *HTTPClient) RequestProof(ctx context.Context, kind circuits.Kind, inputs any) (string, error) {
	endpoint := c.buildURL("proof")
	requestKey := uuid.NewString()

	c.log.Debug().
		Str("endpoint", endpoint).
		Str("circuit", kind.String()).
		Str("request_key", requestKey).
		Msg("requesting proof generation")

	body, err := json.Marshal(proofRequest{Circuit: kind, RequestKey: requestKey, Inputs: inputs})
	if err != nil {
		return "", fmt.Errorf("marshal proof job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("prepare request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("endpoint", endpoint).Msg("proof request failed")
		return "", fmt.Errorf("post proof request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		c.log.Error().
			Int("status_code", res.StatusCode).
			Str("status", res.Status).
			Str("response", string(msg)).
			Msg("prover returned error response")
		return "", fmt.Errorf("prover returned %s: %s", res.Status, string(msg))
	}

	var submission submissionResponse
	if err := json.NewDecoder(res.Body).Decode(&submission); err != nil {
		return "", fmt.Errorf("decode prover response: %w", err)
	}

	if !submission.Success {
		errMsg := submission.errorMessage()
		c.log.Error().Str("error", errMsg).Str("circuit", kind.String()).Msg("prover rejected proof job")
		return "", errors.New(errMsg)
	}

	if submission.RequestID == "" {
		return "", errors.New("prover response missing request_id")
	}

	c.log.Debug().
		Str("job_id", submission.RequestID).
		Str("circuit", kind.String()).
		Msg("proof job submitted")

	return submission.RequestID, nil
}

// JobStatus is the decoded state of a prover job.
type JobStatus struct {
	Status        string
	Proof         circuits.Proof
	ProvingTimeMS *uint64
	Error         string
}

// GetStatus fetches the status of a previously submitted job.
func (c *HTTPClient) GetStatus(ctx context.Context, jobID string) (JobStatus, error) {
	if jobID == "" {
		return JobStatus{}, errors.New("jobID is required")
	}

	endpoint := c.buildURL(path.Join("proof", jobID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("prepare status request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return JobStatus{}, fmt.Errorf("get proof status: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return JobStatus{}, fmt.Errorf("prover returned %s: %s", res.Status, string(msg))
	}

	var status statusResponse
	if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
		return JobStatus{}, fmt.Errorf("decode status response: %w", err)
	}

	result := JobStatus{Status: status.Status, Error: status.errorMessage()}
	if !status.Success && result.Status != StatusFailed {
		if result.Error == "" {
			return JobStatus{}, errors.New("prover returned unsuccessful status")
		}
		return JobStatus{}, fmt.Errorf("prover reported failure: %s", result.Error)
	}
	if result.Status == StatusFailed && result.Error == "" {
		result.Error = "proof job " + jobID + " failed"
	}

	if status.Result != nil {
		result.Proof = circuits.Proof{
			Kind:       status.Result.Circuit,
			Commitment: common.HexToHash(status.Result.Commitment),
			Data:       status.Result.Proof.Clone(),
		}
		result.ProvingTimeMS = status.Result.ProvingTimeMs
	}

	c.log.Debug().
		Str("job_id", jobID).
		Str("status", result.Status).
		Interface("proving_time_ms", result.ProvingTimeMS).
		Bool("has_proof", len(result.Proof.Data) > 0).
		Msg("retrieved proof job status")

	return result, nil
}

func (c *HTTPClient) buildURL(elem ...string) string {
	clone := *c.baseURL
	clone.Path = path.Join(append([]string{c.baseURL.Path}, elem...)...)
	return clone.String()
}

type proofRequest struct {
	Circuit    circuits.Kind `json:"circuit"`
	RequestKey string        `json:"request_key"`
	Inputs     any           `json:"inputs"`
}

type pairInputs struct {
	Left  circuits.Proof `json:"left"`
	Right circuits.Proof `json:"right"`
}

type blockRootInputs struct {
	TxRoot     circuits.Proof `json:"tx_root"`
	ParityRoot circuits.Proof `json:"parity_root"`
	circuits.BlockRootInputs
}

type rootRollupInputs struct {
	BlockMergeRoot circuits.Proof `json:"block_merge_root"`
	ParityRoot     circuits.Proof `json:"parity_root"`
}

type submissionResponse struct {
	Success   bool    `json:"success"`
	Message   string  `json:"message"`
	RequestID string  `json:"request_id"`
	Error     *string `json:"error"`
}

func (r submissionResponse) errorMessage() string {
	if r.Error != nil {
		return *r.Error
	}
	return r.Message
}

type statusResponse struct {
	Success bool          `json:"success"`
	Status  string        `json:"status"`
	Result  *statusResult `json:"result"`
	Error   *string       `json:"error"`
}

func (r statusResponse) errorMessage() string {
	if r.Error != nil {
		return *r.Error
	}
	return ""
}

type statusResult struct {
	Circuit       circuits.Kind       `json:"circuit"`
	Proof         circuits.ProofBytes `json:"proof"`
	Commitment    string              `json:"commitment"`
	ProvingTimeMs *uint64             `json:"proving_time_ms"`
}

// Ensure HTTPClient satisfies circuits.Prover at compile time.
var _ circuits.Prover = (*HTTPClient)(nil)
