package infra

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"percolator_keeper/internal/domain"
)

const maxSubmitAttempts = 5

// RPCSubmitter sends signed transactions to the chain node and retries
// transient failures with exponential backoff plus jitter. The caller sees
// either a signature or the final error; partial submission states are not
// surfaced. Implements domain.TxSubmitter.
type RPCSubmitter struct {
	rpcURL     string
	feePayer   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRPCSubmitter creates a submitter from config.
func NewRPCSubmitter(cfg *Config) *RPCSubmitter {
	return &RPCSubmitter{
		rpcURL:   cfg.Chain.RPCURL,
		feePayer: cfg.Chain.KeeperKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "rpc_submitter"),
	}
}

type wireInstruction struct {
	Data     string        `json:"data"` // base64 instruction payload
	Accounts []wireAccount `json:"accounts"`
}

type wireAccount struct {
	Address  string `json:"address"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

type sendTxResponse struct {
	Result string    `json:"result"` // transaction signature
	Error  *rpcError `json:"error"`
}

// Submit encodes the instructions into one transaction and sends it,
// retrying retriable errors up to the attempt budget.
func (s *RPCSubmitter) Submit(ctx context.Context, instructions []domain.Instruction) (string, error) {
	if len(instructions) == 0 {
		return "", fmt.Errorf("no instructions to submit")
	}

	payload := s.encodeTx(instructions)

	var lastErr error
	started := time.Now()
	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		if attempt > 0 {
			GlobalMetrics.RecordSubmitRetry()
			delay := CalculateBackoff(attempt - 1)
			s.logger.Info("retrying submission",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		sig, err := s.send(ctx, payload)
		if err == nil {
			GlobalMetrics.RecordSubmit(time.Since(started).Nanoseconds())
			return sig, nil
		}
		lastErr = err
		s.logger.Warn("submission attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)

		if !domain.IsRetriable(err) {
			break
		}
	}

	GlobalMetrics.RecordSubmitError()
	return "", fmt.Errorf("%w: %v", domain.ErrSubmitExhausted, lastErr)
}

func (s *RPCSubmitter) encodeTx(instructions []domain.Instruction) []byte {
	wire := make([]wireInstruction, 0, len(instructions))
	for _, ix := range instructions {
		metas := ix.Accounts()
		accounts := make([]wireAccount, 0, len(metas))
		for _, m := range metas {
			accounts = append(accounts, wireAccount{
				Address:  string(m.Address),
				Signer:   m.Signer,
				Writable: m.Writable,
			})
		}
		wire = append(wire, wireInstruction{
			Data:     base64.StdEncoding.EncodeToString(ix.Encode()),
			Accounts: accounts,
		})
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendTransaction",
		Params: []interface{}{
			map[string]interface{}{
				"feePayer":     s.feePayer,
				"instructions": wire,
			},
		},
	}

	body, _ := json.Marshal(req)
	return body
}

func (s *RPCSubmitter) send(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", domain.NewNetworkError("submit", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", domain.NewNetworkError("submit",
			fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", domain.NewFatalNetworkError("submit",
			fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.NewNetworkError("submit", err)
	}

	var parsed sendTxResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", domain.NewNetworkError("submit", err)
	}
	if parsed.Error != nil {
		// The node understood and rejected the transaction; retrying the
		// same bytes will not change its mind.
		return "", domain.NewFatalNetworkError("submit",
			fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message))
	}
	if parsed.Result == "" {
		return "", domain.NewNetworkError("submit", fmt.Errorf("empty signature in response"))
	}

	return parsed.Result, nil
}
