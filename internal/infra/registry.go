package infra

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"percolator_keeper/internal/domain"
)

// marketAccountSize is the fixed layout of a market account's config head:
// [version u8][oracleAuthority 32][indexFeed 32][collateralMint 32].
// The risk-engine state that follows is opaque to the keeper.
const marketAccountSize = 97

// ChainRegistry enumerates market accounts of the risk-engine program over
// the node's JSON-RPC endpoint. Implements domain.MarketRegistry.
type ChainRegistry struct {
	rpcURL     string
	programID  string
	assets     map[string]string // collateral mint (hex) -> quote asset id
	httpClient *http.Client
	logger     *slog.Logger
}

// NewChainRegistry creates a registry client from config.
func NewChainRegistry(cfg *Config) *ChainRegistry {
	return &ChainRegistry{
		rpcURL:    cfg.Chain.RPCURL,
		programID: cfg.Chain.ProgramID,
		assets:    cfg.Prices.Assets,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "chain_registry"),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type programAccount struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Data []string `json:"data"` // [base64 payload, "base64"]
	} `json:"account"`
}

type programAccountsResponse struct {
	Result []programAccount `json:"result"`
	Error  *rpcError        `json:"error"`
}

// Markets fetches and decodes the current market account set. Accounts that
// fail to decode are skipped with a warning; a malformed registry entry
// must not take the whole discovery down.
func (r *ChainRegistry) Markets(ctx context.Context) ([]domain.MarketSnapshot, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getProgramAccounts",
		Params: []interface{}{
			r.programID,
			map[string]string{"encoding": "base64"},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewNetworkError("discover", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewNetworkError("discover",
			fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError("discover", err)
	}

	var parsed programAccountsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, domain.NewNetworkError("discover", err)
	}
	if parsed.Error != nil {
		return nil, domain.NewFatalNetworkError("discover",
			fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message))
	}

	snaps := make([]domain.MarketSnapshot, 0, len(parsed.Result))
	for _, acc := range parsed.Result {
		if len(acc.Account.Data) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(acc.Account.Data[0])
		if err != nil {
			r.logger.Warn("undecodable market account",
				slog.String("pubkey", acc.Pubkey),
				slog.Any("error", err),
			)
			continue
		}

		snap, err := r.decodeMarketAccount(domain.Address(acc.Pubkey), data)
		if err != nil {
			r.logger.Warn("malformed market account",
				slog.String("pubkey", acc.Pubkey),
				slog.Any("error", err),
			)
			continue
		}
		snaps = append(snaps, snap)
	}

	return snaps, nil
}

func (r *ChainRegistry) decodeMarketAccount(pubkey domain.Address, data []byte) (domain.MarketSnapshot, error) {
	if len(data) < marketAccountSize {
		return domain.MarketSnapshot{}, fmt.Errorf("account data too short: %d bytes", len(data))
	}

	snap := domain.MarketSnapshot{Market: pubkey}
	snap.OracleAuthority = domain.Address(hex.EncodeToString(data[1:33]))
	copy(snap.IndexFeed[:], data[33:65])

	mint := hex.EncodeToString(data[65:97])
	snap.CollateralAsset = r.assets[mint]
	if snap.CollateralAsset == "" {
		r.logger.Warn("no quote asset mapped for collateral mint",
			slog.String("market", string(pubkey)),
			slog.String("mint", mint),
		)
	}
	return snap, nil
}
