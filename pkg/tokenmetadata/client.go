// Package tokenmetadata resolves SEP-41 token metadata (name, symbol,
// decimals) from Soroban contracts via read-only simulation.
//
// Resource servers pricing routes in a contract asset use this to discover
// the token's decimal count instead of hardcoding it.
package tokenmetadata

import (
	"context"
	"fmt"
	"sync"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/client"
	"github.com/stellar/stellar-rpc/protocol"
)

// AssetNative is the asset sentinel for lumens (XLM).
const AssetNative = "native"

// NativeDecimals is the decimal precision of the native asset.
const NativeDecimals = 7

// TokenMetadata describes a token as reported by its contract.
type TokenMetadata struct {
	// Asset is the contract id the metadata was read from, or "native".
	Asset    string `json:"asset"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint32 `json:"decimals"`
}

// Simulator is the slice of the Soroban RPC API the metadata client needs.
// Satisfied by *client.Client.
type Simulator interface {
	SimulateTransaction(ctx context.Context, request protocol.SimulateTransactionRequest) (protocol.SimulateTransactionResponse, error)
}

var _ Simulator = (*client.Client)(nil)

// Config contains configuration for the token metadata client
type Config struct {
	// Soroban answers the read-only simulations.
	Soroban Simulator
	// SourceAccount is an existing account (G...) used as the simulation
	// source. The account is never charged; any funded account works.
	SourceAccount string
}

// Client reads token metadata through contract simulations and caches
// results per contract. Safe for concurrent use.
type Client struct {
	soroban Simulator
	source  string

	mu    sync.Mutex
	cache map[string]*TokenMetadata
}

// NewClient creates a new token metadata client
func NewClient(config Config) (*Client, error) {
	if config.Soroban == nil {
		return nil, fmt.Errorf("soroban client is required")
	}
	if !strkey.IsValidEd25519PublicKey(config.SourceAccount) {
		return nil, fmt.Errorf("invalid simulation source account: %s", config.SourceAccount)
	}

	return &Client{
		soroban: config.Soroban,
		source:  config.SourceAccount,
		cache:   make(map[string]*TokenMetadata),
	}, nil
}

// GetMetadata fetches token metadata for the given asset. The "native"
// sentinel resolves locally; contract assets are simulated once and cached.
func (c *Client) GetMetadata(ctx context.Context, asset string) (*TokenMetadata, error) {
	if asset == AssetNative {
		return &TokenMetadata{
			Asset:    AssetNative,
			Name:     "Stellar Lumens",
			Symbol:   "XLM",
			Decimals: NativeDecimals,
		}, nil
	}

	c.mu.Lock()
	if cached, ok := c.cache[asset]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	metadata, err := c.fetchMetadata(ctx, asset)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[asset] = metadata
	c.mu.Unlock()

	return metadata, nil
}

// fetchMetadata runs the three SEP-41 read calls against the contract.
func (c *Client) fetchMetadata(ctx context.Context, contractID string) (*TokenMetadata, error) {
	name, err := c.callString(ctx, contractID, "name")
	if err != nil {
		return nil, err
	}

	symbol, err := c.callString(ctx, contractID, "symbol")
	if err != nil {
		return nil, err
	}

	decimals, err := c.callU32(ctx, contractID, "decimals")
	if err != nil {
		return nil, err
	}

	return &TokenMetadata{
		Asset:    contractID,
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
	}, nil
}

func (c *Client) callString(ctx context.Context, contractID, function string) (string, error) {
	val, err := c.call(ctx, contractID, function)
	if err != nil {
		return "", err
	}

	switch val.Type {
	case xdr.ScValTypeScvString:
		if val.Str == nil {
			return "", fmt.Errorf("%s() returned an empty string value", function)
		}
		return string(*val.Str), nil
	case xdr.ScValTypeScvSymbol:
		if val.Sym == nil {
			return "", fmt.Errorf("%s() returned an empty symbol value", function)
		}
		return string(*val.Sym), nil
	default:
		return "", fmt.Errorf("%s() returned %s, expected a string", function, val.Type)
	}
}

func (c *Client) callU32(ctx context.Context, contractID, function string) (uint32, error) {
	val, err := c.call(ctx, contractID, function)
	if err != nil {
		return 0, err
	}

	if val.Type != xdr.ScValTypeScvU32 || val.U32 == nil {
		return 0, fmt.Errorf("%s() returned %s, expected u32", function, val.Type)
	}
	return uint32(*val.U32), nil
}

// call simulates a zero-argument contract function and returns its value.
func (c *Client) call(ctx context.Context, contractID, function string) (*xdr.ScVal, error) {
	contractAddr, err := contractScAddress(contractID)
	if err != nil {
		return nil, fmt.Errorf("invalid asset contract id %s: %w", contractID, err)
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: c.source},
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{
			&txnbuild.InvokeHostFunction{
				HostFunction: xdr.HostFunction{
					Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
					InvokeContract: &xdr.InvokeContractArgs{
						ContractAddress: contractAddr,
						FunctionName:    xdr.ScSymbol(function),
					},
				},
			},
		},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewInfiniteTimeout()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build %s() call: %w", function, err)
	}

	b64, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s() call: %w", function, err)
	}

	sim, err := c.soroban.SimulateTransaction(ctx, protocol.SimulateTransactionRequest{Transaction: b64})
	if err != nil {
		return nil, fmt.Errorf("failed to simulate %s(): %w", function, err)
	}
	if sim.Error != "" {
		return nil, fmt.Errorf("%s() simulation failed: %s", function, sim.Error)
	}
	if len(sim.Results) == 0 || sim.Results[0].ReturnValueXDR == nil {
		return nil, fmt.Errorf("%s() returned no value", function)
	}

	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(*sim.Results[0].ReturnValueXDR, &val); err != nil {
		return nil, fmt.Errorf("failed to decode %s() result: %w", function, err)
	}
	return &val, nil
}

func contractScAddress(contractID string) (xdr.ScAddress, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return xdr.ScAddress{}, err
	}
	var cid xdr.ContractId
	copy(cid[:], raw)
	return xdr.ScAddress{
		Type:       xdr.ScAddressTypeScAddressTypeContract,
		ContractId: &cid,
	}, nil
}
