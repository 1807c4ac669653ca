package stellar

import (
	"context"
	"net/http"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/stellar-rpc/client"
	"github.com/stellar/stellar-rpc/protocol"
)

// HorizonClient is the slice of the Horizon API this mechanism depends on.
// Satisfied by *horizonclient.Client; tests substitute their own.
type HorizonClient interface {
	AccountDetail(request horizonclient.AccountRequest) (horizon.Account, error)
	SubmitTransaction(tx *txnbuild.Transaction) (horizon.Transaction, error)
	SubmitFeeBumpTransaction(tx *txnbuild.FeeBumpTransaction) (horizon.Transaction, error)
}

var _ HorizonClient = (*horizonclient.Client)(nil)

// SorobanClient is the slice of the Soroban RPC API this mechanism depends
// on: ledger height for expiration windows, and simulate/send/poll for
// contract-asset payments.
type SorobanClient interface {
	GetLatestLedger(ctx context.Context) (protocol.GetLatestLedgerResponse, error)
	SimulateTransaction(ctx context.Context, request protocol.SimulateTransactionRequest) (protocol.SimulateTransactionResponse, error)
	SendTransaction(ctx context.Context, request protocol.SendTransactionRequest) (protocol.SendTransactionResponse, error)
	GetTransaction(ctx context.Context, request protocol.GetTransactionRequest) (protocol.GetTransactionResponse, error)
}

var _ SorobanClient = (*client.Client)(nil)

// NewHorizonClient builds a Horizon client for the given network.
func NewHorizonClient(config NetworkConfig) *horizonclient.Client {
	return &horizonclient.Client{
		HorizonURL: config.HorizonURL,
		HTTP:       http.DefaultClient,
	}
}

// NewSorobanClient builds a Soroban RPC client for the given network.
func NewSorobanClient(config NetworkConfig) *client.Client {
	return client.NewClient(config.SorobanRPCURL, nil)
}
