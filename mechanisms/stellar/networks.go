package stellar

import (
	"fmt"
	"sort"

	"github.com/stellar/go/network"
)

// Network identifiers accepted by this mechanism.
const (
	NetworkTestnet = "stellar-testnet"
	NetworkPubnet  = "stellar"
)

// AssetNative is the asset sentinel for lumens (XLM). Any other asset value
// is interpreted as a Soroban token contract address (C... strkey).
const AssetNative = "native"

// StroopsPerLumen is the number of smallest units (stroops) in one XLM.
const StroopsPerLumen = 10_000_000

// XLMDecimals is the decimal precision of the native asset.
const XLMDecimals = 7

// NetworkConfig carries per-network connection details.
type NetworkConfig struct {
	Network           string
	NetworkPassphrase string
	HorizonURL        string
	SorobanRPCURL     string
}

var networkConfigs = map[string]NetworkConfig{
	NetworkTestnet: {
		Network:           NetworkTestnet,
		NetworkPassphrase: network.TestNetworkPassphrase,
		HorizonURL:        "https://horizon-testnet.stellar.org",
		SorobanRPCURL:     "https://soroban-testnet.stellar.org",
	},
	NetworkPubnet: {
		Network:           NetworkPubnet,
		NetworkPassphrase: network.PublicNetworkPassphrase,
		HorizonURL:        "https://horizon.stellar.org",
		SorobanRPCURL:     "https://mainnet.sorobanrpc.com",
	},
}

// GetNetworkConfig returns the configuration for a supported network.
func GetNetworkConfig(networkID string) (NetworkConfig, error) {
	config, ok := networkConfigs[networkID]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unsupported stellar network: %s", networkID)
	}
	return config, nil
}

// IsValidNetwork reports whether the network identifier is supported.
func IsValidNetwork(networkID string) bool {
	_, ok := networkConfigs[networkID]
	return ok
}

// SupportedNetworks returns the supported network identifiers in stable order.
func SupportedNetworks() []string {
	networks := make([]string, 0, len(networkConfigs))
	for id := range networkConfigs {
		networks = append(networks, id)
	}
	sort.Strings(networks)
	return networks
}
