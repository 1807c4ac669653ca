package facilitatorclient

import (
	"fmt"
	"os"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// TokenEnvVar is consulted when CreateBearerAuthHeaders is given an empty
// token, so deployments can keep the credential out of code and flags.
const TokenEnvVar = "X402_FACILITATOR_TOKEN"

// CreateBearerAuthHeaders returns a CreateAuthHeaders func that attaches the
// same bearer token to every facilitator operation.
func CreateBearerAuthHeaders(token string) func() (map[string]map[string]string, error) {
	return func() (map[string]map[string]string, error) {
		tok := token
		if tok == "" {
			tok = os.Getenv(TokenEnvVar)
		}
		if tok == "" {
			return nil, fmt.Errorf("missing credentials: %s must be set", TokenEnvVar)
		}

		authorization := map[string]string{"Authorization": "Bearer " + tok}

		operations := []string{
			authHeaderVerify,
			authHeaderSettle,
			authHeaderSupported,
			authHeaderList,
			authHeaderRegister,
			authHeaderUnregister,
		}
		headers := make(map[string]map[string]string, len(operations))
		for _, op := range operations {
			headers[op] = authorization
		}
		return headers, nil
	}
}

// CreateFacilitatorConfig builds a config for a facilitator that expects a
// static bearer token. An empty URL selects the default facilitator; an empty
// token defers to the X402_FACILITATOR_TOKEN environment variable.
func CreateFacilitatorConfig(url, token string) *types.FacilitatorConfig {
	if url == "" {
		url = DefaultFacilitatorURL
	}
	return &types.FacilitatorConfig{
		URL:               url,
		CreateAuthHeaders: CreateBearerAuthHeaders(token),
	}
}
