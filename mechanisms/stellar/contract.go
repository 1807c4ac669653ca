package stellar

import (
	"fmt"
	"math/big"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
)

// transferFunctionName is the SEP-41 token transfer entry point.
const transferFunctionName = "transfer"

// transferDetails carries the decoded arguments of a token transfer
// invocation: transfer(from, to, amount).
type transferDetails struct {
	Contract string
	From     string
	To       string
	Amount   *big.Int
}

// buildTransferInvocation constructs an InvokeHostFunction operation calling
// transfer(from, to, amount) on the given token contract.
func buildTransferInvocation(contractID, from, to string, units *big.Int) (*txnbuild.InvokeHostFunction, error) {
	contractAddr, err := contractScAddress(contractID)
	if err != nil {
		return nil, fmt.Errorf("invalid asset contract id %s: %w", contractID, err)
	}
	fromAddr, err := accountScAddress(from)
	if err != nil {
		return nil, fmt.Errorf("invalid source account %s: %w", from, err)
	}
	toAddr, err := accountScAddress(to)
	if err != nil {
		return nil, fmt.Errorf("invalid destination account %s: %w", to, err)
	}
	amountVal, err := i128FromBigInt(units)
	if err != nil {
		return nil, err
	}

	return &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: contractAddr,
				FunctionName:    xdr.ScSymbol(transferFunctionName),
				Args: []xdr.ScVal{
					{Type: xdr.ScValTypeScvAddress, Address: &fromAddr},
					{Type: xdr.ScValTypeScvAddress, Address: &toAddr},
					{Type: xdr.ScValTypeScvI128, I128: &amountVal},
				},
			},
		},
	}, nil
}

// parseTransferInvocation decodes a transfer(from, to, amount) invocation
// back out of an InvokeHostFunction operation.
func parseTransferInvocation(op *txnbuild.InvokeHostFunction) (*transferDetails, error) {
	if op.HostFunction.Type != xdr.HostFunctionTypeHostFunctionTypeInvokeContract || op.HostFunction.InvokeContract == nil {
		return nil, fmt.Errorf("operation does not invoke a contract")
	}

	invoke := op.HostFunction.InvokeContract
	if string(invoke.FunctionName) != transferFunctionName {
		return nil, fmt.Errorf("expected %s invocation, got %s", transferFunctionName, invoke.FunctionName)
	}
	if len(invoke.Args) != 3 {
		return nil, fmt.Errorf("expected 3 transfer arguments, got %d", len(invoke.Args))
	}

	contract, err := scAddressString(invoke.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid contract address: %w", err)
	}
	from, err := scValAddressString(invoke.Args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid transfer source: %w", err)
	}
	to, err := scValAddressString(invoke.Args[1])
	if err != nil {
		return nil, fmt.Errorf("invalid transfer destination: %w", err)
	}

	if invoke.Args[2].Type != xdr.ScValTypeScvI128 || invoke.Args[2].I128 == nil {
		return nil, fmt.Errorf("transfer amount is not an i128")
	}

	return &transferDetails{
		Contract: contract,
		From:     from,
		To:       to,
		Amount:   bigIntFromI128(*invoke.Args[2].I128),
	}, nil
}

func accountScAddress(address string) (xdr.ScAddress, error) {
	accountID, err := xdr.AddressToAccountId(address)
	if err != nil {
		return xdr.ScAddress{}, err
	}
	return xdr.ScAddress{
		Type:      xdr.ScAddressTypeScAddressTypeAccount,
		AccountId: &accountID,
	}, nil
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

func scValAddressString(val xdr.ScVal) (string, error) {
	if val.Type != xdr.ScValTypeScvAddress || val.Address == nil {
		return "", fmt.Errorf("expected address value, got %s", val.Type)
	}
	return scAddressString(*val.Address)
}

func scAddressString(addr xdr.ScAddress) (string, error) {
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if addr.AccountId == nil {
			return "", fmt.Errorf("account address missing account id")
		}
		return addr.AccountId.Address(), nil
	case xdr.ScAddressTypeScAddressTypeContract:
		if addr.ContractId == nil {
			return "", fmt.Errorf("contract address missing contract id")
		}
		return strkey.Encode(strkey.VersionByteContract, (*addr.ContractId)[:])
	default:
		return "", fmt.Errorf("unsupported address type: %s", addr.Type)
	}
}

// i128FromBigInt converts a non-negative big integer into i128 parts.
func i128FromBigInt(v *big.Int) (xdr.Int128Parts, error) {
	if v.Sign() < 0 {
		return xdr.Int128Parts{}, fmt.Errorf("amount cannot be negative: %s", v)
	}
	if v.BitLen() > 127 {
		return xdr.Int128Parts{}, fmt.Errorf("amount exceeds i128 range: %s", v)
	}

	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(v, 64)
	return xdr.Int128Parts{
		Hi: xdr.Int64(hi.Int64()),
		Lo: xdr.Uint64(lo.Uint64()),
	}, nil
}

func bigIntFromI128(parts xdr.Int128Parts) *big.Int {
	v := new(big.Int).SetInt64(int64(parts.Hi))
	v.Lsh(v, 64)
	return v.Add(v, new(big.Int).SetUint64(uint64(parts.Lo)))
}
