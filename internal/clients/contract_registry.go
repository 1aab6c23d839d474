package clients

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"go-relayer/internal/config"
	"go-relayer/internal/relayer"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// registeredContract a configured contract and its parsed ABI
type registeredContract struct {
	name    string
	address common.Address
	abi     abi.ABI
}

// ContractRegistry resolves request contexts to call data for the configured contracts
type ContractRegistry struct {
	contracts map[common.Address]*registeredContract
}

// NewContractRegistry parses the ABI of every configured contract
func NewContractRegistry(contracts []config.ContractConfig) (*ContractRegistry, error) {
	registry := &ContractRegistry{contracts: make(map[common.Address]*registeredContract, len(contracts))}
	for _, c := range contracts {
		if !common.IsHexAddress(c.Address) {
			return nil, fmt.Errorf("contract %s: invalid address %q", c.Name, c.Address)
		}
		abiJSON, err := c.ABIJSON()
		if err != nil {
			return nil, err
		}
		parsed, err := abi.JSON(strings.NewReader(abiJSON))
		if err != nil {
			return nil, fmt.Errorf("contract %s: failed to parse ABI: %w", c.Name, err)
		}

		address := common.HexToAddress(c.Address)
		registry.contracts[address] = &registeredContract{name: c.Name, address: address, abi: parsed}
	}
	return registry, nil
}

// Len number of registered contracts
func (r *ContractRegistry) Len() int {
	return len(r.contracts)
}

// Has reports whether address is a registered contract
func (r *ContractRegistry) Has(address common.Address) bool {
	_, ok := r.contracts[address]
	return ok
}

// Method resolves a function by name or by canonical signature, e.g. "execute(address,uint256)"
func (r *ContractRegistry) Method(address common.Address, function string) (abi.Method, error) {
	contract, ok := r.contracts[address]
	if !ok {
		return abi.Method{}, fmt.Errorf("contract %s is not registered", address.Hex())
	}

	if method, ok := contract.abi.Methods[function]; ok {
		return method, nil
	}
	for _, method := range contract.abi.Methods {
		if method.Sig == function {
			return method, nil
		}
	}
	return abi.Method{}, fmt.Errorf("contract %s has no function %q", contract.name, function)
}

// Pack builds call data for call, converting its string arguments to the method's input types
func (r *ContractRegistry) Pack(call relayer.ContractCall) ([]byte, error) {
	method, err := r.Method(call.Contract, call.Function)
	if err != nil {
		return nil, err
	}
	if len(call.Arguments) != len(method.Inputs) {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", method.Sig, len(method.Inputs), len(call.Arguments))
	}

	args := make([]interface{}, len(method.Inputs))
	for i, input := range method.Inputs {
		value, err := ConvertArgument(input.Type, call.Arguments[i])
		if err != nil {
			return nil, fmt.Errorf("%s argument %d (%s): %w", method.Sig, i, input.Name, err)
		}
		args[i] = value
	}

	contract := r.contracts[call.Contract]
	data, err := contract.abi.Pack(method.Name, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method.Sig, err)
	}
	return data, nil
}

// ConvertArgument converts a string encoded argument to the Go value abi packing expects for t.
// Arrays and slices are given as JSON arrays of strings.
func ConvertArgument(t abi.Type, raw string) (interface{}, error) {
	value, err := convertValue(t, strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	return value.Interface(), nil
}

func convertValue(t abi.Type, raw string) (reflect.Value, error) {
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return reflect.Value{}, fmt.Errorf("invalid address %q", raw)
		}
		return reflect.ValueOf(common.HexToAddress(raw)), nil

	case abi.BoolTy:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("invalid bool %q", raw)
		}
		return reflect.ValueOf(b), nil

	case abi.StringTy:
		return reflect.ValueOf(raw), nil

	case abi.BytesTy:
		b, err := hexutil.Decode(raw)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("invalid bytes %q: %w", raw, err)
		}
		return reflect.ValueOf(b), nil

	case abi.FixedBytesTy, abi.HashTy:
		b, err := hexutil.Decode(raw)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("invalid bytes%d %q: %w", t.Size, raw, err)
		}
		if len(b) > t.Size {
			return reflect.Value{}, fmt.Errorf("value %q is longer than bytes%d", raw, t.Size)
		}
		out := reflect.New(t.GetType()).Elem()
		reflect.Copy(out, reflect.ValueOf(b))
		return out, nil

	case abi.IntTy, abi.UintTy:
		return convertInteger(t, raw)

	case abi.SliceTy, abi.ArrayTy:
		var items []string
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return reflect.Value{}, fmt.Errorf("expected a JSON array of strings: %w", err)
		}
		if t.T == abi.ArrayTy && len(items) != t.Size {
			return reflect.Value{}, fmt.Errorf("expected %d elements, got %d", t.Size, len(items))
		}

		var out reflect.Value
		if t.T == abi.ArrayTy {
			out = reflect.New(t.GetType()).Elem()
		} else {
			out = reflect.MakeSlice(t.GetType(), len(items), len(items))
		}
		for i, item := range items {
			elem, err := convertValue(*t.Elem, strings.TrimSpace(item))
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(elem)
		}
		return out, nil

	default:
		return reflect.Value{}, fmt.Errorf("unsupported argument type %s", t.String())
	}
}

// convertInteger parses decimal or 0x-prefixed integers into *big.Int or the sized Go integer
func convertInteger(t abi.Type, raw string) (reflect.Value, error) {
	n, ok := new(big.Int).SetString(raw, 0)
	if !ok {
		return reflect.Value{}, fmt.Errorf("invalid integer %q", raw)
	}

	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return reflect.Value{}, fmt.Errorf("%s out of range for uint%d", raw, t.Size)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		if n.Cmp(new(big.Int).Neg(limit)) < 0 || n.Cmp(limit) >= 0 {
			return reflect.Value{}, fmt.Errorf("%s out of range for int%d", raw, t.Size)
		}
	}

	goType := t.GetType()
	if goType == reflect.TypeOf((*big.Int)(nil)) {
		return reflect.ValueOf(n), nil
	}

	out := reflect.New(goType).Elem()
	if t.T == abi.UintTy {
		out.SetUint(n.Uint64())
	} else {
		out.SetInt(n.Int64())
	}
	return out, nil
}
