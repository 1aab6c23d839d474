package relayer

import (
	"context"
	"fmt"
	"strings"

	"go-relayer/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// StoreAdapter ordered, status-filterable access to persisted requests
type StoreAdapter interface {
	// FindMined returns the most recent mined request in natural order, or nil
	FindMined(ctx context.Context) (*models.DelegateRequest, error)
	// FindBacklog returns requests in natural order whose status is one of statuses.
	// A non-nil anchor restricts the result to requests at or after it.
	FindBacklog(ctx context.Context, anchor *models.DelegateRequest, statuses []models.RequestStatus) ([]*models.DelegateRequest, error)
	// UpdateStatus applies update to one request atomically
	UpdateStatus(ctx context.Context, id string, update models.RequestUpdate) (*models.DelegateRequest, error)
}

// ChainReceipt a mined receipt together with its current confirmation count
type ChainReceipt struct {
	Receipt       *types.Receipt
	Confirmations uint64
}

// ChainGateway read access to chain state and the relayer wallet's submission primitive
type ChainGateway interface {
	PendingNonce(ctx context.Context, address common.Address) (uint64, error)
	// Receipt returns nil, nil while the transaction is not mined
	Receipt(ctx context.Context, hash common.Hash) (*ChainReceipt, error)
	Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, error)
	// Submit sends call with the given nonce. Failures are *ChainError.
	Submit(ctx context.Context, call ContractCall, nonce uint64) (common.Hash, error)
}

// ContractCall the chain call built from a request's context
type ContractCall struct {
	Contract  common.Address
	Function  string
	Arguments []string
}

// CallFromRequest builds the contract call described by req.Context
func CallFromRequest(req *models.DelegateRequest) (ContractCall, error) {
	target := strings.TrimSpace(req.Context.ContractAddress)
	if !common.IsHexAddress(target) {
		return ContractCall{}, fmt.Errorf("invalid contract address %q", req.Context.ContractAddress)
	}
	function := strings.TrimSpace(req.Context.FunctionName)
	if function == "" {
		return ContractCall{}, fmt.Errorf("missing function name")
	}
	return ContractCall{
		Contract:  common.HexToAddress(target),
		Function:  function,
		Arguments: req.Context.Arguments,
	}, nil
}
