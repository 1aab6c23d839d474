package relayer

import (
	"go-relayer/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeReceipt flattens a chain receipt into plain numbers for persistence
func NormalizeReceipt(cr *ChainReceipt) *models.TxReceipt {
	if cr == nil || cr.Receipt == nil {
		return nil
	}
	r := cr.Receipt

	out := &models.TxReceipt{
		Status:            r.Status,
		BlockHash:         r.BlockHash.Hex(),
		TransactionIndex:  uint64(r.TransactionIndex),
		GasUsed:           r.GasUsed,
		CumulativeGasUsed: r.CumulativeGasUsed,
		EffectiveGasPrice: "0",
		LogCount:          len(r.Logs),
		Confirmations:     cr.Confirmations,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = r.EffectiveGasPrice.String()
	}
	if r.ContractAddress != (common.Address{}) {
		out.ContractAddress = r.ContractAddress.Hex()
	}
	return out
}
