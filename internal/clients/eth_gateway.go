package clients

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go-relayer/internal/config"
	"go-relayer/internal/relayer"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// ethBackend the subset of *ethclient.Client the gateway uses
type ethBackend interface {
	NetworkID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// gas limit headroom over the node's estimate, percent
const estimateHeadroom = 120

// EthGateway ChainGateway over an EVM JSON-RPC endpoint, signing with a single relayer key
type EthGateway struct {
	backend  ethBackend
	endpoint string
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	registry *ContractRegistry

	gasPrice   *big.Int // nil uses the suggested price
	multiplier float64
	gasLimit   uint64 // 0 estimates per call
	timeout    time.Duration

	logger logrus.FieldLogger
}

var _ relayer.ChainGateway = (*EthGateway)(nil)

// NewEthGateway connects to the first reachable RPC endpoint and loads the relayer key
func NewEthGateway(ctx context.Context, cfg config.BlockchainConfig, registry *ContractRegistry, logger logrus.FieldLogger) (*EthGateway, error) {
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured")
	}

	var (
		client    *ethclient.Client
		err       error
		networkID *big.Int
		endpoint  string
	)
	for i, rpcEndpoint := range cfg.RPCEndpoints {
		entry := logger.WithFields(logrus.Fields{"endpoint": rpcEndpoint, "attempt": i + 1})
		client, err = ethclient.DialContext(ctx, rpcEndpoint)
		if err != nil {
			entry.WithError(err).Warn("[EthGateway] Dial failed")
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
		networkID, err = client.NetworkID(probeCtx)
		cancel()
		if err == nil {
			endpoint = rpcEndpoint
			break
		}
		entry.WithError(err).Warn("[EthGateway] NetworkID check failed")
		client.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("all RPC endpoints failed: %w", err)
	}

	gateway, err := newEthGateway(client, cfg, registry, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	gateway.endpoint = endpoint

	logger.WithFields(logrus.Fields{
		"endpoint":   endpoint,
		"network_id": networkID.String(),
		"relayer":    gateway.from.Hex(),
		"contracts":  registry.Len(),
	}).Info("[EthGateway] Connected")
	return gateway, nil
}

func newEthGateway(backend ethBackend, cfg config.BlockchainConfig, registry *ContractRegistry, logger logrus.FieldLogger) (*EthGateway, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("relayer private key is not configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	if cfg.RelayerAddress != "" && common.HexToAddress(cfg.RelayerAddress) != from {
		return nil, fmt.Errorf("relayer address %s does not match private key address %s", cfg.RelayerAddress, from.Hex())
	}

	var gasPrice *big.Int
	if cfg.GasPrice != "" && cfg.GasPrice != "auto" {
		parsed, ok := new(big.Int).SetString(cfg.GasPrice, 10)
		if !ok || parsed.Sign() <= 0 {
			return nil, fmt.Errorf("invalid gas price %q", cfg.GasPrice)
		}
		gasPrice = parsed
	}

	multiplier := cfg.GasPriceMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &EthGateway{
		backend:    backend,
		chainID:    big.NewInt(cfg.ChainID),
		key:        key,
		from:       from,
		registry:   registry,
		gasPrice:   gasPrice,
		multiplier: multiplier,
		gasLimit:   cfg.GasLimit,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Address the relayer wallet address
func (g *EthGateway) Address() common.Address {
	return g.from
}

// ChainID the chain id transactions are signed for
func (g *EthGateway) ChainID() *big.Int {
	return new(big.Int).Set(g.chainID)
}

func (g *EthGateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// PendingNonce next nonce for address including pending transactions
func (g *EthGateway) PendingNonce(ctx context.Context, address common.Address) (uint64, error) {
	ctx, cancel := g.callContext(ctx)
	defer cancel()
	return g.backend.PendingNonceAt(ctx, address)
}

// Balance the relayer wallet balance at the latest block
func (g *EthGateway) Balance(ctx context.Context) (*big.Int, error) {
	ctx, cancel := g.callContext(ctx)
	defer cancel()
	return g.backend.BalanceAt(ctx, g.from, nil)
}

// Receipt returns the receipt with its confirmation count, nil while not mined
func (g *EthGateway) Receipt(ctx context.Context, hash common.Hash) (*relayer.ChainReceipt, error) {
	ctx, cancel := g.callContext(ctx)
	defer cancel()

	receipt, err := g.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, err
	}

	head, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}

	// a receipt implies at least one confirmation even when the node lags behind
	confirmations := uint64(1)
	if receipt.BlockNumber != nil && head >= receipt.BlockNumber.Uint64() {
		confirmations = head - receipt.BlockNumber.Uint64() + 1
	}
	return &relayer.ChainReceipt{Receipt: receipt, Confirmations: confirmations}, nil
}

// Transaction authoritative transaction lookup
func (g *EthGateway) Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	ctx, cancel := g.callContext(ctx)
	defer cancel()

	tx, _, err := g.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", hash.Hex(), err)
	}
	return tx, nil
}

// Submit signs call as a legacy EIP-155 transaction with nonce and broadcasts it
func (g *EthGateway) Submit(ctx context.Context, call relayer.ContractCall, nonce uint64) (common.Hash, error) {
	data, err := g.registry.Pack(call)
	if err != nil {
		return common.Hash{}, relayer.NewChainError(err)
	}

	ctx, cancel := g.callContext(ctx)
	defer cancel()

	gasPrice, err := g.resolveGasPrice(ctx)
	if err != nil {
		return common.Hash{}, relayer.NewChainError(err)
	}

	gasLimit := g.gasLimit
	if gasLimit == 0 {
		estimated, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:     g.from,
			To:       &call.Contract,
			GasPrice: gasPrice,
			Data:     data,
		})
		if err != nil {
			return common.Hash{}, relayer.NewChainError(fmt.Errorf("gas estimation failed: %w", err))
		}
		gasLimit = estimated * estimateHeadroom / 100
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &call.Contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(g.chainID), g.key)
	if err != nil {
		return common.Hash{}, relayer.NewChainError(fmt.Errorf("failed to sign transaction: %w", err))
	}

	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		if !isAlreadyKnown(err) {
			return common.Hash{}, relayer.NewChainError(err)
		}
		// an identical transaction is already in the pool, so this nonce is ours
		g.logger.WithFields(logrus.Fields{
			"tx_hash": signed.Hash().Hex(),
			"nonce":   nonce,
		}).Info("[EthGateway] Transaction already known to the node")
		return signed.Hash(), nil
	}

	g.logger.WithFields(logrus.Fields{
		"tx_hash":   signed.Hash().Hex(),
		"nonce":     nonce,
		"to":        call.Contract.Hex(),
		"function":  call.Function,
		"gas_limit": gasLimit,
		"gas_price": gasPrice.String(),
	}).Debug("[EthGateway] Transaction broadcast")
	return signed.Hash(), nil
}

// isAlreadyKnown the node holds a transaction with the same hash
func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// resolveGasPrice configured price, or the suggested price scaled by the multiplier
func (g *EthGateway) resolveGasPrice(ctx context.Context) (*big.Int, error) {
	if g.gasPrice != nil {
		return new(big.Int).Set(g.gasPrice), nil
	}

	suggested, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get suggested gas price: %w", err)
	}
	if g.multiplier == 1 {
		return suggested, nil
	}

	scaled, _ := new(big.Float).Mul(new(big.Float).SetInt(suggested), big.NewFloat(g.multiplier)).Int(nil)
	return scaled, nil
}

// Close closes the RPC connection
func (g *EthGateway) Close() {
	g.backend.Close()
}
