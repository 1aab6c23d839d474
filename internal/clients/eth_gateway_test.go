package clients

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"

	"go-relayer/internal/config"
	"go-relayer/internal/relayer"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	head        uint64
	pending     uint64
	balance     *big.Int
	receipts    map[common.Hash]*types.Receipt
	txs         map[common.Hash]*types.Transaction
	suggested   *big.Int
	estimate    uint64
	estimateErr error
	sendErr     error
	sent        []*types.Transaction
	lastCall    ethereum.CallMsg
	closed      bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		balance:   big.NewInt(1e18),
		receipts:  make(map[common.Hash]*types.Receipt),
		txs:       make(map[common.Hash]*types.Transaction),
		suggested: big.NewInt(1_000_000_000),
		estimate:  50_000,
	}
}

func (b *fakeBackend) NetworkID(ctx context.Context) (*big.Int, error) { return big.NewInt(97), nil }
func (b *fakeBackend) BlockNumber(ctx context.Context) (uint64, error)  { return b.head, nil }
func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return b.pending, nil
}
func (b *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return b.balance, nil
}
func (b *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if r, ok := b.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}
func (b *fakeBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if tx, ok := b.txs[hash]; ok {
		return tx, false, nil
	}
	return nil, false, ethereum.NotFound
}
func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return b.suggested, nil }
func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.lastCall = msg
	return b.estimate, b.estimateErr
}
func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}
func (b *fakeBackend) Close() { b.closed = true }

func newTestGateway(t *testing.T, backend *fakeBackend, mutate func(*config.BlockchainConfig)) (*EthGateway, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := config.BlockchainConfig{
		ChainID:            97,
		PrivateKey:         "0x" + common.Bytes2Hex(crypto.FromECDSA(key)),
		GasPriceMultiplier: 1.5,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	gw, err := newEthGateway(backend, cfg, newTestRegistry(t), logger)
	require.NoError(t, err)
	return gw, crypto.PubkeyToAddress(key.PublicKey)
}

func executeCall() relayer.ContractCall {
	return relayer.ContractCall{
		Contract:  common.HexToAddress(forwarderAddress),
		Function:  "execute",
		Arguments: []string{"0x00000000000000000000000000000000000000cc", "1", "0x"},
	}
}

func TestEthGateway_SubmitSignsLegacyTransaction(t *testing.T) {
	backend := newFakeBackend()
	gw, from := newTestGateway(t, backend, nil)
	assert.Equal(t, from, gw.Address())

	hash, err := gw.Submit(context.Background(), executeCall(), 12)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, uint64(12), tx.Nonce())
	assert.Equal(t, common.HexToAddress(forwarderAddress), *tx.To())
	assert.Equal(t, big.NewInt(1_500_000_000), tx.GasPrice())
	assert.Equal(t, uint64(60_000), tx.Gas())
	assert.Equal(t, big.NewInt(97), tx.ChainId())

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(97)), tx)
	require.NoError(t, err)
	assert.Equal(t, from, sender)

	expected, err := gw.registry.Pack(executeCall())
	require.NoError(t, err)
	assert.Equal(t, expected, tx.Data())
	assert.Equal(t, from, backend.lastCall.From)
}

func TestEthGateway_SubmitUsesConfiguredGas(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = errors.New("should not estimate")
	gw, _ := newTestGateway(t, backend, func(cfg *config.BlockchainConfig) {
		cfg.GasPrice = "3000000000"
		cfg.GasLimit = 250_000
	})

	_, err := gw.Submit(context.Background(), executeCall(), 0)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, big.NewInt(3_000_000_000), backend.sent[0].GasPrice())
	assert.Equal(t, uint64(250_000), backend.sent[0].Gas())
}

func TestEthGateway_SubmitClassifiesErrors(t *testing.T) {
	backend := newFakeBackend()
	gw, _ := newTestGateway(t, backend, nil)

	backend.sendErr = errors.New("nonce too low")
	_, err := gw.Submit(context.Background(), executeCall(), 0)
	assert.Equal(t, relayer.KindNonceExpired, relayer.KindOf(err))

	backend.sendErr = errors.New("replacement transaction underpriced")
	_, err = gw.Submit(context.Background(), executeCall(), 0)
	assert.Equal(t, relayer.KindReplacementUnderpriced, relayer.KindOf(err))

	// a duplicate of a pooled transaction is not a failure
	backend.sendErr = errors.New("already known")
	hash, err := gw.Submit(context.Background(), executeCall(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	backend.sendErr = nil
	backend.estimateErr = errors.New("insufficient funds for gas * price + value")
	_, err = gw.Submit(context.Background(), executeCall(), 0)
	assert.Equal(t, relayer.KindInsufficientFunds, relayer.KindOf(err))

	// packing failures are permanent
	bad := executeCall()
	bad.Function = "missing"
	_, err = gw.Submit(context.Background(), bad, 0)
	require.Error(t, err)
	var chainErr *relayer.ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, relayer.KindOther, chainErr.Kind)
}

func TestEthGateway_SubmitAcceptsAlreadyKnown(t *testing.T) {
	for _, msg := range []string{"already known", "known transaction: 0xabc", "ALREADY KNOWN"} {
		t.Run(msg, func(t *testing.T) {
			backend := newFakeBackend()
			gw, _ := newTestGateway(t, backend, func(cfg *config.BlockchainConfig) { cfg.GasPrice = "1000000000" })

			first, err := gw.Submit(context.Background(), executeCall(), 7)
			require.NoError(t, err)

			backend.sendErr = errors.New(msg)
			again, err := gw.Submit(context.Background(), executeCall(), 7)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		})
	}
}

func TestEthGateway_Receipt(t *testing.T) {
	backend := newFakeBackend()
	gw, _ := newTestGateway(t, backend, nil)
	hash := common.HexToHash("0x01")

	receipt, err := gw.Receipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Nil(t, receipt)

	backend.head = 104
	backend.receipts[hash] = &types.Receipt{Status: 1, BlockNumber: big.NewInt(100)}
	receipt, err = gw.Receipt(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, uint64(5), receipt.Confirmations)

	// node behind the receipt's block
	backend.head = 99
	receipt, err = gw.Receipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.Confirmations)
}

func TestEthGateway_TransactionAndNonce(t *testing.T) {
	backend := newFakeBackend()
	backend.pending = 33
	gw, from := newTestGateway(t, backend, nil)

	nonce, err := gw.PendingNonce(context.Background(), from)
	require.NoError(t, err)
	assert.Equal(t, uint64(33), nonce)

	tx := types.NewTx(&types.LegacyTx{Nonce: 9})
	backend.txs[tx.Hash()] = tx
	got, err := gw.Transaction(context.Background(), tx.Hash())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.Nonce())

	_, err = gw.Transaction(context.Background(), common.HexToHash("0x02"))
	assert.ErrorIs(t, err, ethereum.NotFound)

	balance, err := gw.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1e18), balance)
}

func TestNewEthGateway_Validation(t *testing.T) {
	backend := newFakeBackend()
	registry := newTestRegistry(t)

	_, err := newEthGateway(backend, config.BlockchainConfig{ChainID: 1}, registry, nil)
	assert.Error(t, err)

	_, err = newEthGateway(backend, config.BlockchainConfig{ChainID: 1, PrivateKey: "zz"}, registry, nil)
	assert.Error(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	_, err = newEthGateway(backend, config.BlockchainConfig{
		ChainID:        1,
		PrivateKey:     hexKey,
		RelayerAddress: "0x00000000000000000000000000000000000000aa",
	}, registry, nil)
	assert.ErrorContains(t, err, "does not match")

	_, err = newEthGateway(backend, config.BlockchainConfig{ChainID: 1, PrivateKey: hexKey, GasPrice: "-1"}, registry, nil)
	assert.Error(t, err)
}
