package relayer

import (
	"context"
	"fmt"

	"go-relayer/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// NonceTracker computes where a reconciliation pass resumes the nonce sequence
type NonceTracker struct {
	gateway ChainGateway
	relayer common.Address
	logger  logrus.FieldLogger
}

// NewNonceTracker creates a tracker for the relayer wallet address
func NewNonceTracker(gateway ChainGateway, relayerAddress common.Address, logger logrus.FieldLogger) *NonceTracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NonceTracker{
		gateway: gateway,
		relayer: relayerAddress,
		logger:  logger,
	}
}

// ResolveStartingNonce returns lastMined.Nonce+1, or the chain's pending
// transaction count when nothing has been mined yet.
func (t *NonceTracker) ResolveStartingNonce(ctx context.Context, lastMined *models.DelegateRequest) (uint64, error) {
	if lastMined != nil && lastMined.Nonce != nil {
		return *lastMined.Nonce + 1, nil
	}
	if lastMined != nil {
		t.logger.WithField("request_id", lastMined.ID).Warn("[NonceTracker] Mined request has no nonce, bootstrapping from chain")
	}

	nonce, err := t.gateway.PendingNonce(ctx, t.relayer)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce for %s: %w", t.relayer.Hex(), err)
	}
	t.logger.WithFields(logrus.Fields{
		"address": t.relayer.Hex(),
		"nonce":   nonce,
	}).Info("[NonceTracker] Bootstrapped nonce from chain")
	return nonce, nil
}
