package relayer

import (
	"context"
	"fmt"

	"go-relayer/internal/metrics"
	"go-relayer/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// DefaultMaxNonceAttempts bound on consecutive nonce conflicts for one request
const DefaultMaxNonceAttempts = 32

// PublishResult hash and the nonce that was actually accepted
type PublishResult struct {
	TransactionHash common.Hash
	Nonce           uint64
}

// Publisher submits one request's call, walking forward over used nonces
type Publisher struct {
	gateway     ChainGateway
	maxAttempts int
	logger      logrus.FieldLogger
}

// NewPublisher creates a publisher. maxAttempts <= 0 uses DefaultMaxNonceAttempts.
func NewPublisher(gateway ChainGateway, maxAttempts int, logger logrus.FieldLogger) *Publisher {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxNonceAttempts
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Publisher{
		gateway:     gateway,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Publish submits req starting at candidate. On a nonce conflict the next nonce
// is tried immediately; any other error is returned unmodified. The returned
// Nonce may be greater than candidate and is the value callers must adopt.
func (p *Publisher) Publish(ctx context.Context, req *models.DelegateRequest, candidate uint64) (PublishResult, error) {
	call, err := CallFromRequest(req)
	if err != nil {
		return PublishResult{}, err
	}

	nonce := candidate
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return PublishResult{}, err
		}

		hash, err := p.gateway.Submit(ctx, call, nonce)
		if err == nil {
			p.logger.WithFields(logrus.Fields{
				"request_id": req.ID,
				"nonce":      nonce,
				"tx_hash":    hash.Hex(),
				"attempts":   attempt,
			}).Info("[Publisher] Transaction submitted")
			return PublishResult{TransactionHash: hash, Nonce: nonce}, nil
		}
		if !IsNonceConflict(err) {
			return PublishResult{}, err
		}

		kind := KindOf(err)
		metrics.NonceConflicts.WithLabelValues(kind.String()).Inc()
		p.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"nonce":      nonce,
			"kind":       kind.String(),
		}).Warn("[Publisher] Nonce conflict, retrying with next nonce")

		lastErr = err
		nonce++
	}

	return PublishResult{}, fmt.Errorf("%w: %d attempts from nonce %d, last error: %v",
		ErrNonceAttemptsExhausted, p.maxAttempts, candidate, lastErr)
}
