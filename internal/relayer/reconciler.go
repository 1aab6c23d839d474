package relayer

import (
	"context"
	"fmt"
	"time"

	"go-relayer/internal/metrics"
	"go-relayer/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// backlogStatuses statuses a pass examines, the others are either not yet
// authorized or terminal
var backlogStatuses = []models.RequestStatus{
	models.RequestStatusMined,
	models.RequestStatusMining,
	models.RequestStatusConfirmed,
}

// Options reconciler settings taken from configuration
type Options struct {
	RequiredConfirmations uint64
}

// PassResult summary of one reconciliation pass
type PassResult struct {
	StartNonce uint64        `json:"start_nonce"`
	EndNonce   uint64        `json:"end_nonce"`
	Processed  int           `json:"processed"`
	Published  int           `json:"published"`
	Mined      int           `json:"mined"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

// Reconciler drives confirmed and mining requests through their lifecycle.
//
// A pass walks the backlog strictly in natural order and keeps a nonce cursor:
// the nonce the next submission should try. The cursor only moves past nonces
// that were actually consumed on chain. RunPass must never run concurrently
// with itself; callers serialize it (see services.ReconcileScheduler).
type Reconciler struct {
	store     StoreAdapter
	gateway   ChainGateway
	publisher *Publisher
	tracker   *NonceTracker
	opts      Options
	notifier  Notifier
	logger    logrus.FieldLogger
}

// NewReconciler wires the state machine. notifier may be nil.
func NewReconciler(
	store StoreAdapter,
	gateway ChainGateway,
	publisher *Publisher,
	tracker *NonceTracker,
	opts Options,
	notifier Notifier,
	logger logrus.FieldLogger,
) *Reconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		tracker:   tracker,
		opts:      opts,
		notifier:  notifier,
		logger:    logger,
	}
}

// RunPass runs one reconciliation pass. Store and chain-read failures abort the
// pass and are returned; the next pass recomputes everything from the store.
func (r *Reconciler) RunPass(ctx context.Context) (*PassResult, error) {
	started := time.Now()
	result := &PassResult{}

	err := r.runPass(ctx, result)
	result.Duration = time.Since(started)
	metrics.PassDuration.Observe(result.Duration.Seconds())

	if err != nil {
		metrics.PassesTotal.WithLabelValues("error").Inc()
		r.logger.WithFields(logrus.Fields{
			"processed": result.Processed,
			"error":     err.Error(),
		}).Error("[Reconciler] Pass aborted")
		return result, err
	}

	metrics.PassesTotal.WithLabelValues("success").Inc()
	metrics.NonceCursor.Set(float64(result.EndNonce))
	r.logger.WithFields(logrus.Fields{
		"start_nonce": result.StartNonce,
		"end_nonce":   result.EndNonce,
		"processed":   result.Processed,
		"published":   result.Published,
		"mined":       result.Mined,
		"failed":      result.Failed,
		"skipped":     result.Skipped,
		"duration":    result.Duration.String(),
	}).Info("[Reconciler] Pass completed")
	return result, nil
}

func (r *Reconciler) runPass(ctx context.Context, result *PassResult) error {
	lastMined, err := r.store.FindMined(ctx)
	if err != nil {
		return fmt.Errorf("failed to find last mined request: %w", err)
	}

	cursor, err := r.tracker.ResolveStartingNonce(ctx, lastMined)
	if err != nil {
		return fmt.Errorf("failed to resolve starting nonce: %w", err)
	}
	result.StartNonce = cursor
	result.EndNonce = cursor

	backlog, err := r.store.FindBacklog(ctx, lastMined, backlogStatuses)
	if err != nil {
		return fmt.Errorf("failed to load backlog: %w", err)
	}
	metrics.BacklogSize.Set(float64(len(backlog)))

	r.logger.WithFields(logrus.Fields{
		"start_nonce": cursor,
		"backlog":     len(backlog),
	}).Debug("[Reconciler] Pass started")

	for _, req := range backlog {
		next, err := r.reconcile(ctx, req, cursor, result)
		if err != nil {
			return fmt.Errorf("request %s (%s): %w", req.ID, req.Status, err)
		}
		cursor = next
		result.EndNonce = cursor
		result.Processed++
	}
	return nil
}

// reconcile runs exactly one branch for req and returns the new cursor
func (r *Reconciler) reconcile(ctx context.Context, req *models.DelegateRequest, cursor uint64, result *PassResult) (uint64, error) {
	switch req.Status {
	case models.RequestStatusMined:
		if req.Nonce == nil {
			r.logger.WithField("request_id", req.ID).Warn("[Reconciler] Mined request without nonce, cursor unchanged")
			return cursor, nil
		}
		return *req.Nonce + 1, nil

	case models.RequestStatusMining:
		return r.reconcileMining(ctx, req, cursor, result)

	case models.RequestStatusConfirmed:
		return r.publishConfirmed(ctx, req, cursor, result)

	default:
		r.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"status":     req.Status,
		}).Warn("[Reconciler] Unexpected status, skipping")
		result.Skipped++
		return cursor, nil
	}
}

func (r *Reconciler) reconcileMining(ctx context.Context, req *models.DelegateRequest, cursor uint64, result *PassResult) (uint64, error) {
	hash := common.HexToHash(req.TransactionHash)

	receipt, err := r.gateway.Receipt(ctx, hash)
	if err != nil {
		return cursor, fmt.Errorf("failed to get receipt %s: %w", hash.Hex(), err)
	}

	if receipt == nil {
		r.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"tx_hash":    req.TransactionHash,
		}).Debug("[Reconciler] No receipt yet")
		return cursor + 1, nil
	}

	if receipt.Confirmations < r.opts.RequiredConfirmations {
		r.logger.WithFields(logrus.Fields{
			"request_id":    req.ID,
			"confirmations": receipt.Confirmations,
			"required":      r.opts.RequiredConfirmations,
		}).Debug("[Reconciler] Waiting for confirmations")
		return req.NonceOr(cursor) + 1, nil
	}

	tx, err := r.gateway.Transaction(ctx, hash)
	if err != nil {
		return cursor, fmt.Errorf("failed to get transaction %s: %w", hash.Hex(), err)
	}
	nonce := tx.Nonce()

	update := models.RequestUpdate{
		Status:    models.StatusPtr(models.RequestStatusMined),
		TxReceipt: NormalizeReceipt(receipt),
		Nonce:     models.Uint64Ptr(nonce),
	}
	if err := r.persist(ctx, req, update); err != nil {
		return cursor, err
	}
	result.Mined++

	r.logger.WithFields(logrus.Fields{
		"request_id":    req.ID,
		"tx_hash":       req.TransactionHash,
		"nonce":         nonce,
		"confirmations": receipt.Confirmations,
	}).Info("[Reconciler] Request mined")
	return nonce + 1, nil
}

func (r *Reconciler) publishConfirmed(ctx context.Context, req *models.DelegateRequest, cursor uint64, result *PassResult) (uint64, error) {
	published, err := r.publisher.Publish(ctx, req, cursor)
	if err != nil {
		// cancellation is not a property of the request
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cursor, ctxErr
		}

		reason := FailureReason(err)
		update := models.RequestUpdate{
			Status: models.StatusPtr(models.RequestStatusFailed),
			Reason: models.StringPtr(reason),
		}
		if err := r.persist(ctx, req, update); err != nil {
			return cursor, err
		}
		result.Failed++

		r.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"nonce":      cursor,
			"kind":       KindOf(err).String(),
			"reason":     reason,
		}).Warn("[Reconciler] Publish failed, request marked failed")
		return cursor, nil
	}

	update := models.RequestUpdate{
		Status:          models.StatusPtr(models.RequestStatusMining),
		TransactionHash: models.StringPtr(published.TransactionHash.Hex()),
		Nonce:           models.Uint64Ptr(published.Nonce),
	}
	// the nonce is consumed once the node accepted the transaction, so the
	// record must be written even when the pass is being cancelled
	if err := r.persist(context.WithoutCancel(ctx), req, update); err != nil {
		r.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"nonce":      published.Nonce,
			"tx_hash":    published.TransactionHash.Hex(),
			"error":      err.Error(),
		}).Error("[Reconciler] Transaction broadcast but not recorded")
		return cursor, err
	}
	result.Published++
	return published.Nonce + 1, nil
}

// persist writes update, refreshes req in place and emits the transition
func (r *Reconciler) persist(ctx context.Context, req *models.DelegateRequest, update models.RequestUpdate) error {
	previous := req.Status

	updated, err := r.store.UpdateStatus(ctx, req.ID, update)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if updated != nil {
		*req = *updated
	} else {
		update.Apply(req)
	}
	metrics.RequestTransitions.WithLabelValues(string(req.Status)).Inc()

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, NewRequestEvent(req, previous)); err != nil {
			r.logger.WithFields(logrus.Fields{
				"request_id": req.ID,
				"status":     req.Status,
				"error":      err.Error(),
			}).Warn("[Reconciler] Failed to notify transition")
		}
	}
	return nil
}
