// Reconcile Scheduler
// Runs reconciliation passes on a ticker and on demand, never two at a time
package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"go-relayer/internal/db"
	"go-relayer/internal/metrics"
	"go-relayer/internal/relayer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// ErrPassInProgress a pass is already running
var ErrPassInProgress = errors.New("reconciliation pass already in progress")

// PassRunner runs one reconciliation pass; *relayer.Reconciler
type PassRunner interface {
	RunPass(ctx context.Context) (*relayer.PassResult, error)
}

// BalanceSource reports the relayer wallet balance; *clients.EthGateway
type BalanceSource interface {
	Address() common.Address
	Balance(ctx context.Context) (*big.Int, error)
}

// TriggerSubscriber the subscribing half of *nats.Conn
type TriggerSubscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// PassLock keeps passes of other processes out; *db.PassLock
type PassLock interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error) error
}

// PassStatus outcome of the most recent pass
type PassStatus struct {
	Result     *relayer.PassResult `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
	Trigger    string              `json:"trigger"`
	FinishedAt time.Time           `json:"finished_at"`
}

// ReconcileScheduler owns the no-overlap guarantee: every pass, whatever triggered
// it, runs under passMu acquired with TryLock and, when set, the PassLock shared
// with other processes.
//
// Passes run on the scheduler's own context bounded by passTimeout; only Stop
// cancels them.
type ReconcileScheduler struct {
	runner      PassRunner
	interval    time.Duration
	passTimeout time.Duration
	balance     BalanceSource
	chainLabel  string
	logger      logrus.FieldLogger

	passMu sync.Mutex
	lock   PassLock

	statusMu sync.RWMutex
	last     *PassStatus

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	sub         *nats.Subscription
	started     bool
	stopped     bool
}

// NewReconcileScheduler creates a scheduler. balance may be nil.
func NewReconcileScheduler(runner PassRunner, interval time.Duration, balance BalanceSource, chainLabel string, logger logrus.FieldLogger) *ReconcileScheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReconcileScheduler{
		runner:      runner,
		interval:    interval,
		passTimeout: 5 * time.Minute,
		balance:     balance,
		chainLabel:  chainLabel,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		stopChan:    make(chan struct{}),
	}
}

// SetPassLock adds cross-process exclusion; call before Start
func (s *ReconcileScheduler) SetPassLock(lock PassLock) {
	s.lock = lock
}

// Start runs a pass immediately and then every interval until Stop. It is a
// no-op once started or stopped.
func (s *ReconcileScheduler) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	s.logger.WithField("interval", s.interval.String()).Info("[Scheduler] Reconcile scheduler starting")
	s.wg.Add(1)
	go s.run()
}

func (s *ReconcileScheduler) run() {
	defer s.wg.Done()

	s.runScheduled()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runScheduled()
		case <-s.stopChan:
			s.logger.Info("[Scheduler] Reconcile loop stopped")
			return
		}
	}
}

func (s *ReconcileScheduler) runScheduled() {
	// pass errors are logged by the reconciler
	if _, err := s.trigger("ticker"); errors.Is(err, ErrPassInProgress) {
		s.logger.Debug("[Scheduler] Another pass is running, tick skipped")
	}
}

// Trigger runs one pass now and waits for it, or returns ErrPassInProgress when
// one is running here or in another process
func (s *ReconcileScheduler) Trigger() (*relayer.PassResult, error) {
	return s.trigger("manual")
}

func (s *ReconcileScheduler) trigger(source string) (*relayer.PassResult, error) {
	if !s.passMu.TryLock() {
		metrics.PassesRejected.Inc()
		return nil, ErrPassInProgress
	}
	defer s.passMu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.passTimeout)
	defer cancel()

	result, err := s.runPass(ctx)
	if errors.Is(err, ErrPassInProgress) {
		metrics.PassesRejected.Inc()
		s.logger.WithField("trigger", source).Info("[Scheduler] Pass held by another process")
		return nil, err
	}

	status := &PassStatus{Result: result, Trigger: source, FinishedAt: time.Now().UTC()}
	if err != nil {
		status.Error = err.Error()
	}
	s.statusMu.Lock()
	s.last = status
	s.statusMu.Unlock()

	s.updateBalance(ctx)
	return result, err
}

func (s *ReconcileScheduler) runPass(ctx context.Context) (*relayer.PassResult, error) {
	if s.lock == nil {
		return s.runner.RunPass(ctx)
	}

	var result *relayer.PassResult
	err := s.lock.WithLock(ctx, func(ctx context.Context) error {
		var runErr error
		result, runErr = s.runner.RunPass(ctx)
		return runErr
	})
	if errors.Is(err, db.ErrLockHeld) {
		return nil, ErrPassInProgress
	}
	return result, err
}

// SubscribeTrigger runs a pass for every message on subject
func (s *ReconcileScheduler) SubscribeTrigger(subscriber TriggerSubscriber, subject string) error {
	sub, err := subscriber.Subscribe(subject, func(msg *nats.Msg) {
		_, err := s.trigger("nats")
		if msg.Reply != "" {
			reply := "ok"
			if errors.Is(err, ErrPassInProgress) {
				reply = "busy"
			} else if err != nil {
				reply = "error: " + err.Error()
			}
			if respondErr := msg.Respond([]byte(reply)); respondErr != nil {
				s.logger.WithError(respondErr).Warn("[Scheduler] Failed to reply to trigger")
			}
		}
	})
	if err != nil {
		return err
	}

	s.lifecycleMu.Lock()
	stopped := s.stopped
	if !stopped {
		s.sub = sub
	}
	s.lifecycleMu.Unlock()
	if stopped {
		_ = sub.Unsubscribe()
		return errors.New("scheduler stopped")
	}
	s.logger.WithField("subject", subject).Info("[Scheduler] Listening for reconcile triggers")
	return nil
}

// LastStatus outcome of the most recent pass, nil before the first one
func (s *ReconcileScheduler) LastStatus() *PassStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	if s.last == nil {
		return nil
	}
	copied := *s.last
	return &copied
}

func (s *ReconcileScheduler) updateBalance(ctx context.Context) {
	if s.balance == nil {
		return
	}
	balance, err := s.balance.Balance(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("[Scheduler] Failed to read relayer balance")
		return
	}
	wei, _ := new(big.Float).SetInt(balance).Float64()
	metrics.RelayerBalance.WithLabelValues(s.chainLabel, s.balance.Address().Hex()).Set(wei)
}

// Stop stops the ticker, cancels a running pass and waits for the loop to exit.
// Calls after the first return immediately.
func (s *ReconcileScheduler) Stop() {
	s.lifecycleMu.Lock()
	if s.stopped {
		s.lifecycleMu.Unlock()
		return
	}
	s.stopped = true
	started, sub := s.started, s.sub
	s.sub = nil
	s.lifecycleMu.Unlock()

	s.logger.Info("[Scheduler] Stopping reconcile scheduler...")
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.WithError(err).Warn("[Scheduler] Failed to unsubscribe trigger")
		}
	}
	s.cancel()
	if started {
		close(s.stopChan)
		s.wg.Wait()
	}
	s.logger.Info("[Scheduler] Reconcile scheduler stopped")
}
