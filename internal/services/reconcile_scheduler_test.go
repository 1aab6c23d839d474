package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-relayer/internal/db"
	"go-relayer/internal/relayer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (r *blockingRunner) RunPass(ctx context.Context) (*relayer.PassResult, error) {
	n := r.calls.Add(1)
	r.started <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	return &relayer.PassResult{StartNonce: uint64(n), EndNonce: uint64(n) + 1, Processed: 1}, nil
}

type instantRunner struct {
	calls atomic.Int32
	err   error
}

func (r *instantRunner) RunPass(ctx context.Context) (*relayer.PassResult, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &relayer.PassResult{}, nil
}

// deadlineRunner records whether its pass context carried a deadline
type deadlineRunner struct {
	hasDeadline atomic.Bool
}

func (r *deadlineRunner) RunPass(ctx context.Context) (*relayer.PassResult, error) {
	_, ok := ctx.Deadline()
	r.hasDeadline.Store(ok)
	return &relayer.PassResult{}, ctx.Err()
}

type fakePassLock struct {
	held  bool
	calls atomic.Int32
}

func (l *fakePassLock) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	l.calls.Add(1)
	if l.held {
		return db.ErrLockHeld
	}
	return fn(ctx)
}

type fakeBalance struct {
	calls atomic.Int32
}

func (b *fakeBalance) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

func (b *fakeBalance) Balance(ctx context.Context) (*big.Int, error) {
	b.calls.Add(1)
	return big.NewInt(1_000_000_000), nil
}

type capturingSubscriber struct {
	subject string
	handler nats.MsgHandler
	err     error
}

func (s *capturingSubscriber) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.subject = subject
	s.handler = cb
	return nil, nil
}

func TestReconcileScheduler_TriggerRejectsOverlap(t *testing.T) {
	runner := newBlockingRunner()
	scheduler := NewReconcileScheduler(runner, time.Hour, nil, "test", quietLogger())
	defer scheduler.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	var firstResult *relayer.PassResult
	var firstErr error
	go func() {
		defer wg.Done()
		firstResult, firstErr = scheduler.Trigger()
	}()

	<-runner.started
	_, err := scheduler.Trigger()
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(runner.release)
	wg.Wait()
	require.NoError(t, firstErr)
	require.NotNil(t, firstResult)
	assert.Equal(t, int32(1), runner.calls.Load())

	status := scheduler.LastStatus()
	require.NotNil(t, status)
	assert.Equal(t, "manual", status.Trigger)
	assert.Empty(t, status.Error)
	assert.Equal(t, 1, status.Result.Processed)

	// the lock is free again
	_, err = scheduler.Trigger()
	require.NoError(t, err)
	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestReconcileScheduler_RecordsErrorsAndBalance(t *testing.T) {
	runner := &instantRunner{err: errors.New("rpc down")}
	balance := &fakeBalance{}
	scheduler := NewReconcileScheduler(runner, time.Hour, balance, "test", quietLogger())
	defer scheduler.Stop()

	assert.Nil(t, scheduler.LastStatus())

	_, err := scheduler.Trigger()
	require.Error(t, err)

	status := scheduler.LastStatus()
	require.NotNil(t, status)
	assert.Equal(t, "rpc down", status.Error)
	assert.Nil(t, status.Result)
	assert.Equal(t, int32(1), balance.calls.Load())
}

func TestReconcileScheduler_StartRunsImmediately(t *testing.T) {
	runner := &instantRunner{}
	scheduler := NewReconcileScheduler(runner, time.Hour, nil, "test", quietLogger())
	scheduler.Start()

	require.Eventually(t, func() bool {
		return runner.calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	scheduler.Stop()
	status := scheduler.LastStatus()
	require.NotNil(t, status)
	assert.Equal(t, "ticker", status.Trigger)
}

func TestReconcileScheduler_TickerKeepsRunning(t *testing.T) {
	runner := &instantRunner{}
	scheduler := NewReconcileScheduler(runner, 20*time.Millisecond, nil, "test", quietLogger())
	scheduler.Start()
	defer scheduler.Stop()

	require.Eventually(t, func() bool {
		return runner.calls.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconcileScheduler_StopCancelsRunningPass(t *testing.T) {
	runner := newBlockingRunner()
	scheduler := NewReconcileScheduler(runner, time.Hour, nil, "test", quietLogger())
	scheduler.Start()
	<-runner.started

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a pass was running")
	}

	status := scheduler.LastStatus()
	require.NotNil(t, status)
	assert.Equal(t, context.Canceled.Error(), status.Error)
}

func TestReconcileScheduler_SubscribeTrigger(t *testing.T) {
	runner := &instantRunner{}
	scheduler := NewReconcileScheduler(runner, time.Hour, nil, "test", quietLogger())
	defer scheduler.Stop()

	sub := &capturingSubscriber{}
	require.NoError(t, scheduler.SubscribeTrigger(sub, "relayer.reconcile"))
	assert.Equal(t, "relayer.reconcile", sub.subject)
	require.NotNil(t, sub.handler)

	// fire and forget message, no reply subject
	sub.handler(&nats.Msg{Subject: "relayer.reconcile"})
	assert.Equal(t, int32(1), runner.calls.Load())

	status := scheduler.LastStatus()
	require.NotNil(t, status)
	assert.Equal(t, "nats", status.Trigger)
}

func TestReconcileScheduler_SubscribeTriggerError(t *testing.T) {
	scheduler := NewReconcileScheduler(&instantRunner{}, time.Hour, nil, "test", quietLogger())
	defer scheduler.Stop()

	err := scheduler.SubscribeTrigger(&capturingSubscriber{err: nats.ErrConnectionClosed}, "relayer.reconcile")
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}

func TestReconcileScheduler_TriggerRunsOnSchedulerContext(t *testing.T) {
	runner := &deadlineRunner{}
	scheduler := NewReconcileScheduler(runner, time.Hour, nil, "test", quietLogger())
	defer scheduler.Stop()

	_, err := scheduler.Trigger()
	require.NoError(t, err)
	assert.True(t, runner.hasDeadline.Load())
}

func TestReconcileScheduler_PassLockHeldElsewhere(t *testing.T) {
	runner := &instantRunner{}
	lock := &fakePassLock{held: true}
	scheduler := NewReconcileScheduler(runner, time.Hour, nil, "test", quietLogger())
	scheduler.SetPassLock(lock)
	defer scheduler.Stop()

	_, err := scheduler.Trigger()
	assert.ErrorIs(t, err, ErrPassInProgress)
	assert.Zero(t, runner.calls.Load())
	assert.Nil(t, scheduler.LastStatus())

	lock.held = false
	_, err = scheduler.Trigger()
	require.NoError(t, err)
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, int32(2), lock.calls.Load())
}

func TestReconcileScheduler_StopIsIdempotent(t *testing.T) {
	runner := &instantRunner{}
	scheduler := NewReconcileScheduler(runner, time.Hour, nil, "test", quietLogger())
	scheduler.Start()
	require.Eventually(t, func() bool {
		return runner.calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.NotPanics(t, func() {
		scheduler.Stop()
		scheduler.Stop()
	})

	// a stopped scheduler does not start again
	scheduler.Start()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestReconcileScheduler_ConcurrentStartStop(t *testing.T) {
	scheduler := NewReconcileScheduler(&instantRunner{}, time.Hour, nil, "test", quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			scheduler.Start()
		}()
		go func() {
			defer wg.Done()
			scheduler.Stop()
		}()
	}
	wg.Wait()
}
