package relayer

import (
	"context"
	"errors"
	"testing"

	"go-relayer/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest(id string) *models.DelegateRequest {
	return &models.DelegateRequest{
		ID:     id,
		Status: models.RequestStatusConfirmed,
		Context: models.RequestContext{
			ContractAddress: testContract,
			FunctionName:    "execute",
			Arguments:       []string{id},
		},
	}
}

func TestPublisher_SubmitsWithCandidateNonce(t *testing.T) {
	gw := newFakeGateway(3)
	p := NewPublisher(gw, 0, quietLogger())

	res, err := p.Publish(context.Background(), testRequest("a"), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Nonce)
	assert.Equal(t, hashForNonce(3), res.TransactionHash)

	require.Len(t, gw.submissions, 1)
	assert.Equal(t, "execute", gw.submissions[0].call.Function)
	assert.Equal(t, []string{"a"}, gw.submissions[0].call.Arguments)
}

func TestPublisher_RetriesOnNonceConflict(t *testing.T) {
	gw := newFakeGateway(10)
	gw.used[10] = true
	p := NewPublisher(gw, 0, quietLogger())

	res, err := p.Publish(context.Background(), testRequest("a"), 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), res.Nonce)
	assert.Equal(t, []uint64{10, 11}, gw.submittedNonces())
}

func TestPublisher_RetriesOnReplacementUnderpriced(t *testing.T) {
	gw := newFakeGateway(0)
	gw.submitErrs[4] = NewChainError(errors.New("replacement transaction underpriced"))
	p := NewPublisher(gw, 0, quietLogger())

	res, err := p.Publish(context.Background(), testRequest("a"), 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.Nonce)
}

func TestPublisher_OtherErrorReturnedUnmodified(t *testing.T) {
	gw := newFakeGateway(0)
	reverted := NewChainError(errors.New("execution reverted"))
	gw.submitErr = reverted
	p := NewPublisher(gw, 0, quietLogger())

	_, err := p.Publish(context.Background(), testRequest("a"), 0)
	require.Error(t, err)
	assert.Same(t, reverted, err)
	assert.Len(t, gw.submissions, 1)
}

func TestPublisher_BoundedAttempts(t *testing.T) {
	gw := newFakeGateway(100)
	p := NewPublisher(gw, 3, quietLogger())

	_, err := p.Publish(context.Background(), testRequest("a"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonceAttemptsExhausted)
	assert.Equal(t, []uint64{1, 2, 3}, gw.submittedNonces())
}

func TestPublisher_InvalidContextNeverSubmits(t *testing.T) {
	gw := newFakeGateway(0)
	p := NewPublisher(gw, 0, quietLogger())

	req := testRequest("a")
	req.Context.ContractAddress = "not-an-address"
	_, err := p.Publish(context.Background(), req, 0)
	require.Error(t, err)

	req = testRequest("b")
	req.Context.FunctionName = " "
	_, err = p.Publish(context.Background(), req, 0)
	require.Error(t, err)

	assert.Empty(t, gw.submissions)
}

func TestPublisher_StopsOnCancelledContext(t *testing.T) {
	gw := newFakeGateway(50)
	p := NewPublisher(gw, 0, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	gw.onSubmit = func(nonce uint64) {
		if nonce == 2 {
			cancel()
		}
	}

	_, err := p.Publish(ctx, testRequest("a"), 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []uint64{0, 1, 2}, gw.submittedNonces())
}
