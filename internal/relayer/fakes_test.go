package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go-relayer/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	testRelayer  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testContract = "0x00000000000000000000000000000000000000bb"
)

// memoryStore StoreAdapter backed by a slice in insertion order
type memoryStore struct {
	mu       sync.Mutex
	requests []*models.DelegateRequest
	nextSeq  uint64

	findMinedErr error
	backlogErr   error
	updateErr    error
	// backlog, when set, is returned by FindBacklog as is
	backlog []*models.DelegateRequest
	updates []models.RequestUpdate
}

func newMemoryStore() *memoryStore {
	return &memoryStore{nextSeq: 1}
}

func (s *memoryStore) add(id string, status models.RequestStatus, nonce *uint64, txHash string) *models.DelegateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := &models.DelegateRequest{
		Seq:             s.nextSeq,
		ID:              id,
		Status:          status,
		Nonce:           nonce,
		TransactionHash: txHash,
		Context: models.RequestContext{
			ContractAddress: testContract,
			FunctionName:    "execute",
			Arguments:       []string{id},
		},
	}
	s.nextSeq++
	s.requests = append(s.requests, req)
	return req
}

func (s *memoryStore) get(id string) *models.DelegateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.ID == id {
			copied := *req
			return &copied
		}
	}
	return nil
}

func (s *memoryStore) FindMined(ctx context.Context) (*models.DelegateRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findMinedErr != nil {
		return nil, s.findMinedErr
	}
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Status == models.RequestStatusMined {
			copied := *s.requests[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) FindBacklog(ctx context.Context, anchor *models.DelegateRequest, statuses []models.RequestStatus) ([]*models.DelegateRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backlogErr != nil {
		return nil, s.backlogErr
	}
	if s.backlog != nil {
		return s.backlog, nil
	}

	var out []*models.DelegateRequest
	for _, req := range s.requests {
		if anchor != nil && req.Seq < anchor.Seq {
			continue
		}
		for _, status := range statuses {
			if req.Status == status {
				copied := *req
				out = append(out, &copied)
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, id string, update models.RequestUpdate) (*models.DelegateRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	for _, req := range s.requests {
		if req.ID == id {
			update.Apply(req)
			s.updates = append(s.updates, update)
			copied := *req
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("request %s not found", id)
}

type submission struct {
	call  ContractCall
	nonce uint64
}

// fakeGateway ChainGateway with a scripted chain. Nonces below pendingNonce or
// already accepted are rejected as "nonce too low".
type fakeGateway struct {
	mu sync.Mutex

	pendingNonce    uint64
	pendingNonceErr error
	receipts        map[common.Hash]*ChainReceipt
	receiptErr      error
	txNonces        map[common.Hash]uint64
	txErr           error

	used        map[uint64]bool
	submitErrs  map[uint64]error
	callErrs    map[string]error
	submitErr   error
	submissions []submission
	// onSubmit runs before the submission is evaluated
	onSubmit func(nonce uint64)
}

func newFakeGateway(pendingNonce uint64) *fakeGateway {
	return &fakeGateway{
		pendingNonce: pendingNonce,
		receipts:     make(map[common.Hash]*ChainReceipt),
		txNonces:     make(map[common.Hash]uint64),
		used:         make(map[uint64]bool),
		submitErrs:   make(map[uint64]error),
		callErrs:     make(map[string]error),
	}
}

func (g *fakeGateway) PendingNonce(ctx context.Context, address common.Address) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pendingNonceErr != nil {
		return 0, g.pendingNonceErr
	}
	return g.pendingNonce, nil
}

func (g *fakeGateway) Receipt(ctx context.Context, hash common.Hash) (*ChainReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.receiptErr != nil {
		return nil, g.receiptErr
	}
	return g.receipts[hash], nil
}

func (g *fakeGateway) Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.txErr != nil {
		return nil, g.txErr
	}
	nonce, ok := g.txNonces[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return types.NewTx(&types.LegacyTx{Nonce: nonce}), nil
}

func (g *fakeGateway) Submit(ctx context.Context, call ContractCall, nonce uint64) (common.Hash, error) {
	if g.onSubmit != nil {
		g.onSubmit(nonce)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.submissions = append(g.submissions, submission{call: call, nonce: nonce})

	if len(call.Arguments) > 0 {
		if err, ok := g.callErrs[call.Arguments[0]]; ok {
			return common.Hash{}, err
		}
	}
	if err, ok := g.submitErrs[nonce]; ok {
		return common.Hash{}, err
	}
	if g.submitErr != nil {
		return common.Hash{}, g.submitErr
	}
	if nonce < g.pendingNonce || g.used[nonce] {
		return common.Hash{}, NewChainError(errors.New("nonce too low"))
	}
	g.used[nonce] = true
	return hashForNonce(nonce), nil
}

func (g *fakeGateway) submittedNonces() []uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uint64, 0, len(g.submissions))
	for _, s := range g.submissions {
		out = append(out, s.nonce)
	}
	return out
}

func hashForNonce(nonce uint64) common.Hash {
	return common.HexToHash(fmt.Sprintf("0xfeed%060x", nonce))
}
