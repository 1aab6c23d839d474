package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-relayer/internal/metrics"
	"go-relayer/internal/models"
	"go-relayer/internal/relayer"
	"go-relayer/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidRequest the submitted request failed validation
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDuplicateRequest a request with the same id exists
	ErrDuplicateRequest = errors.New("request already exists")
	// ErrInvalidTransition the request is not in a status that allows the operation
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrRequestExpired the request expired before it was confirmed
	ErrRequestExpired = errors.New("request expired")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CreateRequestInput fields a client supplies for a new request
type CreateRequestInput struct {
	ID               string                `json:"id"`
	Signer           string                `json:"signer" binding:"required"`
	Context          models.RequestContext `json:"context"`
	Fee              string                `json:"fee"`
	SignatureOptions models.JSONB          `json:"signature_options"`
}

// RequestService request intake and authorization around the reconciler
type RequestService struct {
	repo         repository.DelegateRequestRepository
	expiryWindow time.Duration
	notifier     relayer.Notifier
	logger       logrus.FieldLogger
	now          func() time.Time
}

// NewRequestService creates a RequestService. notifier may be nil.
func NewRequestService(repo repository.DelegateRequestRepository, expiryWindow time.Duration, notifier relayer.Notifier, logger logrus.FieldLogger) *RequestService {
	return &RequestService{
		repo:         repo,
		expiryWindow: expiryWindow,
		notifier:     notifier,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores a new request with status new
func (s *RequestService) Create(ctx context.Context, input CreateRequestInput) (*models.DelegateRequest, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	} else if _, err := s.repo.GetByID(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.expiryWindow)
	if input.Context.Expiry != nil {
		expiresAt = input.Context.Expiry.UTC()
	}

	req := &models.DelegateRequest{
		ID:               id,
		Status:           models.RequestStatusNew,
		Signer:           common.HexToAddress(input.Signer).Hex(),
		Context:          input.Context,
		Fee:              input.Fee,
		SignatureOptions: input.SignatureOptions,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        expiresAt,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		// a concurrent create won the unique index after the lookup above
		if errors.Is(err, repository.ErrDuplicateID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
		}
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"contract":   req.Context.ContractAddress,
		"function":   req.Context.FunctionName,
	}).Info("[RequestService] Request created")
	s.notify(ctx, req, "")
	return req, nil
}

func validateInput(input CreateRequestInput) error {
	if !common.IsHexAddress(strings.TrimSpace(input.Signer)) {
		return fmt.Errorf("%w: signer %q is not an address", ErrInvalidRequest, input.Signer)
	}
	if !common.IsHexAddress(strings.TrimSpace(input.Context.ContractAddress)) {
		return fmt.Errorf("%w: contract address %q is not an address", ErrInvalidRequest, input.Context.ContractAddress)
	}
	if strings.TrimSpace(input.Context.FunctionName) == "" {
		return fmt.Errorf("%w: function name is required", ErrInvalidRequest)
	}
	if len(input.ID) > 64 {
		return fmt.Errorf("%w: id is longer than 64 characters", ErrInvalidRequest)
	}
	return nil
}

// Confirm authorizes a new request for publishing
func (s *RequestService) Confirm(ctx context.Context, id string) (*models.DelegateRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestStatusNew {
		return nil, fmt.Errorf("%w: request %s is %s", ErrInvalidTransition, id, req.Status)
	}
	if !req.ExpiresAt.IsZero() && s.now().After(req.ExpiresAt) {
		return nil, fmt.Errorf("%w: request %s expired at %s", ErrRequestExpired, id, req.ExpiresAt.Format(time.RFC3339))
	}

	ok, err := s.repo.Confirm(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm request: %w", err)
	}
	if !ok {
		// lost a race with another confirmation
		return nil, fmt.Errorf("%w: request %s is no longer new", ErrInvalidTransition, id)
	}

	confirmed, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.RequestTransitions.WithLabelValues(string(confirmed.Status)).Inc()
	s.logger.WithField("request_id", id).Info("[RequestService] Request confirmed")
	s.notify(ctx, confirmed, models.RequestStatusNew)
	return confirmed, nil
}

// Get returns one request
func (s *RequestService) Get(ctx context.Context, id string) (*models.DelegateRequest, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of requests in natural order, optionally filtered by status
func (s *RequestService) List(ctx context.Context, status string, limit, offset int) ([]*models.DelegateRequest, int64, error) {
	filter := models.RequestStatus(strings.TrimSpace(status))
	if filter != "" && !filter.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, filter, limit, offset)
}

// Stats request counts per status
func (s *RequestService) Stats(ctx context.Context) (map[models.RequestStatus]int64, error) {
	return s.repo.CountByStatus(ctx)
}

func (s *RequestService) notify(ctx context.Context, req *models.DelegateRequest, previous models.RequestStatus) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, relayer.NewRequestEvent(req, previous)); err != nil {
		s.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"error":      err.Error(),
		}).Warn("[RequestService] Failed to notify")
	}
}
