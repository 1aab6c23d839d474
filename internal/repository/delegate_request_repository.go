// Package repository provides data access interfaces and implementations
package repository

import (
	"context"
	"errors"
	"fmt"

	"go-relayer/internal/metrics"
	"go-relayer/internal/models"
	"go-relayer/internal/relayer"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

var (
	// ErrNotFound no request with the given id
	ErrNotFound = errors.New("delegate request not found")
	// ErrDuplicateID a request with the same id already exists
	ErrDuplicateID = errors.New("delegate request id already exists")
)

// DelegateRequestRepository defines the interface for DelegateRequest data access
type DelegateRequestRepository interface {
	relayer.StoreAdapter

	// Basic CRUD operations
	Create(ctx context.Context, req *models.DelegateRequest) error
	GetByID(ctx context.Context, id string) (*models.DelegateRequest, error)

	// Query methods
	List(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.DelegateRequest, int64, error)
	CountByStatus(ctx context.Context) (map[models.RequestStatus]int64, error)

	// Confirm moves a request from new to confirmed; false when it was not new
	Confirm(ctx context.Context, id string) (bool, error)
}

// delegateRequestRepository implements DelegateRequestRepository
type delegateRequestRepository struct {
	db *gorm.DB
}

// NewDelegateRequestRepository creates a new DelegateRequestRepository instance
func NewDelegateRequestRepository(db *gorm.DB) DelegateRequestRepository {
	return &delegateRequestRepository{db: db}
}

func observe(queryType string) *prometheus.Timer {
	return prometheus.NewTimer(metrics.DBQueryDuration.WithLabelValues(queryType))
}

// Create inserts a request; Seq is assigned by the database
func (r *delegateRequestRepository) Create(ctx context.Context, req *models.DelegateRequest) error {
	defer observe("create").ObserveDuration()
	err := r.db.WithContext(ctx).Create(req).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, req.ID)
	}
	return err
}

// GetByID retrieves a request by its external id
func (r *delegateRequestRepository) GetByID(ctx context.Context, id string) (*models.DelegateRequest, error) {
	defer observe("get_by_id").ObserveDuration()

	var req models.DelegateRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// FindMined returns the mined request latest in natural order, nil when there is none
func (r *delegateRequestRepository) FindMined(ctx context.Context) (*models.DelegateRequest, error) {
	defer observe("find_mined").ObserveDuration()

	var req models.DelegateRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", models.RequestStatusMined).
		Order("seq DESC").
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// FindBacklog returns requests in natural order with one of statuses, starting at anchor inclusive
func (r *delegateRequestRepository) FindBacklog(ctx context.Context, anchor *models.DelegateRequest, statuses []models.RequestStatus) ([]*models.DelegateRequest, error) {
	defer observe("find_backlog").ObserveDuration()

	query := r.db.WithContext(ctx).Where("status IN ?", statuses)
	if anchor != nil {
		query = query.Where("seq >= ?", anchor.Seq)
	}

	var requests []*models.DelegateRequest
	err := query.Order("seq ASC").Find(&requests).Error
	return requests, err
}

// UpdateStatus applies update in a single statement and returns the stored row
func (r *delegateRequestRepository) UpdateStatus(ctx context.Context, id string, update models.RequestUpdate) (*models.DelegateRequest, error) {
	defer observe("update_status").ObserveDuration()

	if update.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	result := r.db.WithContext(ctx).
		Model(&models.DelegateRequest{}).
		Where("id = ?", id).
		Updates(update.Columns())
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update request %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// List retrieves requests in natural order, optionally filtered by status
func (r *delegateRequestRepository) List(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.DelegateRequest, int64, error) {
	defer observe("list").ObserveDuration()

	query := r.db.WithContext(ctx).Model(&models.DelegateRequest{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []*models.DelegateRequest
	err := query.
		Order("seq ASC").
		Limit(limit).
		Offset(offset).
		Find(&requests).Error
	return requests, total, err
}

// CountByStatus returns the number of requests per status; every known status is present
func (r *delegateRequestRepository) CountByStatus(ctx context.Context) (map[models.RequestStatus]int64, error) {
	defer observe("count_by_status").ObserveDuration()

	var rows []struct {
		Status models.RequestStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.DelegateRequest{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.RequestStatus]int64, len(models.AllRequestStatuses))
	for _, status := range models.AllRequestStatuses {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Confirm conditional new -> confirmed update
func (r *delegateRequestRepository) Confirm(ctx context.Context, id string) (bool, error) {
	defer observe("confirm").ObserveDuration()

	result := r.db.WithContext(ctx).
		Model(&models.DelegateRequest{}).
		Where("id = ? AND status = ?", id, models.RequestStatusNew).
		Update("status", models.RequestStatusConfirmed)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
