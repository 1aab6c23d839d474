package db

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultLeaseTTL lifetime of a lease row; longer than any single pass
const DefaultLeaseTTL = 10 * time.Minute

// ErrLockHeld another process holds the lock
var ErrLockHeld = errors.New("lock held by another process")

// PassLease lock row used when the driver has no advisory locks
type PassLease struct {
	Name      string    `gorm:"primaryKey;size:64"`
	Holder    string    `gorm:"size:64;not null"`
	ExpiresAt time.Time `gorm:"not null"`
}

func (PassLease) TableName() string {
	return "pass_leases"
}

// PassLock excludes reconciliation passes running in other processes against
// the same database.
//
// On postgres it is a session advisory lock held on a dedicated connection for
// the duration of fn, released by the server if the process dies. Other drivers
// use a pass_leases row that a new holder may take over once it expired.
type PassLock struct {
	db   *gorm.DB
	name string
	ttl  time.Duration
	log  logrus.FieldLogger
}

// NewPassLock creates a lock named name. ttl <= 0 uses DefaultLeaseTTL.
func NewPassLock(db *gorm.DB, name string, ttl time.Duration, log logrus.FieldLogger) *PassLock {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &PassLock{db: db, name: name, ttl: ttl, log: log}
}

// WithLock runs fn while holding the lock. It returns ErrLockHeld without
// running fn when another holder has it.
func (l *PassLock) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.db.Dialector.Name() == "postgres" {
		return l.withAdvisoryLock(ctx, fn)
	}
	return l.withLease(ctx, fn)
}

// advisoryKey stable 64-bit key for pg_try_advisory_lock
func (l *PassLock) advisoryKey() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("relayer:" + l.name))
	return int64(h.Sum64())
}

func (l *PassLock) withAdvisoryLock(ctx context.Context, fn func(ctx context.Context) error) error {
	key := l.advisoryKey()

	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var acquired bool
		if err := conn.Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&acquired).Error; err != nil {
			return fmt.Errorf("failed to acquire advisory lock: %w", err)
		}
		if !acquired {
			return ErrLockHeld
		}
		defer func() {
			var released bool
			err := conn.WithContext(context.WithoutCancel(ctx)).Raw("SELECT pg_advisory_unlock(?)", key).Scan(&released).Error
			if err != nil || !released {
				l.log.WithFields(logrus.Fields{"lock": l.name, "error": err}).Warn("[DB] Failed to release advisory lock")
			}
		}()
		return fn(ctx)
	})
}

func (l *PassLock) withLease(ctx context.Context, fn func(ctx context.Context) error) error {
	holder := uuid.NewString()
	now := time.Now().UTC()
	lease := PassLease{Name: l.name, Holder: holder, ExpiresAt: now.Add(l.ttl)}

	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&lease)
	if res.Error != nil {
		return fmt.Errorf("failed to acquire lease: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		res = l.db.WithContext(ctx).Model(&PassLease{}).
			Where("name = ? AND expires_at < ?", l.name, now).
			Updates(map[string]interface{}{"holder": holder, "expires_at": lease.ExpiresAt})
		if res.Error != nil {
			return fmt.Errorf("failed to take over expired lease: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrLockHeld
		}
		l.log.WithField("lock", l.name).Warn("[DB] Took over expired lease")
	}

	defer func() {
		err := l.db.WithContext(context.WithoutCancel(ctx)).
			Where("name = ? AND holder = ?", l.name, holder).
			Delete(&PassLease{}).Error
		if err != nil {
			l.log.WithFields(logrus.Fields{"lock": l.name, "error": err.Error()}).Warn("[DB] Failed to release lease")
		}
	}()
	return fn(ctx)
}
