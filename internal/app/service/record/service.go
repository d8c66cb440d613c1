// Package record is the typed store adapter for persisted member
// subscription state. Every write is an independent idempotent upsert; no
// invariant spans more than one row, so there are no multi-statement
// transactions here.
package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quiethall/doorman/internal/models"
	"github.com/quiethall/doorman/pkg/tool"
	"github.com/quiethall/doorman/pkg/types"
)

var ErrRecordNotFound = errors.New("member record not found")

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

// Get returns the record for one member, or ErrRecordNotFound.
func (s *Service) Get(ctx context.Context, memberID string) (*models.MemberRecord, error) {
	var rec models.MemberRecord
	err := s.db.WithContext(ctx).Where("member_id = ?", memberID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get member record: %w", err)
	}
	return &rec, nil
}

// Upsert writes status and link deadline for a member, inserting the row if
// it does not exist yet. Used by the join handler.
func (s *Service) Upsert(ctx context.Context, memberID string, status types.SubscriptionStatus, linkDeadline *time.Time) error {
	rec := &models.MemberRecord{
		ID:           tool.GenerateUUIDV7(),
		MemberID:     memberID,
		Status:       status,
		LinkDeadline: linkDeadline,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "member_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"subscription_status", "link_deadline", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert member record: %w", err)
	}
	return nil
}

// Activate marks a member's subscription active, preserving the link deadline
// column: status is backend truth, the deadline is our enforcement clock.
func (s *Service) Activate(ctx context.Context, memberID string, subscriptionEnd *time.Time) error {
	rec := &models.MemberRecord{
		ID:              tool.GenerateUUIDV7(),
		MemberID:        memberID,
		Status:          types.SubscriptionStatusActive,
		SubscriptionEnd: subscriptionEnd,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "member_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"subscription_status", "subscription_end", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to activate member record: %w", err)
	}
	return nil
}

// UpsertIfAbsent inserts an unlinked row with the given deadline only when no
// row exists for the member. Returns whether a row was created. Used by the
// bulk registration command so existing state is never overwritten.
func (s *Service) UpsertIfAbsent(ctx context.Context, memberID string, deadline time.Time) (bool, error) {
	rec := &models.MemberRecord{
		ID:           tool.GenerateUUIDV7(),
		MemberID:     memberID,
		Status:       types.SubscriptionStatusUnlinked,
		LinkDeadline: &deadline,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "member_id"}},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, fmt.Errorf("failed to register member record: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SetDeadline moves the enforcement clock for an existing row.
func (s *Service) SetDeadline(ctx context.Context, memberID string, deadline time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.MemberRecord{}).
		Where("member_id = ?", memberID).
		Update("link_deadline", deadline).Error
	if err != nil {
		return fmt.Errorf("failed to set link deadline: %w", err)
	}
	return nil
}

// EntitledIDs returns the IDs of every member whose record classifies as
// entitled at now: status active, or cancelled with an unlapsed paid period.
// This is the safe set consulted before any demote or kick in a pass.
func (s *Service) EntitledIDs(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.MemberRecord{}).
		Where("subscription_status = ?", types.SubscriptionStatusActive).
		Or("subscription_status = ? AND subscription_end > ?", types.SubscriptionStatusCancelled, now).
		Pluck("member_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list entitled members: %w", err)
	}
	return ids, nil
}

// StreamIDs walks all member IDs in keyset-paginated batches so a scan never
// holds the whole table in memory. fn errors abort the walk.
func (s *Service) StreamIDs(ctx context.Context, batchSize int, fn func(memberID string) error) error {
	if batchSize <= 0 {
		batchSize = 200
	}
	var after string
	for {
		var ids []string
		err := s.db.WithContext(ctx).Model(&models.MemberRecord{}).
			Where("member_id > ?", after).
			Order("member_id").
			Limit(batchSize).
			Pluck("member_id", &ids).Error
		if err != nil {
			return fmt.Errorf("failed to stream member ids: %w", err)
		}
		for _, id := range ids {
			if err := fn(id); err != nil {
				return err
			}
		}
		if len(ids) < batchSize {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

// Dedupe removes duplicate rows per member_id, keeping the newest. The store
// historically allowed duplicates; the sweep self-heals old data and is run
// at startup and on demand.
func (s *Service) Dedupe(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Exec(`DELETE FROM member_records a USING member_records b
		WHERE a.ctid < b.ctid AND a.member_id = b.member_id`)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to dedupe member records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// WipeAll deletes every member record. Administrative reset only; the next
// scan pass or join event rebuilds rows from live state.
func (s *Service) WipeAll(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&models.MemberRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to wipe member records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SaveScanLog persists a completed pass summary. Failures are logged, not
// returned; losing a summary row must not fail a scan.
func (s *Service) SaveScanLog(ctx context.Context, entry *models.ScanLog) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = tool.GenerateUUIDV7()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.log.Errorf("failed to save scan log: %v", err)
	}
}

// RecentScanLogs returns the latest pass summaries, newest first.
func (s *Service) RecentScanLogs(ctx context.Context, limit int) ([]*models.ScanLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var logs []*models.ScanLog
	err := s.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scan logs: %w", err)
	}
	return logs, nil
}
