package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/shwemill/millsync/internal/models"
	"github.com/shwemill/millsync/internal/sync"
)

// QueueStore is the GORM-backed durable mutation queue.
type QueueStore struct {
	db *gorm.DB
}

var _ sync.QueueStore = (*QueueStore)(nil)

// NewQueueStore wraps the database handle.
func NewQueueStore(db *gorm.DB) *QueueStore {
	return &QueueStore{db: db}
}

func (s *QueueStore) Enqueue(ctx context.Context, rec *models.MutationRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *QueueStore) Save(ctx context.Context, rec *models.MutationRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

func (s *QueueStore) Get(ctx context.Context, id string) (*models.MutationRecord, error) {
	var rec models.MutationRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *QueueStore) LoadOpen(ctx context.Context) ([]models.MutationRecord, error) {
	var recs []models.MutationRecord
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.MutationStatus{models.MutationPending, models.MutationSyncing}).
		Order("created_at ASC").
		Find(&recs).Error
	return recs, err
}

func (s *QueueStore) FindOpenFor(ctx context.Context, entityType models.EntityType, entityID uint, op models.MutationOp) (*models.MutationRecord, error) {
	var rec models.MutationRecord
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND operation = ? AND status IN ?",
			entityType, entityID, op,
			[]models.MutationStatus{models.MutationPending, models.MutationSyncing}).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *QueueStore) HasOpen(ctx context.Context, entityType models.EntityType, entityID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.MutationRecord{}).
		Where("entity_type = ? AND entity_id = ? AND status IN ?",
			entityType, entityID,
			[]models.MutationStatus{models.MutationPending, models.MutationSyncing}).
		Count(&count).Error
	return count > 0, err
}

func (s *QueueStore) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.MutationRecord{}).
		Where("status = ?", models.MutationPending).
		Count(&count).Error
	return count, err
}

func (s *QueueStore) FailedRecords(ctx context.Context) ([]models.MutationRecord, error) {
	var recs []models.MutationRecord
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.MutationStatus{models.MutationFailed, models.MutationConflict}).
		Order("updated_at DESC").
		Find(&recs).Error
	return recs, err
}

func (s *QueueStore) PurgeSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.MutationSynced, olderThan).
		Delete(&models.MutationRecord{})
	return res.RowsAffected, res.Error
}
