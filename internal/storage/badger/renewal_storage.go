package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DefaultRenewalRetention is the number of renewal records kept on disk
const DefaultRenewalRetention = 500

// RenewalStorage implements the RenewalStorage interface for Badger
type RenewalStorage struct {
	db        *BadgerDB
	logger    arbor.ILogger
	retention int
}

var _ interfaces.RenewalStorage = (*RenewalStorage)(nil)

// NewRenewalStorage creates a new RenewalStorage instance.
// retention <= 0 uses DefaultRenewalRetention.
func NewRenewalStorage(db *BadgerDB, logger arbor.ILogger, retention int) *RenewalStorage {
	if retention <= 0 {
		retention = DefaultRenewalRetention
	}
	return &RenewalStorage{
		db:        db,
		logger:    logger,
		retention: retention,
	}
}

// SaveRenewal inserts or replaces a record keyed by its ID and prunes the oldest beyond retention
func (s *RenewalStorage) SaveRenewal(ctx context.Context, record *models.RenewalRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("renewal record ID is required")
	}

	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save renewal %s: %w", record.ID, err)
	}

	return s.prune()
}

// ListRenewals returns up to limit records, newest first. limit <= 0 returns all.
func (s *RenewalStorage) ListRenewals(ctx context.Context, limit int) ([]*models.RenewalRecord, error) {
	records, err := s.all()
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	result := make([]*models.RenewalRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// all loads every record sorted by StartedAt descending
func (s *RenewalStorage) all() ([]models.RenewalRecord, error) {
	var records []models.RenewalRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list renewals: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	return records, nil
}

func (s *RenewalStorage) prune() error {
	records, err := s.all()
	if err != nil {
		return err
	}
	if len(records) <= s.retention {
		return nil
	}

	for _, stale := range records[s.retention:] {
		if err := s.db.Store().Delete(stale.ID, models.RenewalRecord{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to prune renewal %s: %w", stale.ID, err)
		}
	}

	s.logger.Debug().
		Int("pruned", len(records)-s.retention).
		Int("retention", s.retention).
		Msg("Pruned renewal history")
	return nil
}
