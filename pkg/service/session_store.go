package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/flowpilot/flowpilot/pkg/db"
	"github.com/flowpilot/flowpilot/pkg/models"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

// SessionStore persists sessions with their branches and comparison
// history.
type SessionStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewSessionStore(database *gorm.DB) *SessionStore {
	return &SessionStore{db: database, logger: utils.GetLogger()}
}

// Save replaces the stored state of one session.
func (s *SessionStore) Save(ctx context.Context, snap *SessionSnapshot) error {
	id := snap.Record.ID
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&snap.Record).Error; err != nil {
			return fmt.Errorf("save session %s: %w", id, err)
		}

		if err := tx.Where("session_id = ?", id).Delete(&db.Branch{}).Error; err != nil {
			return err
		}
		if len(snap.Branches.Branches) > 0 {
			branches := make([]db.Branch, 0, len(snap.Branches.Branches))
			for _, b := range snap.Branches.Branches {
				row := *b
				row.SessionID = id
				branches = append(branches, row)
			}
			if err := tx.Create(&branches).Error; err != nil {
				return fmt.Errorf("save branches of %s: %w", id, err)
			}
		}

		if err := tx.Where("session_id = ?", id).Delete(&db.ComparisonEntry{}).Error; err != nil {
			return err
		}
		if len(snap.Comparisons) > 0 {
			entries := make([]db.ComparisonEntry, 0, len(snap.Comparisons))
			for _, e := range snap.Comparisons {
				row := *e
				row.SessionID = id
				entries = append(entries, row)
			}
			if err := tx.Create(&entries).Error; err != nil {
				return fmt.Errorf("save comparisons of %s: %w", id, err)
			}
		}
		return nil
	})
}

// Load reads one session.
func (s *SessionStore) Load(ctx context.Context, id string) (*SessionSnapshot, error) {
	tx := s.db.WithContext(ctx)

	var record db.Session
	if err := tx.First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var branches []db.Branch
	if err := tx.Where("session_id = ?", id).Order("seq ASC").Find(&branches).Error; err != nil {
		return nil, err
	}
	var entries []db.ComparisonEntry
	if err := tx.Where("session_id = ?", id).Order("seq ASC").Find(&entries).Error; err != nil {
		return nil, err
	}

	snap := &SessionSnapshot{
		Record:   record,
		Branches: BranchSnapshot{ActiveBranchID: record.ActiveBranchID},
	}
	for i := range branches {
		snap.Branches.Branches = append(snap.Branches.Branches, &branches[i])
	}
	for i := range entries {
		snap.Comparisons = append(snap.Comparisons, &entries[i])
	}
	return snap, nil
}

// List returns all stored sessions, most recently updated first.
func (s *SessionStore) List(ctx context.Context) ([]models.SessionSummary, error) {
	var records []db.Session
	if err := s.db.WithContext(ctx).Select("id", "title", "updated_at").
		Order("updated_at DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]models.SessionSummary, 0, len(records))
	for _, r := range records {
		out = append(out, models.SessionSummary{ID: r.ID, Title: r.Title})
	}
	return out, nil
}

// Delete removes a session and everything it owns.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&db.ComparisonEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&db.Branch{}).Error; err != nil {
			return err
		}
		return tx.Delete(&db.Session{}, "id = ?", id).Error
	})
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
