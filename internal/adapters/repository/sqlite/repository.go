package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hivescan/hivescan/internal/core/domain"
)

// Store persists scan records in a local SQLite database.
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening scan database: %w", err)
	}
	if err := db.AutoMigrate(&domain.Scan{}); err != nil {
		return nil, fmt.Errorf("migrating scan schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Create persists a new scan record with a store-assigned id and progress
// CREATED.
func (s *Store) Create(ctx context.Context, title, asset string) (*domain.Scan, error) {
	scan := &domain.Scan{
		ID:        uuid.New().String(),
		Title:     title,
		Asset:     asset,
		Progress:  domain.ScanProgressCreated,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(scan).Error; err != nil {
		return nil, err
	}
	return scan, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Scan, error) {
	var scan domain.Scan
	err := s.db.WithContext(ctx).First(&scan, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("scan %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

func (s *Store) ListAll(ctx context.Context) ([]*domain.Scan, error) {
	var scans []*domain.Scan
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&scans).Error; err != nil {
		return nil, err
	}
	return scans, nil
}

// UpdateProgress commits the new progress value immediately. Transition
// policy is the orchestrator's responsibility, not the store's.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress domain.ScanProgress) error {
	result := s.db.WithContext(ctx).Model(&domain.Scan{}).Where("id = ?", id).Update("progress", progress)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("scan %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
